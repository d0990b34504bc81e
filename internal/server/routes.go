package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	admin, clients, hub := deps.Admin, deps.Clients, deps.Hub

	r.Get("/openapi.json", handleOpenAPI())
	r.Get("/docs", handleSwaggerUI())
	r.Get("/docs/*", handleSwaggerUI())
	r.Get("/healthz", handleHealth(logger, deps.Checks))

	// Guest routes: {client} resolved by clientMiddleware, the session by
	// its bearer token.
	r.Route("/api/{client}", func(r chi.Router) {
		r.Use(clientMiddleware(clients))
		r.Get("/experiences/{id}", handleGetExperience())
		r.Post("/sessions", handleStartSession(hub))

		r.Route("/session", func(r chi.Router) {
			r.Use(guestMiddleware(hub))
			r.Get("/", handleGetSession())
			r.Put("/responses/{stepId}", handleSubmitResponse())
			r.Post("/next", handleNext())
			r.Post("/previous", handlePrevious())
			r.Post("/back", handleBack())
			r.Post("/exit", handleExit())
			r.Post("/retry", handleRetry())
			r.Post("/goto", handleGoTo())
			r.Get("/events", handleEvents())
			r.Get("/ws", handleSessionWS(logger))
		})
	})

	// Admin auth, shared DB.
	r.Post("/api/admin/login", handleAdminLogin(admin))
	r.Post("/api/admin/logout", handleAdminLogout(admin, logger))
	r.Get("/api/admin/me", handleAdminMe(admin))

	r.Route("/api/admin/clients", func(r chi.Router) {
		r.Use(adminAuthMiddleware(admin))
		r.Get("/", handleAdminListClients(admin))
		r.Post("/", handleAdminCreateClient(admin, clients))

		// Per-client experiences.
		r.Route("/{client}/experiences", func(r chi.Router) {
			r.Use(clientMiddleware(clients))
			r.Get("/", handleAdminListExperiences())
			r.Post("/", handleAdminImportExperience())
			r.Get("/{id}", handleAdminGetExperience())
			r.Delete("/{id}", handleAdminDeleteExperience())
			r.Post("/{id}/preview", handleAdminPreview(hub))
		})
	})

	if deps.SPADir != "" {
		if info, err := os.Stat(deps.SPADir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", deps.SPADir)
			r.NotFound(handleSPA(deps.SPADir))
		}
	}
}
