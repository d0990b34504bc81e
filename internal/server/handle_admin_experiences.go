package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/snapbooth/internal/booth"
	"github.com/playperu/snapbooth/internal/experience"
)

const maxDefinitionBytes = 1 << 20

// AdminClientRequest is the request body for POST /api/admin/clients.
type AdminClientRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// ImportResponse is returned by experience import. Warnings do not block
// the import; errors do.
type ImportResponse struct {
	Experience *booth.Experience             `json:"experience,omitempty"`
	Problems   []*experience.ValidationError `json:"problems"`
}

func handleAdminListClients(admin *AdminStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients, err := admin.ListClients(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, clients)
	}
}

func handleAdminCreateClient(admin *AdminStore, clients *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AdminClientRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Slug = strings.TrimSpace(strings.ToLower(req.Slug))
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			req.Name = req.Slug
		}

		c, err := admin.CreateClient(r.Context(), req.Slug, req.Name)
		switch {
		case errors.Is(err, errInvalidSlug):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case errors.Is(err, ErrConflict):
			writeError(w, http.StatusConflict, "client already exists")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if _, err := clients.Create(r.Context(), c.Slug); err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func handleAdminListExperiences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := clientStore(r).ListExperiences(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// handleAdminImportExperience accepts a YAML or JSON definition.
func handleAdminImportExperience() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		data, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(data) > maxDefinitionBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "definition is too large")
			return
		}

		exp, problems := experience.Check(data)
		if problems == nil {
			problems = []*experience.ValidationError{}
		}
		if experience.HasErrors(problems) {
			writeJSON(w, http.StatusUnprocessableEntity, ImportResponse{Problems: problems})
			return
		}

		saved, err := clientStore(r).CreateExperience(r.Context(), exp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusCreated, ImportResponse{Experience: saved, Problems: problems})
	}
}

func handleAdminGetExperience() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp, err := clientStore(r).GetExperience(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "experience not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, exp)
	}
}

func handleAdminDeleteExperience() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := clientStore(r).DeleteExperience(r.Context(), chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, ErrNotFound):
			writeError(w, http.StatusNotFound, "experience not found")
		case errors.Is(err, ErrConflict):
			writeError(w, http.StatusConflict, "experience has active sessions")
		case err != nil:
			writeError(w, http.StatusInternalServerError, "internal error")
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}

// handleAdminPreview starts a preview session. Preview sessions run drafts
// too and allow jumping between steps.
func handleAdminPreview(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		store := clientStore(r)
		exp, err := store.GetExperience(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "experience not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		startSession(w, r, hub, store, exp.ID, booth.ModePreview)
	}
}
