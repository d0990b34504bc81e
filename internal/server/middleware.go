package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/snapbooth/internal/booth"
	"github.com/playperu/snapbooth/internal/runtime"
)

type ctxKey int

const (
	ctxKeyStore ctxKey = iota
	ctxKeyClient
	ctxKeyAdmin
	ctxKeyGuest
)

// guest is the session a request acts on, with its live runtime.
type guest struct {
	Session booth.Session
	Runtime *runtime.Runtime
}

func clientMiddleware(clients *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug := chi.URLParam(r, "client")
			if slug == "" {
				writeError(w, http.StatusNotFound, "client not found")
				return
			}

			store, err := clients.Get(r.Context(), slug)
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, "client not found")
				return
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyStore, Store(store))
			ctx = context.WithValue(ctx, ctxKeyClient, slug)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func adminAuthMiddleware(admin *AdminStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := adminFromRequest(r, admin)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyAdmin, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// guestMiddleware resolves the session token and attaches the session's
// runtime. Must run after clientMiddleware.
func guestMiddleware(hub *Hub) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store := clientStore(r)
			sess, err := store.SessionByToken(r.Context(), sessionToken(r))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid session token")
				return
			}
			if sess.Status == booth.SessionAbandoned {
				writeError(w, http.StatusGone, "session has ended")
				return
			}

			rt, err := hub.Runtime(r.Context(), clientSlug(r), store, sess)
			if err != nil {
				writeRuntimeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyGuest, guest{Session: sess, Runtime: rt})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientStore(r *http.Request) Store {
	return r.Context().Value(ctxKeyStore).(Store)
}

func clientSlug(r *http.Request) string {
	return r.Context().Value(ctxKeyClient).(string)
}

func adminFrom(r *http.Request) adminSession {
	return r.Context().Value(ctxKeyAdmin).(adminSession)
}

func guestFrom(r *http.Request) guest {
	return r.Context().Value(ctxKeyGuest).(guest)
}
