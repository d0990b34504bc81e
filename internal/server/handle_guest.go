package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/snapbooth/internal/booth"
	"github.com/playperu/snapbooth/internal/runtime"
)

// StartSessionRequest is the request body for POST /api/{client}/sessions.
type StartSessionRequest struct {
	ExperienceID string `json:"experienceId"`
}

// SessionResponse carries a new session's bearer token and first view.
type SessionResponse struct {
	SessionID string       `json:"sessionId"`
	Token     string       `json:"token"`
	View      runtime.View `json:"view"`
}

// GoToRequest is the request body for POST /api/{client}/session/goto.
type GoToRequest struct {
	Index int `json:"index"`
}

// BackResponse tells the host what the back button did.
type BackResponse struct {
	Action runtime.BackAction `json:"action"`
	View   runtime.View       `json:"view"`
}

type ExitResponse struct {
	Status booth.SessionStatus `json:"status"`
}

// ValidationErrorResponse is returned when an answer does not fit its step.
type ValidationErrorResponse struct {
	Error  string `json:"error"`
	StepID string `json:"stepId"`
}

func handleGetExperience() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exp, err := clientStore(r).GetExperience(r.Context(), chi.URLParam(r, "id"))
		if err != nil || exp.Status != booth.ExperiencePublished {
			writeError(w, http.StatusNotFound, "experience not found")
			return
		}
		writeJSON(w, http.StatusOK, exp)
	}
}

func handleStartSession(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartSessionRequest
		if err := readJSON(r, &req); err != nil || req.ExperienceID == "" {
			writeError(w, http.StatusBadRequest, "experienceId is required")
			return
		}

		store := clientStore(r)
		exp, err := store.GetExperience(r.Context(), req.ExperienceID)
		if err != nil || exp.Status != booth.ExperiencePublished {
			writeError(w, http.StatusNotFound, "experience not found")
			return
		}

		startSession(w, r, hub, store, exp.ID, booth.ModeGuest)
	}
}

func startSession(w http.ResponseWriter, r *http.Request, hub *Hub, store Store, experienceID string, mode booth.SessionMode) {
	sess, token, err := store.CreateSession(r.Context(), experienceID, mode)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	rt, err := hub.Runtime(r.Context(), clientSlug(r), store, sess)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{
		SessionID: sess.ID,
		Token:     token,
		View:      rt.View(),
	})
}

func handleGetSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, guestFrom(r).Runtime.View())
	}
}

func handleSubmitResponse() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input json.RawMessage
		if err := readJSON(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rt := guestFrom(r).Runtime
		if err := rt.Submit(r.Context(), chi.URLParam(r, "stepId"), input); err != nil {
			writeRuntimeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rt.View())
	}
}

func handleNext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rt := guestFrom(r).Runtime
		if err := rt.Next(r.Context()); err != nil {
			writeRuntimeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rt.View())
	}
}

func handlePrevious() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rt := guestFrom(r).Runtime
		rt.Previous(r.Context())
		writeJSON(w, http.StatusOK, rt.View())
	}
}

func handleBack() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rt := guestFrom(r).Runtime
		action := rt.Back(r.Context())
		writeJSON(w, http.StatusOK, BackResponse{Action: action, View: rt.View()})
	}
}

func handleExit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rt := guestFrom(r).Runtime
		if err := rt.Exit(r.Context()); err != nil {
			writeRuntimeError(w, err)
			return
		}
		status := booth.SessionAbandoned
		if rt.IsComplete() {
			status = booth.SessionCompleted
		}
		writeJSON(w, http.StatusOK, ExitResponse{Status: status})
	}
}

func handleRetry() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rt := guestFrom(r).Runtime
		if rt.View().Render != runtime.RenderCompletionFailed {
			writeError(w, http.StatusConflict, "nothing to retry")
			return
		}
		if err := rt.Retry(r.Context()); err != nil && !errors.Is(err, runtime.ErrCompletionInFlight) {
			writeRuntimeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rt.View())
	}
}

func handleGoTo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GoToRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rt := guestFrom(r).Runtime
		if err := rt.GoToStep(r.Context(), req.Index); err != nil {
			writeRuntimeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rt.View())
	}
}
