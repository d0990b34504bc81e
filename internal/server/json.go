package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/playperu/snapbooth/internal/runtime"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRuntimeError maps runtime and store errors to HTTP responses.
func writeRuntimeError(w http.ResponseWriter, err error) {
	var verr *runtime.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:  verr.Message,
			StepID: verr.StepID,
		})
	case errors.Is(err, ErrNotFound), errors.Is(err, runtime.ErrUnknownStep):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, runtime.ErrPreviewOnly):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, runtime.ErrStepOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, runtime.ErrCompletionInFlight),
		errors.Is(err, runtime.ErrNotComplete),
		errors.Is(err, ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, runtime.ErrNoSteps), errors.Is(err, runtime.ErrNoRenderer):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
