package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/verte-zerg/trafsim/internal/controller"
)

type errorResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// writeControllerError maps controller sentinels onto status codes.
func writeControllerError(w http.ResponseWriter, err error) {
	var verr *controller.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Problems: verr.Problems})
	case errors.Is(err, controller.ErrBusy), errors.Is(err, controller.ErrRunning),
		errors.Is(err, controller.ErrPaused), errors.Is(err, controller.ErrNoSession):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, controller.ErrTransient), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
