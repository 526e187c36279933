// Package handlers provides HTTP handlers for the nwshop API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spherical-ai/nwshop/internal/checkout"
	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/preferences"
	"github.com/spherical-ai/nwshop/internal/storage"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *observability.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Detail:  detail,
	})
}

// writeServiceError maps domain errors to status codes. Unknown errors are
// logged and reported as 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *observability.Logger, message string, err error) {
	switch {
	case errors.Is(err, preferences.ErrInvalidPreference), errors.Is(err, checkout.ErrInvalidSelection):
		writeError(w, http.StatusBadRequest, message, err.Error())
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, checkout.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, message, err.Error())
	default:
		logger.WithContext(r.Context()).Error().Err(err).Msg(message)
		writeError(w, http.StatusInternalServerError, message, err.Error())
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
