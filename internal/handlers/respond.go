package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"catalog-cache/internal/catalog"
	"catalog-cache/pkg/logging/logging"
)

// maxBodyBytes bounds write request bodies.
const maxBodyBytes = 512 * 1024

// envelope is the body of every API response. The response cache only
// stores bodies whose success field is true.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// respondError maps catalog errors onto HTTP statuses. Anything unmapped is
// logged and reported as a 500 without leaking the cause.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logging.L(r.Context()).Error("request_failed", zap.Error(err))
	}
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, catalog.ErrInvalid):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, catalog.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal_server_error"
	}
}

// decodeJSON reads a bounded JSON body into v. Unknown fields are rejected so
// typos in patch bodies do not silently become no-ops.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", catalog.ErrInvalid, err)
	}
	return nil
}
