package handlers

import (
	"net/http"

	"catalog-cache/internal/cache"
)

// Health reports liveness. A degraded cache is reported but never fails the
// check: the API keeps serving from the store of record without it.
func Health(store cache.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{
			"status": "ok",
			"cache":  cache.StateOf(store).String(),
		})
	}
}
