package handler

import (
	"net/http"
	"time"

	"github.com/prana-labs/wellness-backend/internal/model"
)

// Health returns the GET /api/v1/health handler. components describes the
// wired backends (embedding model, vector store, log sink) for operators.
func Health(version string, components map[string]string) http.HandlerFunc {
	if components == nil {
		components = map[string]string{}
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, model.HealthCheckResponse{
			Status:     "healthy",
			Timestamp:  time.Now().UTC(),
			Version:    version,
			Components: components,
		})
	}
}
