// Package handler implements the HTTP endpoints of the query API.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/prana-labs/wellness-backend/internal/middleware"
	"github.com/prana-labs/wellness-backend/internal/model"
	"github.com/prana-labs/wellness-backend/internal/service"
)

const (
	maxQueryLength   = 1000
	defaultMaxChunks = 5
	defaultMinSim    = 0.7
)

// QueryProcessor abstracts the request orchestrator for testability.
type QueryProcessor interface {
	Process(ctx context.Context, p service.AskParams) model.QueryResponse
}

// Ask returns the POST /api/v1/ask handler. Only input validation can fail
// the request here; everything downstream degrades inside the pipeline.
func Ask(pipeline QueryProcessor, m *middleware.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req.Query = strings.TrimSpace(req.Query)
		if req.Query == "" || len(req.Query) > maxQueryLength {
			writeDetail(w, http.StatusBadRequest, "query must be between 1 and 1000 characters")
			return
		}

		maxChunks := defaultMaxChunks
		if req.MaxChunks != nil {
			if *req.MaxChunks < 1 || *req.MaxChunks > 20 {
				writeDetail(w, http.StatusBadRequest, "max_chunks must be between 1 and 20")
				return
			}
			maxChunks = *req.MaxChunks
		}

		minSimilarity := defaultMinSim
		if req.MinSimilarity != nil {
			if *req.MinSimilarity < 0 || *req.MinSimilarity > 1 {
				writeDetail(w, http.StatusBadRequest, "min_similarity must be between 0 and 1")
				return
			}
			minSimilarity = *req.MinSimilarity
		}

		userID := req.UserID
		if userID == "" {
			userID = "anonymous"
		}

		resp := pipeline.Process(r.Context(), service.AskParams{
			Query:         req.Query,
			MaxChunks:     maxChunks,
			MinSimilarity: minSimilarity,
			UserID:        userID,
			SessionID:     req.SessionID,
		})

		if m != nil && !resp.SafetyAssessment.AllowResponse {
			m.SafetyBlocksTotal.Inc()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
