package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// FeedbackRecorder attaches user feedback to a logged interaction.
type FeedbackRecorder interface {
	RecordFeedback(ctx context.Context, queryID, feedback string) error
}

// Feedback returns the POST /api/v1/feedback handler. Parameters arrive as
// query params. Persistence failures are logged but never fail the request.
func Feedback(recorder FeedbackRecorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		queryID := r.URL.Query().Get("query_id")
		feedback := r.URL.Query().Get("feedback")
		if queryID == "" || feedback == "" {
			writeDetail(w, http.StatusBadRequest, "query_id and feedback are required")
			return
		}

		slog.Info("feedback received", "query_id", queryID, "feedback", feedback)
		if err := recorder.RecordFeedback(r.Context(), queryID, feedback); err != nil {
			slog.Error("recording feedback failed", "query_id", queryID, "error", err)
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "feedback_received",
			"query_id": queryID,
		})
	}
}
