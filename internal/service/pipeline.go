package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prana-labs/wellness-backend/internal/model"
)

// Per-call ceilings for the three suspension points. Each is additionally
// bounded by the request's own deadline.
const (
	retrieveTimeout = 40 * time.Second // embedding (30s client cap) + index search
	generateTimeout = 60 * time.Second
)

const refusalPrefix = "I cannot answer this query due to safety guidelines. "

// InteractionLogger receives pipeline records for asynchronous persistence.
// Implementations must not block the caller.
type InteractionLogger interface {
	LogInteraction(model.InteractionLog)
	LogIncident(model.SafetyIncident)
}

// AskParams are the validated inputs of one query.
type AskParams struct {
	Query         string
	MaxChunks     int
	MinSimilarity float64
	UserID        string
	SessionID     string
}

// PipelineService drives the per-query state machine:
//
//	ADMIT → SAFETY → {BLOCKED | RETRIEVE}
//	RETRIEVE → GENERATE (even on retrieval failure, with empty context)
//	GENERATE → LOG → RESPOND
//	BLOCKED → LOG_INCIDENT → RESPOND
//
// Admission (rate limiting) happens upstream in middleware; everything
// downstream of it degrades instead of failing the request.
type PipelineService struct {
	safety    *SafetyFilter
	retriever *RetrieverService
	generator *GeneratorService
	logger    InteractionLogger

	nowFunc func() time.Time
}

// NewPipelineService wires the pipeline. Components are created top-down at
// startup; the pipeline holds no callbacks back into them.
func NewPipelineService(safety *SafetyFilter, retriever *RetrieverService, generator *GeneratorService, logger InteractionLogger) *PipelineService {
	return &PipelineService{
		safety:    safety,
		retriever: retriever,
		generator: generator,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Process runs one query through the state machine and always returns a
// usable response. Logging is dispatched off the request path; the caller
// gets its response before any sink confirms durability.
func (s *PipelineService) Process(ctx context.Context, p AskParams) model.QueryResponse {
	// ADMIT
	start := s.nowFunc()
	queryID := uuid.NewString()
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	userID := p.UserID
	if userID == "" {
		userID = "anonymous"
	}

	// SAFETY — must complete before any retrieval work is scheduled.
	assessment := s.safety.EvaluateQuery(p.Query)

	if !assessment.AllowResponse {
		return s.blocked(p, assessment, queryID, sessionID, start)
	}

	// RETRIEVE — failures degrade to an empty context.
	retrieveCtx, cancelRetrieve := context.WithTimeout(ctx, retrieveTimeout)
	retrieved, err := s.retriever.Retrieve(retrieveCtx, p.Query, p.MaxChunks, p.MinSimilarity)
	cancelRetrieve()
	if err != nil {
		slog.Error("retrieval failed, continuing with empty context", "query_id", queryID, "error", err)
		retrieved = nil
	}

	// GENERATE — the generator degrades internally on LLM failure.
	generateCtx, cancelGenerate := context.WithTimeout(ctx, generateTimeout)
	response, genErr := s.generator.Generate(generateCtx, p.Query, retrieved, &assessment)
	cancelGenerate()
	if genErr != nil {
		slog.Error("generation degraded", "query_id", queryID, "error", genErr)
	}

	// LOG — fire-and-forget; a cancelled request still gets its partial
	// interaction recorded since the sinks run on detached contexts.
	processingMs := s.elapsedMs(start)
	chunkIDs := make([]string, 0, len(retrieved))
	for _, r := range retrieved {
		chunkIDs = append(chunkIDs, r.Chunk.ID)
	}
	s.logger.LogInteraction(model.InteractionLog{
		QueryID:          queryID,
		UserID:           userID,
		Timestamp:        start.UTC(),
		Query:            p.Query,
		RetrievedChunks:  chunkIDs,
		ResponseContent:  response.Content,
		ProcessingTimeMs: processingMs,
		SafetyFlags:      assessment.Flags,
	})

	// RESPOND
	if retrieved == nil {
		retrieved = []model.RetrievalResult{}
	}
	return model.QueryResponse{
		Query:            p.Query,
		Response:         response,
		RetrievalResults: retrieved,
		SafetyAssessment: assessment,
		ProcessingTimeMs: processingMs,
		SessionID:        sessionID,
	}
}

// blocked builds the refusal response and dispatches the safety incident.
func (s *PipelineService) blocked(p AskParams, assessment model.SafetyAssessment, queryID, sessionID string, start time.Time) model.QueryResponse {
	incidentType := model.FlagMedicalAdvice
	if len(assessment.Flags) > 0 {
		incidentType = assessment.Flags[0].Type
	}
	s.logger.LogIncident(model.SafetyIncident{
		ID:           queryID,
		Timestamp:    start.UTC(),
		SessionID:    sessionID,
		IncidentType: incidentType,
		Severity:     assessment.RiskLevel,
		Query:        p.Query,
		Flags:        assessment.Flags,
	})

	slog.Warn("query blocked by safety gate",
		"query_id", queryID,
		"risk_level", assessment.RiskLevel,
		"flags", len(assessment.Flags),
	)

	return model.QueryResponse{
		Query: p.Query,
		Response: model.GeneratedResponse{
			Content:       refusalPrefix + strings.Join(assessment.RequiredDisclaimers, " "),
			Sources:       []model.SourceCitation{},
			Confidence:    0.0,
			SafetyNotices: assessment.RequiredDisclaimers,
		},
		RetrievalResults: []model.RetrievalResult{},
		SafetyAssessment: assessment,
		ProcessingTimeMs: s.elapsedMs(start),
		SessionID:        sessionID,
	}
}

// elapsedMs measures processing time, rounding sub-millisecond requests up
// so callers can rely on a positive figure.
func (s *PipelineService) elapsedMs(start time.Time) int64 {
	ms := s.nowFunc().Sub(start).Milliseconds()
	if ms <= 0 {
		ms = 1
	}
	return ms
}
