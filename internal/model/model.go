// Package model defines the wire-level data types of the wellness RAG
// pipeline: chunks, safety assessments, retrieval results, and the
// request/response envelopes of the ask endpoint. JSON field names and enum
// values are part of the public API contract and must not change casually.
package model

import (
	"strings"
	"time"
)

// ContentCategory classifies knowledge base content.
type ContentCategory string

const (
	CategoryYoga       ContentCategory = "YOGA"
	CategoryWellness   ContentCategory = "WELLNESS"
	CategoryMeditation ContentCategory = "MEDITATION"
	CategoryNutrition  ContentCategory = "NUTRITION"
	CategoryExercise   ContentCategory = "EXERCISE"
)

// ParseCategory maps a stored string to a ContentCategory, defaulting to
// WELLNESS for unrecognized values (metadata hydration rule).
func ParseCategory(s string) ContentCategory {
	switch ContentCategory(strings.ToUpper(strings.TrimSpace(s))) {
	case CategoryYoga:
		return CategoryYoga
	case CategoryWellness:
		return CategoryWellness
	case CategoryMeditation:
		return CategoryMeditation
	case CategoryNutrition:
		return CategoryNutrition
	case CategoryExercise:
		return CategoryExercise
	default:
		return CategoryWellness
	}
}

// SafetyFlagType identifies the concern a safety flag raises.
type SafetyFlagType string

const (
	FlagMedicalAdvice       SafetyFlagType = "MEDICAL_ADVICE"
	FlagEmergency           SafetyFlagType = "EMERGENCY"
	FlagInappropriate       SafetyFlagType = "INAPPROPRIATE"
	FlagDiagnosisRequest    SafetyFlagType = "DIAGNOSIS_REQUEST"
	FlagPrescriptionRequest SafetyFlagType = "PRESCRIPTION_REQUEST"
	FlagTreatmentRequest    SafetyFlagType = "TREATMENT_REQUEST"
)

// RiskLevel is the aggregated risk of a query.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ChunkMetadata carries the provenance of a knowledge base chunk.
type ChunkMetadata struct {
	DocumentID string          `json:"document_id" bson:"document_id"`
	ChunkIndex int             `json:"chunk_index" bson:"chunk_index"`
	Source     string          `json:"source" bson:"source"`
	Category   ContentCategory `json:"category" bson:"category"`
	Tokens     int             `json:"tokens" bson:"tokens"`
	CreatedAt  time.Time       `json:"created_at" bson:"created_at"`
}

// Chunk is the unit of indexing and retrieval. IDs follow the convention
// {document_id}_chunk_{index}.
type Chunk struct {
	ID        string        `json:"id" bson:"id"`
	Content   string        `json:"content" bson:"content"`
	Embedding []float32     `json:"embedding,omitempty" bson:"-"`
	Metadata  ChunkMetadata `json:"metadata" bson:"metadata"`
}

// SafetyFlag is a single concern raised by the safety classifier.
type SafetyFlag struct {
	Type             SafetyFlagType `json:"type" bson:"type"`
	Severity         float64        `json:"severity" bson:"severity"`
	Description      string         `json:"description" bson:"description"`
	MitigationAction string         `json:"mitigation_action" bson:"mitigation_action"`
}

// SafetyAssessment aggregates flags into a gate decision.
type SafetyAssessment struct {
	Flags               []SafetyFlag `json:"flags" bson:"flags"`
	RiskLevel           RiskLevel    `json:"risk_level" bson:"risk_level"`
	AllowResponse       bool         `json:"allow_response" bson:"allow_response"`
	RequiredDisclaimers []string     `json:"required_disclaimers" bson:"required_disclaimers"`
}

// RetrievalResult pairs a chunk with its similarity score and 1-based rank.
type RetrievalResult struct {
	Chunk           Chunk   `json:"chunk"`
	SimilarityScore float64 `json:"similarity_score"`
	RelevanceRank   int     `json:"relevance_rank"`
}

// SourceCitation references a chunk used to ground a generated answer.
type SourceCitation struct {
	Source         string  `json:"source"`
	ChunkID        string  `json:"chunk_id"`
	RelevanceScore float64 `json:"relevance_score"`
}

// GeneratedResponse is the model's grounded reply with citations.
type GeneratedResponse struct {
	Content       string           `json:"content"`
	Sources       []SourceCitation `json:"sources"`
	Confidence    float64          `json:"confidence"`
	SafetyNotices []string         `json:"safety_notices"`
}

// QueryRequest is the body of POST /api/v1/ask.
type QueryRequest struct {
	Query         string   `json:"query"`
	MaxChunks     *int     `json:"max_chunks,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
	UserID        string   `json:"user_id,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
}

// QueryResponse is the full pipeline output for a single query.
type QueryResponse struct {
	Query            string            `json:"query"`
	Response         GeneratedResponse `json:"response"`
	RetrievalResults []RetrievalResult `json:"retrieval_results"`
	SafetyAssessment SafetyAssessment  `json:"safety_assessment"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	SessionID        string            `json:"session_id"`
}

// InteractionLog is the append-only record of a completed query. Persisted
// asynchronously by the interaction sink, never mutated (feedback is the
// one field updated after the fact, keyed by QueryID).
type InteractionLog struct {
	QueryID          string       `json:"query_id" bson:"query_id"`
	UserID           string       `json:"user_id" bson:"user_id"`
	Timestamp        time.Time    `json:"timestamp" bson:"timestamp"`
	Query            string       `json:"query" bson:"query"`
	RetrievedChunks  []string     `json:"retrieved_chunks" bson:"retrieved_chunks"`
	ResponseContent  string       `json:"response_content" bson:"response_content"`
	ProcessingTimeMs int64        `json:"processing_time_ms" bson:"processing_time_ms"`
	SafetyFlags      []SafetyFlag `json:"safety_flags" bson:"safety_flags"`
	Feedback         *string      `json:"feedback,omitempty" bson:"feedback,omitempty"`
}

// SafetyIncident is the append-only record of a blocked query.
type SafetyIncident struct {
	ID             string         `json:"id" bson:"id"`
	Timestamp      time.Time      `json:"timestamp" bson:"timestamp"`
	SessionID      string         `json:"session_id" bson:"session_id"`
	IncidentType   SafetyFlagType `json:"incident_type" bson:"incident_type"`
	Severity       RiskLevel      `json:"severity" bson:"severity"`
	Query          string         `json:"query" bson:"query"`
	Flags          []SafetyFlag   `json:"flags" bson:"flags"`
	Resolved       bool           `json:"resolved" bson:"resolved"`
	ReviewRequired bool           `json:"review_required" bson:"review_required"`
}

// KnowledgeDocument is a source file on the ingestion path.
type KnowledgeDocument struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Content     string          `json:"content"`
	Category    ContentCategory `json:"category"`
	Source      string          `json:"source"`
	LastUpdated time.Time       `json:"last_updated"`
}

// HealthCheckResponse is the body of GET /api/v1/health.
type HealthCheckResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}
