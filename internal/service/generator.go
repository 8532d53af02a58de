package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prana-labs/wellness-backend/internal/errs"
	"github.com/prana-labs/wellness-backend/internal/model"
	"github.com/prana-labs/wellness-backend/internal/nimclient"
)

// yogaExpertPrompt is the fixed system template. It enjoins source-grounded
// answers and mandates a refusal when the retrieved context is insufficient.
const yogaExpertPrompt = `You are a certified, knowledgeable, and empathetic Yoga Expert and Therapist.
Your goal is to provide accurate, safe, and helpful advice about yoga poses (asanas), breathing techniques (pranayama), and general wellness.

GUIDELINES:
1. **Source-Based Accuracy**: ALL your answers must be based STRICTLY on the provided context (sources). If the context does not contain the answer, say "I don't have enough information in my knowledge base to answer that specifically." Do NOT hallucinate poses or benefits.
2. **Safety First**:
   - Always prioritize user safety.
   - If a user mentions pain, injury, medical conditions, or pregnancy, emphasize consulting a healthcare professional.
   - For beginners, recommend gentle modifications.
3. **Tone**: Calm, encouraging, respectful, and professional (like a yoga teacher).
4. **Structure**:
   - Start with a direct answer.
   - Provide step-by-step instructions if asked for a pose.
   - Mention benefits and contraindications if relevant (and in context).
   - Use clear formatting (bullet points, bold text).

CONTEXT:
%s

USER QUERY: %s
`

const apologyResponse = "I apologize, but I am unable to generate a detailed response at the moment due to a technical issue. Please try again."

// ChatClient abstracts the upstream LLM for testability.
type ChatClient interface {
	Generate(ctx context.Context, messages []nimclient.Message, temperature float64, maxTokens int) (string, error)
	Model() string
}

// GeneratorService produces grounded answers from retrieved context.
// When no LLM client is configured it returns a mock excerpt response so
// the pipeline stays usable in development.
type GeneratorService struct {
	client      ChatClient // nil = mock responses
	temperature float64
	maxTokens   int
}

// NewGeneratorService creates a GeneratorService. client may be nil.
func NewGeneratorService(client ChatClient, temperature float64, maxTokens int) *GeneratorService {
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	return &GeneratorService{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Generate answers query grounded in context. An upstream LLM failure
// degrades to a canned apology with zero confidence; the error is also
// returned so callers can count it, but the response is always usable.
func (s *GeneratorService) Generate(ctx context.Context, query string, retrieved []model.RetrievalResult, assessment *model.SafetyAssessment) (model.GeneratedResponse, error) {
	prompt := fmt.Sprintf(yogaExpertPrompt, formatContext(retrieved), query)

	content := ""
	confidence := 1.0
	var genErr error

	switch {
	case s.client != nil:
		raw, err := s.client.Generate(ctx, []nimclient.Message{
			{Role: "system", Content: "You are a helpful yoga assistant with expertise in yoga poses, breathing techniques, and wellness practices."},
			{Role: "user", Content: prompt},
		}, s.temperature, s.maxTokens)
		if err != nil {
			slog.Error("LLM call failed", "error", err)
			content = apologyResponse
			confidence = 0.0
			genErr = errs.Wrap(errs.ErrResponseGeneration, err)
		} else {
			content = raw
		}

	case len(retrieved) > 0:
		// Mock response: surface the best-matching excerpt directly.
		excerpt := retrieved[0].Chunk.Content
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		content = fmt.Sprintf("**[MOCK RESPONSE]**\n\nBased on your query '%s', here is some information from our knowledge base:\n\n%s...\n\n(Note: LLM is not configured, showing raw context excerpt)", query, excerpt)

	default:
		content = fmt.Sprintf("**[MOCK RESPONSE]**\n\nBased on your query '%s', here is some information from our knowledge base:\n\nNo relevant information found in the knowledge base.", query)
		confidence = 0.0
	}

	response := model.GeneratedResponse{
		Content:       content,
		Sources:       buildCitations(retrieved, genErr),
		Confidence:    confidence,
		SafetyNotices: []string{},
	}

	if assessment != nil && len(assessment.Flags) > 0 && len(assessment.RequiredDisclaimers) > 0 {
		response.SafetyNotices = assessment.RequiredDisclaimers
	}

	return response, genErr
}

// buildCitations emits one citation per retrieval result in rank order.
// A failed generation carries no citations — nothing was grounded.
func buildCitations(results []model.RetrievalResult, genErr error) []model.SourceCitation {
	if genErr != nil {
		return []model.SourceCitation{}
	}
	citations := make([]model.SourceCitation, 0, len(results))
	for _, r := range results {
		citations = append(citations, model.SourceCitation{
			Source:         r.Chunk.Metadata.Source,
			ChunkID:        r.Chunk.ID,
			RelevanceScore: r.SimilarityScore,
		})
	}
	return citations
}

// formatContext serializes retrieved chunks in rank order, blank-line
// separated.
func formatContext(results []model.RetrievalResult) string {
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, 0, len(results))
	for i, r := range results {
		parts = append(parts, fmt.Sprintf("Source %d (%s):\n%s", i+1, r.Chunk.Metadata.Source, r.Chunk.Content))
	}
	return strings.Join(parts, "\n\n")
}
