package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/prana-labs/wellness-backend/internal/errs"
	"github.com/prana-labs/wellness-backend/internal/model"
)

// ChunkingConfig bounds the chunker's output. ChunkSize is the target token
// budget per chunk, ChunkOverlap the tail overlap carried between adjacent
// chunks, MinChunkSize the guideline below which a residual buffer is
// discarded, MaxChunkSize the hard cap above which a paragraph is re-split
// at sentence granularity.
type ChunkingConfig struct {
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int
	MaxChunkSize int
}

// DefaultChunkingConfig returns the tuning used for the wellness corpus.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize:    512,
		ChunkOverlap: 50,
		MinChunkSize: 100,
		MaxChunkSize: 800,
	}
}

// ChunkerService splits documents into token-bounded chunks respecting
// paragraph and sentence boundaries. Deterministic: the same (content,
// config, category) always produces the same chunk list.
type ChunkerService struct {
	cfg ChunkingConfig
}

// NewChunkerService creates a ChunkerService, filling zero config fields
// with defaults.
func NewChunkerService(cfg ChunkingConfig) *ChunkerService {
	def := DefaultChunkingConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = def.ChunkOverlap
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = def.MinChunkSize
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = def.MaxChunkSize
	}
	return &ChunkerService{cfg: cfg}
}

var (
	paragraphSeparator = regexp.MustCompile(`\n[ \t]*\n`)
	sentenceEndings    = regexp.MustCompile(`[.!?]+\s+`)
)

// ChunkDocument splits content into validated chunks for one document.
// Returned chunk ids follow {documentID}_chunk_{index} with a contiguous
// 0-based index sequence.
func (s *ChunkerService) ChunkDocument(ctx context.Context, content, documentID, source string, category model.ContentCategory) ([]model.Chunk, error) {
	cleaned := NormalizeText(content)
	if cleaned == "" {
		return nil, errs.New(errs.ErrChunking, "document %s: empty content", documentID)
	}

	paragraphs := splitParagraphs(cleaned)
	if len(paragraphs) == 0 {
		return nil, errs.New(errs.ErrChunking, "document %s: no content after splitting", documentID)
	}

	segments := s.buildSegments(paragraphs)

	// Validate, then assign contiguous indices so dropped segments never
	// leave gaps in the id sequence.
	now := time.Now().UTC()
	chunks := make([]model.Chunk, 0, len(segments))
	for _, seg := range segments {
		trimmed := strings.TrimSpace(seg)
		if !validChunkContent(trimmed) {
			continue
		}
		idx := len(chunks)
		chunks = append(chunks, model.Chunk{
			ID:      fmt.Sprintf("%s_chunk_%d", documentID, idx),
			Content: trimmed,
			Metadata: model.ChunkMetadata{
				DocumentID: documentID,
				ChunkIndex: idx,
				Source:     source,
				Category:   category,
				Tokens:     EstimateTokens(trimmed),
				CreatedAt:  now,
			},
		})
	}

	slog.Debug("chunking completed",
		"document_id", documentID,
		"segments", len(segments),
		"chunks", len(chunks),
	)

	return chunks, nil
}

// ChunkBatch processes several documents, recovering per-document failures
// so one bad file does not abort an ingestion run. Returns chunks keyed by
// document id plus the per-document errors.
func (s *ChunkerService) ChunkBatch(ctx context.Context, docs []model.KnowledgeDocument) (map[string][]model.Chunk, map[string]error) {
	results := make(map[string][]model.Chunk, len(docs))
	failures := make(map[string]error)

	for _, doc := range docs {
		chunks, err := s.ChunkDocument(ctx, doc.Content, doc.ID, doc.Source, doc.Category)
		if err != nil {
			slog.Error("chunking document failed", "document_id", doc.ID, "error", err)
			failures[doc.ID] = err
			continue
		}
		results[doc.ID] = chunks
	}

	return results, failures
}

// buildSegments runs the paragraph-level accumulator: paragraphs merge into
// the current buffer up to ChunkSize; oversized paragraphs are re-split at
// sentence granularity; each emitted chunk seeds the next buffer with its
// last ChunkOverlap words.
func (s *ChunkerService) buildSegments(paragraphs []string) []string {
	var segments []string
	var current strings.Builder
	currentTokens := 0

	flush := func() string {
		out := current.String()
		if out != "" {
			segments = append(segments, out)
		}
		current.Reset()
		currentTokens = 0
		return out
	}

	for _, para := range paragraphs {
		paraTokens := EstimateTokens(para)

		if paraTokens > s.cfg.MaxChunkSize {
			flush()
			segments = append(segments, s.splitLargeParagraph(para)...)
			continue
		}

		if currentTokens > 0 && currentTokens+paraTokens > s.cfg.ChunkSize {
			emitted := flush()
			if tail := lastNWords(emitted, s.cfg.ChunkOverlap); tail != "" {
				current.WriteString(tail)
				current.WriteString("\n\n")
				currentTokens = EstimateTokens(tail)
			}
		}

		if current.Len() > 0 && !strings.HasSuffix(current.String(), "\n\n") {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}

	// Residual buffer: kept only when it meets the size guideline.
	if current.Len() > 0 && currentTokens >= s.cfg.MinChunkSize {
		segments = append(segments, current.String())
	}

	return segments
}

// splitLargeParagraph re-runs the accumulator over sentences, joined by a
// single space. Sentence terminators are consumed by the split.
func (s *ChunkerService) splitLargeParagraph(para string) []string {
	sentences := splitSentences(para)

	var out []string
	var current strings.Builder
	currentTokens := 0

	for _, sent := range sentences {
		sentTokens := EstimateTokens(sent)

		if currentTokens > 0 && currentTokens+sentTokens > s.cfg.ChunkSize {
			emitted := current.String()
			out = append(out, emitted)
			current.Reset()
			currentTokens = 0
			if tail := lastNWords(emitted, s.cfg.ChunkOverlap); tail != "" {
				current.WriteString(tail)
				currentTokens = EstimateTokens(tail)
			}
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
		currentTokens += sentTokens
	}

	if current.Len() > 0 {
		out = append(out, current.String())
	}

	return out
}

// splitParagraphs splits normalized text on blank-line boundaries, dropping
// whitespace-only entries.
func splitParagraphs(text string) []string {
	raw := paragraphSeparator.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// splitSentences splits on terminator punctuation followed by whitespace.
func splitSentences(text string) []string {
	raw := sentenceEndings.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// validChunkContent applies the post-emit filter: at least 10 characters,
// an alphabetic run of 3+, and at least 5 estimated tokens.
func validChunkContent(trimmed string) bool {
	if len(trimmed) < 10 {
		return false
	}
	if !hasAlphaRun(trimmed, 3) {
		return false
	}
	return EstimateTokens(trimmed) >= 5
}

// ChunkingStats summarizes a chunk set for ingestion reporting.
type ChunkingStats struct {
	TotalChunks int
	TotalTokens int
	AvgTokens   float64
	MinTokens   int
	MaxTokens   int
	ByCategory  map[model.ContentCategory]int
}

// Stats computes summary statistics over chunks.
func Stats(chunks []model.Chunk) ChunkingStats {
	stats := ChunkingStats{ByCategory: make(map[model.ContentCategory]int)}
	if len(chunks) == 0 {
		return stats
	}

	stats.TotalChunks = len(chunks)
	stats.MinTokens = chunks[0].Metadata.Tokens
	for _, c := range chunks {
		t := c.Metadata.Tokens
		stats.TotalTokens += t
		if t < stats.MinTokens {
			stats.MinTokens = t
		}
		if t > stats.MaxTokens {
			stats.MaxTokens = t
		}
		stats.ByCategory[c.Metadata.Category]++
	}
	stats.AvgTokens = float64(stats.TotalTokens) / float64(stats.TotalChunks)

	return stats
}
