package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/prana-labs/wellness-backend/internal/embedding"
	"github.com/prana-labs/wellness-backend/internal/errs"
	"github.com/prana-labs/wellness-backend/internal/model"
	"github.com/prana-labs/wellness-backend/internal/vectordb"
)

// RetrieverService composes the embedding service and the vector index:
// embed the query, search, threshold, hydrate, rank.
type RetrieverService struct {
	embedder *embedding.Service
	store    vectordb.Store

	nowFunc func() time.Time
}

// NewRetrieverService creates a RetrieverService.
func NewRetrieverService(embedder *embedding.Service, store vectordb.Store) *RetrieverService {
	return &RetrieverService{
		embedder: embedder,
		store:    store,
		nowFunc:  time.Now,
	}
}

// Initialize prepares both dependencies. Lazy callers may skip this; every
// entry point initializes idempotently.
func (s *RetrieverService) Initialize(ctx context.Context) error {
	if err := s.embedder.Initialize(ctx); err != nil {
		return err
	}
	return s.store.Initialize(ctx)
}

// Retrieve returns up to maxResults chunks whose similarity to query is at
// least minSimilarity, in non-increasing score order with dense 1-based
// ranks. A vector index failure yields an empty result set rather than an
// error; an embedding failure surfaces so the orchestrator can degrade.
func (s *RetrieverService) Retrieve(ctx context.Context, query string, maxResults int, minSimilarity float64) ([]model.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errs.New(errs.ErrRetrieval, "query is empty")
	}
	if maxResults <= 0 {
		maxResults = 5
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.store.Search(ctx, queryVec, maxResults, nil)
	if err != nil {
		// The request path must not fail on index errors; degrade to an
		// empty context and let generation fall back.
		slog.Error("[RETRIEVER] vector search failed, returning empty results", "error", err)
		hits = nil
	}

	results := make([]model.RetrievalResult, 0, len(hits))
	rank := 1
	for _, hit := range hits {
		if hit.Score < minSimilarity {
			continue
		}
		results = append(results, model.RetrievalResult{
			Chunk:           hydrateChunk(hit, s.nowFunc().UTC()),
			SimilarityScore: hit.Score,
			RelevanceRank:   rank,
		})
		rank++
	}

	slog.Debug("[RETRIEVER] retrieval complete",
		"candidates", len(hits),
		"returned", len(results),
		"min_similarity", minSimilarity,
	)

	return results, nil
}

// HybridSearch is a sealed alias for semantic retrieval; the keyword leg is
// not implemented by any backend yet.
func (s *RetrieverService) HybridSearch(ctx context.Context, query string, keywords []string, maxResults int, minSimilarity float64) ([]model.RetrievalResult, error) {
	return s.Retrieve(ctx, query, maxResults, minSimilarity)
}

// Stats exposes the underlying index statistics.
func (s *RetrieverService) Stats(ctx context.Context) (vectordb.Stats, error) {
	return s.store.Stats(ctx)
}

// hydrateChunk rebuilds a Chunk from a backend hit, defaulting any metadata
// lost in flattening: category falls back to WELLNESS, chunk_index to 0,
// tokens to a word-count estimate, created_at to now. The parent document
// id is recovered from the chunk id convention when absent.
func hydrateChunk(hit vectordb.SearchResult, now time.Time) model.Chunk {
	meta := hit.Metadata

	documentID := meta["document_id"]
	if documentID == "" {
		if i := strings.LastIndex(hit.ChunkID, "_chunk_"); i > 0 {
			documentID = hit.ChunkID[:i]
		} else {
			documentID = hit.ChunkID
		}
	}

	chunkIndex := 0
	if v, err := strconv.Atoi(meta["chunk_index"]); err == nil {
		chunkIndex = v
	}

	tokens := 0
	if v, err := strconv.Atoi(meta["tokens"]); err == nil && v > 0 {
		tokens = v
	} else {
		tokens = estimateTokensFallback(hit.Content)
	}

	createdAt := now
	if raw := meta["created_at"]; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			createdAt = t
		}
	}

	source := meta["source"]
	if source == "" {
		source = "unknown"
	}

	return model.Chunk{
		ID:      hit.ChunkID,
		Content: hit.Content,
		Metadata: model.ChunkMetadata{
			DocumentID: documentID,
			ChunkIndex: chunkIndex,
			Source:     source,
			Category:   model.ParseCategory(meta["category"]),
			Tokens:     tokens,
			CreatedAt:  createdAt,
		},
	}
}
