// Package vectordb persists chunk embeddings and answers cosine
// k-nearest-neighbor queries over pluggable backends: an embedded on-disk
// store (chromem) and a remote managed index (Qdrant).
package vectordb

import (
	"context"
	"strconv"
	"time"

	"github.com/prana-labs/wellness-backend/internal/config"
	"github.com/prana-labs/wellness-backend/internal/model"
)

// SearchResult is one ranked hit from a similarity search. Score is cosine
// similarity; backends that report distances convert with score = 1 - d
// before returning. Scores are monotonically non-increasing across a
// result list.
type SearchResult struct {
	ChunkID  string
	Score    float64
	Content  string
	Metadata map[string]string
}

// Stats describes a collection.
type Stats struct {
	Count     int
	Dimension int
	Backend   string
}

// Store is the capability interface implemented by vector backends.
// Implementations are safe for concurrent use after Initialize, and
// Initialize itself is safe against concurrent first use.
//
// Dimension coherence: a collection has exactly one vector dimension for
// its lifetime. A Search with a mismatched query dimension drops and
// recreates the collection at the new dimension and returns empty results;
// silent zero-padding is forbidden.
type Store interface {
	Initialize(ctx context.Context) error
	Upsert(ctx context.Context, chunks []model.Chunk, embeddings [][]float32) (int, error)
	Search(ctx context.Context, queryVec []float32, k int, filter map[string]string) ([]SearchResult, error)
	Delete(ctx context.Context, chunkIDs []string) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// upsertBatchSize bounds a single backend write.
const upsertBatchSize = 100

// New selects a backend from config: remote Qdrant when configured,
// otherwise the embedded on-disk store.
func New(cfg *config.Config) Store {
	if cfg.UseQdrant() {
		return NewQdrantStore(QdrantConfig{
			BaseURL:    cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dimension:  cfg.EmbeddingDimension,
		})
	}
	return NewChromemStore(cfg.ChromaPersistDirectory, cfg.ChromaCollectionName, cfg.EmbeddingDimension)
}

// flattenMetadata converts chunk metadata to the flat string map every
// backend stores: no nesting, enums as their string value, timestamps as
// ISO-8601.
func flattenMetadata(c model.Chunk) map[string]string {
	return map[string]string{
		"document_id": c.Metadata.DocumentID,
		"chunk_index": strconv.Itoa(c.Metadata.ChunkIndex),
		"source":      c.Metadata.Source,
		"category":    string(c.Metadata.Category),
		"tokens":      strconv.Itoa(c.Metadata.Tokens),
		"created_at":  c.Metadata.CreatedAt.UTC().Format(time.RFC3339),
	}
}
