package vectordb

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prana-labs/wellness-backend/internal/model"
)

func testChunk(docID string, idx int, content string) model.Chunk {
	return model.Chunk{
		ID:      docID + "_chunk_" + string(rune('0'+idx)),
		Content: content,
		Metadata: model.ChunkMetadata{
			DocumentID: docID,
			ChunkIndex: idx,
			Source:     docID + ".md",
			Category:   model.CategoryYoga,
			Tokens:     10,
			CreatedAt:  time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

// unitVec builds a normalized vector with weight concentrated on axis.
func unitVec(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

func TestChromem_RoundTrip(t *testing.T) {
	store := NewChromemStore(t.TempDir(), "test_chunks", 4)
	ctx := context.Background()

	chunks := []model.Chunk{
		testChunk("doc-a", 0, "Mountain pose (Tadasana) is a standing posture."),
		testChunk("doc-b", 0, "Child pose is a resting posture."),
		testChunk("doc-c", 0, "Warrior pose builds strength."),
	}
	embeddings := [][]float32{unitVec(4, 0), unitVec(4, 1), unitVec(4, 2)}

	n, err := store.Upsert(ctx, chunks, embeddings)
	if err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}
	if n != 3 {
		t.Fatalf("upserted = %d, want 3", n)
	}

	// Querying with a stored vector must return its chunk at the top with
	// score within epsilon of 1.
	hits, err := store.Search(ctx, unitVec(4, 1), 3, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if hits[0].ChunkID != chunks[1].ID {
		t.Errorf("top hit = %q, want %q", hits[0].ChunkID, chunks[1].ID)
	}
	if math.Abs(hits[0].Score-1.0) > 1e-3 {
		t.Errorf("top score = %f, want within 1e-3 of 1.0", hits[0].Score)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i-1].Score < hits[i].Score {
			t.Errorf("scores not monotone at %d", i)
		}
	}

	// Flattened metadata round-trips as strings.
	meta := hits[0].Metadata
	if meta["document_id"] != "doc-b" || meta["category"] != "YOGA" || meta["chunk_index"] != "0" {
		t.Errorf("metadata = %v", meta)
	}
	if _, err := time.Parse(time.RFC3339, meta["created_at"]); err != nil {
		t.Errorf("created_at not ISO-8601: %v", meta["created_at"])
	}
	if hits[0].Content != chunks[1].Content {
		t.Errorf("content = %q", hits[0].Content)
	}
}

func TestChromem_EmptyCollection(t *testing.T) {
	store := NewChromemStore(t.TempDir(), "empty", 4)

	hits, err := store.Search(context.Background(), unitVec(4, 0), 5, nil)
	if err != nil {
		t.Fatalf("Search() on empty collection error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %d, want 0", len(hits))
	}
}

func TestChromem_KClampedToCount(t *testing.T) {
	store := NewChromemStore(t.TempDir(), "small", 4)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, []model.Chunk{testChunk("doc", 0, "only entry")}, [][]float32{unitVec(4, 0)}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	hits, err := store.Search(ctx, unitVec(4, 0), 10, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits = %d, want 1", len(hits))
	}
}

func TestChromem_DimensionMismatchRecovery(t *testing.T) {
	store := NewChromemStore(t.TempDir(), "dims", 4)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, []model.Chunk{testChunk("doc", 0, "four dim entry")}, [][]float32{unitVec(4, 0)}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	// A query at a different dimension must drop and recreate the
	// collection and come back empty.
	hits, err := store.Search(ctx, unitVec(8, 0), 5, nil)
	if err != nil {
		t.Fatalf("Search() after mismatch error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %d, want 0 from fresh collection", len(hits))
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Dimension != 8 {
		t.Errorf("dimension = %d, want 8 after recreate", stats.Dimension)
	}
	if stats.Count != 0 {
		t.Errorf("count = %d, want 0 after recreate", stats.Count)
	}

	// Subsequent upserts at the new dimension succeed and are queryable.
	if _, err := store.Upsert(ctx, []model.Chunk{testChunk("doc8", 0, "eight dim entry")}, [][]float32{unitVec(8, 1)}); err != nil {
		t.Fatalf("Upsert() at new dimension error: %v", err)
	}
	hits, err = store.Search(ctx, unitVec(8, 1), 5, nil)
	if err != nil {
		t.Fatalf("Search() at new dimension error: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits = %d, want 1", len(hits))
	}
}

func TestChromem_Delete(t *testing.T) {
	store := NewChromemStore(t.TempDir(), "del", 4)
	ctx := context.Background()

	chunks := []model.Chunk{
		testChunk("doc", 0, "first entry here"),
		testChunk("doc", 1, "second entry here"),
	}
	if _, err := store.Upsert(ctx, chunks, [][]float32{unitVec(4, 0), unitVec(4, 1)}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	n, err := store.Delete(ctx, []string{chunks[0].ID})
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	stats, _ := store.Stats(ctx)
	if stats.Count != 1 {
		t.Errorf("count = %d, want 1 after delete", stats.Count)
	}
}

func TestChromem_MismatchedCounts(t *testing.T) {
	store := NewChromemStore(t.TempDir(), "bad", 4)
	_, err := store.Upsert(context.Background(), []model.Chunk{testChunk("doc", 0, "entry")}, nil)
	if err == nil {
		t.Fatal("expected error for chunk/embedding count mismatch")
	}
}

func TestChromem_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewChromemStore(dir, "persist", 4)
	if _, err := first.Upsert(ctx, []model.Chunk{testChunk("doc", 0, "durable entry")}, [][]float32{unitVec(4, 0)}); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	// A fresh store over the same directory sees the data.
	second := NewChromemStore(dir, "persist", 4)
	hits, err := second.Search(ctx, unitVec(4, 0), 1, nil)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(hits) != 1 || hits[0].ChunkID != "doc_chunk_0" {
		t.Errorf("hits = %+v, want persisted chunk", hits)
	}
}
