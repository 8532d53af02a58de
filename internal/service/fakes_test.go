package service

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/prana-labs/wellness-backend/internal/embedding"
	"github.com/prana-labs/wellness-backend/internal/model"
	"github.com/prana-labs/wellness-backend/internal/nimclient"
	"github.com/prana-labs/wellness-backend/internal/vectordb"
)

// fakeProvider is a canned embedding backend.
type fakeProvider struct {
	dim      int
	queryVec []float32
	queryErr error
	calls    atomic.Int32
}

func (f *fakeProvider) Initialize(ctx context.Context) error { return nil }
func (f *fakeProvider) ModelName() string                    { return "fake-model" }
func (f *fakeProvider) Dimension() int                       { return f.dim }
func (f *fakeProvider) Close() error                         { return nil }

func (f *fakeProvider) EmbedBatch(ctx context.Context, texts []string) (*embedding.BatchResult, error) {
	f.calls.Add(1)
	res := &embedding.BatchResult{ModelName: "fake-model", Dimension: f.dim}
	for range texts {
		vec := make([]float32, f.dim)
		vec[0] = 1
		res.Embeddings = append(res.Embeddings, vec)
		res.TokenCounts = append(res.TokenCounts, 3)
	}
	return res, nil
}

func (f *fakeProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	f.calls.Add(1)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryVec != nil {
		return f.queryVec, nil
	}
	vec := make([]float32, f.dim)
	vec[0] = 1
	return vec, nil
}

// fakeStore is a canned vector index.
type fakeStore struct {
	hits      []vectordb.SearchResult
	searchErr error
	searches  atomic.Int32
}

func (f *fakeStore) Initialize(ctx context.Context) error { return nil }

func (f *fakeStore) Upsert(ctx context.Context, chunks []model.Chunk, embeddings [][]float32) (int, error) {
	return len(chunks), nil
}

func (f *fakeStore) Search(ctx context.Context, queryVec []float32, k int, filter map[string]string) ([]vectordb.SearchResult, error) {
	f.searches.Add(1)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeStore) Delete(ctx context.Context, chunkIDs []string) (int, error) {
	return len(chunkIDs), nil
}

func (f *fakeStore) Stats(ctx context.Context) (vectordb.Stats, error) {
	return vectordb.Stats{Count: len(f.hits), Dimension: 4, Backend: "fake"}, nil
}

// fakeChat is a canned LLM client.
type fakeChat struct {
	reply      string
	err        error
	lastPrompt string
	calls      atomic.Int32
}

func (f *fakeChat) Model() string { return "fake-llm" }

func (f *fakeChat) Generate(ctx context.Context, messages []nimclient.Message, temperature float64, maxTokens int) (string, error) {
	f.calls.Add(1)
	if len(messages) > 0 {
		f.lastPrompt = messages[len(messages)-1].Content
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

// captureLogger records dispatched log records.
type captureLogger struct {
	interactions []model.InteractionLog
	incidents    []model.SafetyIncident
}

func (c *captureLogger) LogInteraction(rec model.InteractionLog) {
	c.interactions = append(c.interactions, rec)
}

func (c *captureLogger) LogIncident(rec model.SafetyIncident) {
	c.incidents = append(c.incidents, rec)
}

var errBoom = errors.New("boom")

func newTestRetriever(store vectordb.Store, provider embedding.Provider) *RetrieverService {
	return NewRetrieverService(embedding.NewServiceWithProvider(provider, nil), store)
}

func searchHit(chunkID string, score float64, content string) vectordb.SearchResult {
	return vectordb.SearchResult{
		ChunkID: chunkID,
		Score:   score,
		Content: content,
		Metadata: map[string]string{
			"document_id": "doc",
			"chunk_index": "0",
			"source":      "kb.md",
			"category":    "YOGA",
			"tokens":      "12",
			"created_at":  "2025-06-01T10:00:00Z",
		},
	}
}
