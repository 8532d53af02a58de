package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/prana-labs/wellness-backend/internal/errs"
	"github.com/prana-labs/wellness-backend/internal/model"
)

// ChromemStore is the embedded on-disk backend. The collection records its
// vector dimension in collection metadata at creation time; a query vector
// of a different dimension triggers drop-and-recreate at the new dimension.
type ChromemStore struct {
	persistDir     string
	collectionName string
	dimension      int

	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
	initOnce   sync.Once
	initErr    error
}

// NewChromemStore creates the store. No disk I/O happens until Initialize.
func NewChromemStore(persistDir, collectionName string, dimension int) *ChromemStore {
	return &ChromemStore{
		persistDir:     persistDir,
		collectionName: collectionName,
		dimension:      dimension,
	}
}

// noEmbedFunc is installed as the collection's embedding function. All
// vectors are supplied explicitly at upsert and query time, so any call
// into it is a bug.
func noEmbedFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: implicit embedding requested; vectors must be precomputed")
}

// Initialize opens the persistent database and the collection. Safe against
// concurrent first use; subsequent calls are no-ops.
func (s *ChromemStore) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		db, err := chromem.NewPersistentDB(s.persistDir, false)
		if err != nil {
			s.initErr = errs.New(errs.ErrRetrieval, "chromem: open %s: %v", s.persistDir, err)
			return
		}
		s.db = db

		col, err := db.GetOrCreateCollection(s.collectionName, map[string]string{
			"dimension": strconv.Itoa(s.dimension),
		}, noEmbedFunc)
		if err != nil {
			s.initErr = errs.New(errs.ErrRetrieval, "chromem: collection %s: %v", s.collectionName, err)
			return
		}
		s.collection = col

		slog.Info("chromem store initialized",
			"persist_dir", s.persistDir,
			"collection", s.collectionName,
			"dimension", s.dimension,
			"count", col.Count(),
		)
	})
	return s.initErr
}

// Upsert stores chunks with their vectors in batches of 100.
func (s *ChromemStore) Upsert(ctx context.Context, chunks []model.Chunk, embeddings [][]float32) (int, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	if len(chunks) != len(embeddings) {
		return 0, errs.New(errs.ErrRetrieval, "chromem: chunk count (%d) != embedding count (%d)", len(chunks), len(embeddings))
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Embedding: embeddings[i],
			Metadata:  flattenMetadata(c),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	upserted := 0
	for start := 0; start < len(docs); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.collection.AddDocuments(ctx, docs[start:end], 1); err != nil {
			return upserted, errs.New(errs.ErrRetrieval, "chromem: upsert batch %d-%d: %v", start, end, err)
		}
		upserted += end - start
	}

	return upserted, nil
}

// Search returns the top-k hits by cosine similarity. On a dimension
// mismatch the collection is dropped and recreated at the query's
// dimension; the (now empty) collection yields no results.
func (s *ChromemStore) Search(ctx context.Context, queryVec []float32, k int, filter map[string]string) ([]SearchResult, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureDimensionLocked(len(queryVec)); err != nil {
		return nil, err
	}

	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	hits, err := s.collection.QueryEmbedding(ctx, queryVec, k, filter, nil)
	if err != nil {
		return nil, errs.New(errs.ErrRetrieval, "chromem: query: %v", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{
			ChunkID:  h.ID,
			Score:    float64(h.Similarity),
			Content:  h.Content,
			Metadata: h.Metadata,
		})
	}
	return results, nil
}

// ensureDimensionLocked enforces the dimension coherence invariant against
// the dimension this store tracks: the configured one, or the one set by the
// last recreate. The metadata of a collection that already existed on disk
// at Initialize is not read back, so its stored dimension is not checked.
func (s *ChromemStore) ensureDimensionLocked(queryDim int) error {
	if queryDim == s.dimension {
		return nil
	}

	slog.Warn("embedding dimension mismatch, recreating collection",
		"collection", s.collectionName,
		"collection_dim", s.dimension,
		"query_dim", queryDim,
	)

	if err := s.db.DeleteCollection(s.collectionName); err != nil {
		return errs.New(errs.ErrRetrieval, "chromem: drop collection: %v", err)
	}
	col, err := s.db.GetOrCreateCollection(s.collectionName, map[string]string{
		"dimension": strconv.Itoa(queryDim),
	}, noEmbedFunc)
	if err != nil {
		return errs.New(errs.ErrRetrieval, "chromem: recreate collection: %v", err)
	}

	s.collection = col
	s.dimension = queryDim
	return nil
}

// Delete removes chunks by id. Returns the number requested; chromem does
// not report per-id outcomes.
func (s *ChromemStore) Delete(ctx context.Context, chunkIDs []string) (int, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.collection.Delete(ctx, nil, nil, chunkIDs...); err != nil {
		return 0, errs.New(errs.ErrRetrieval, "chromem: delete: %v", err)
	}
	return len(chunkIDs), nil
}

// Stats reports the collection size and dimension.
func (s *ChromemStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.Initialize(ctx); err != nil {
		return Stats{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Count:     s.collection.Count(),
		Dimension: s.dimension,
		Backend:   "chromem",
	}, nil
}

var _ Store = (*ChromemStore)(nil)
