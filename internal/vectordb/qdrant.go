package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prana-labs/wellness-backend/internal/errs"
	"github.com/prana-labs/wellness-backend/internal/model"
)

// qdrantNamespace derives stable point UUIDs from chunk ids. Qdrant only
// accepts UUID or integer point ids, so the chunk id itself lives in the
// payload and the point id is a SHA1 UUID of it — deterministic, which
// makes upserts idempotent.
var qdrantNamespace = uuid.MustParse("8a6e0804-2bd0-4672-b79d-d97027f9071a")

// QdrantConfig configures the remote managed backend.
type QdrantConfig struct {
	BaseURL    string
	APIKey     string
	Collection string
	Dimension  int
}

// QdrantStore talks to a Qdrant cluster over its REST API. Safe for
// concurrent use after Initialize.
type QdrantStore struct {
	cfg        QdrantConfig
	httpClient *http.Client

	mu        sync.Mutex
	dimension int
	initOnce  sync.Once
	initErr   error
}

// NewQdrantStore creates the store. No network I/O happens until Initialize.
func NewQdrantStore(cfg QdrantConfig) *QdrantStore {
	return &QdrantStore{
		cfg:        cfg,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Initialize ensures the collection exists with cosine distance at the
// configured dimension. Idempotent and safe for concurrent first use.
func (s *QdrantStore) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.ensureCollection(ctx, s.dimension)
		if s.initErr == nil {
			slog.Info("qdrant store initialized",
				"base_url", s.cfg.BaseURL,
				"collection", s.cfg.Collection,
				"dimension", s.dimension,
			)
		}
	})
	return s.initErr
}

func (s *QdrantStore) ensureCollection(ctx context.Context, dim int) error {
	body := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	// PUT create returns 409/400 when the collection already exists; both
	// are fine as long as a follow-up info call succeeds.
	if err := s.call(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
		if _, infoErr := s.collectionInfo(ctx); infoErr != nil {
			return errs.New(errs.ErrRetrieval, "qdrant: ensure collection: %v", err)
		}
	}
	return nil
}

type qdrantCollectionInfo struct {
	Result struct {
		PointsCount int `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

func (s *QdrantStore) collectionInfo(ctx context.Context) (*qdrantCollectionInfo, error) {
	var info qdrantCollectionInfo
	if err := s.call(ctx, http.MethodGet, s.collectionPath(""), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Upsert writes points in batches of 100. Point ids are derived UUIDs; the
// chunk id, content, and flattened metadata travel in the payload.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []model.Chunk, embeddings [][]float32) (int, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	if len(chunks) != len(embeddings) {
		return 0, errs.New(errs.ErrRetrieval, "qdrant: chunk count (%d) != embedding count (%d)", len(chunks), len(embeddings))
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	upserted := 0
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		points := make([]point, 0, end-start)
		for i := start; i < end; i++ {
			payload := map[string]any{
				"chunk_id": chunks[i].ID,
				"content":  chunks[i].Content,
			}
			for k, v := range flattenMetadata(chunks[i]) {
				payload[k] = v
			}
			points = append(points, point{
				ID:      uuid.NewSHA1(qdrantNamespace, []byte(chunks[i].ID)).String(),
				Vector:  embeddings[i],
				Payload: payload,
			})
		}

		if err := s.call(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), map[string]any{"points": points}, nil); err != nil {
			return upserted, errs.New(errs.ErrRetrieval, "qdrant: upsert batch %d-%d: %v", start, end, err)
		}
		upserted += end - start
	}

	return upserted, nil
}

// Search returns the top-k hits by cosine similarity. Qdrant reports
// similarity scores directly, so no distance conversion applies. On a
// dimension mismatch the collection is dropped and recreated at the
// query's dimension.
func (s *QdrantStore) Search(ctx context.Context, queryVec []float32, k int, filter map[string]string) ([]SearchResult, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}

	if err := s.ensureDimension(ctx, len(queryVec)); err != nil {
		return nil, err
	}

	body := map[string]any{
		"vector":       queryVec,
		"limit":        k,
		"with_payload": true,
	}
	if len(filter) > 0 {
		must := make([]map[string]any, 0, len(filter))
		for key, val := range filter {
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"value": val},
			})
		}
		body["filter"] = map[string]any{"must": must}
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := s.call(ctx, http.MethodPost, s.collectionPath("/points/search"), body, &resp); err != nil {
		return nil, errs.New(errs.ErrRetrieval, "qdrant: search: %v", err)
	}

	results := make([]SearchResult, 0, len(resp.Result))
	for _, hit := range resp.Result {
		meta := make(map[string]string, len(hit.Payload))
		var chunkID, content string
		for k, v := range hit.Payload {
			str, ok := v.(string)
			if !ok {
				str = fmt.Sprintf("%v", v)
			}
			switch k {
			case "chunk_id":
				chunkID = str
			case "content":
				content = str
			default:
				meta[k] = str
			}
		}
		results = append(results, SearchResult{
			ChunkID:  chunkID,
			Score:    hit.Score,
			Content:  content,
			Metadata: meta,
		})
	}
	return results, nil
}

// ensureDimension consults collection info and applies the
// drop-and-recreate policy when the query dimension disagrees.
func (s *QdrantStore) ensureDimension(ctx context.Context, queryDim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if queryDim == s.dimension {
		return nil
	}

	info, err := s.collectionInfo(ctx)
	if err == nil && info.Result.Config.Params.Vectors.Size == queryDim {
		s.dimension = queryDim
		return nil
	}

	slog.Warn("embedding dimension mismatch, recreating collection",
		"collection", s.cfg.Collection,
		"collection_dim", s.dimension,
		"query_dim", queryDim,
	)

	if err := s.call(ctx, http.MethodDelete, s.collectionPath(""), nil, nil); err != nil {
		return errs.New(errs.ErrRetrieval, "qdrant: drop collection: %v", err)
	}
	if err := s.ensureCollection(ctx, queryDim); err != nil {
		return err
	}
	s.dimension = queryDim
	return nil
}

// Delete removes points for the given chunk ids.
func (s *QdrantStore) Delete(ctx context.Context, chunkIDs []string) (int, error) {
	if err := s.Initialize(ctx); err != nil {
		return 0, err
	}
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	ids := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = uuid.NewSHA1(qdrantNamespace, []byte(id)).String()
	}

	if err := s.call(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), map[string]any{"points": ids}, nil); err != nil {
		return 0, errs.New(errs.ErrRetrieval, "qdrant: delete: %v", err)
	}
	return len(chunkIDs), nil
}

// Stats reports point count and dimension from collection info.
func (s *QdrantStore) Stats(ctx context.Context) (Stats, error) {
	if err := s.Initialize(ctx); err != nil {
		return Stats{}, err
	}

	info, err := s.collectionInfo(ctx)
	if err != nil {
		return Stats{}, errs.New(errs.ErrRetrieval, "qdrant: stats: %v", err)
	}
	return Stats{
		Count:     info.Result.PointsCount,
		Dimension: info.Result.Config.Params.Vectors.Size,
		Backend:   "qdrant",
	}, nil
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(s.cfg.Collection) + suffix
}

// call issues one REST request and decodes the JSON response into out when
// non-nil. Non-2xx statuses return an error carrying a response excerpt.
func (s *QdrantStore) call(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("qdrant: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("qdrant: request cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("qdrant: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant: %s %s: status %d: %s", method, path, resp.StatusCode, firstN(string(respBody), 200))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("qdrant: decode response: %w", err)
		}
	}
	return nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Store = (*QdrantStore)(nil)
