// Package embedding offers a uniform batch/query embedding API over
// pluggable providers (remote NIM HTTP API, local hash model) with an
// optional LRU cache in front.
package embedding

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/prana-labs/wellness-backend/internal/cache"
	"github.com/prana-labs/wellness-backend/internal/config"
	"github.com/prana-labs/wellness-backend/internal/errs"
)

// BatchResult is the output of a batch embedding call. Embeddings has
// exactly one vector per input text, all of the provider's declared
// dimension.
type BatchResult struct {
	Embeddings  [][]float32
	TokenCounts []int
	ModelName   string
	Dimension   int
}

// Provider is the capability interface implemented by embedding backends.
// Implementations handle their own batching, truncation, and
// failed-batch zero-vector substitution.
type Provider interface {
	Initialize(ctx context.Context) error
	EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	ModelName() string
	Dimension() int
	Close() error
}

// Service fronts a single sticky Provider with the embedding cache.
// Provider selection happens once at construction; per-call runtime
// failover is deliberately not performed.
type Service struct {
	provider Provider
	cache    *cache.EmbeddingCache

	initOnce sync.Once
	initErr  error
}

// NewService selects a provider in preference order {remote NIM, local} and
// wraps it with c (nil c disables caching). A remote provider that cannot
// be constructed falls through to the local model.
func NewService(cfg *config.Config, c *cache.EmbeddingCache) *Service {
	var provider Provider
	if cfg.UseNIMEmbeddings() {
		p, err := NewNIMProvider(NIMConfig{
			APIKey:    cfg.NIMEmbeddingAPIKey,
			APIURL:    cfg.NIMEmbeddingAPIURL,
			Model:     cfg.NIMEmbeddingModel,
			Dimension: cfg.EmbeddingDimension,
			Normalize: true,
		})
		if err != nil {
			slog.Warn("remote embedding provider unavailable, falling back to local model", "error", err)
		} else {
			provider = p
		}
	}
	if provider == nil {
		provider = NewLocalProvider(cfg.LocalEmbeddingModel)
	}

	slog.Info("embedding service configured",
		"model", provider.ModelName(),
		"dimension", provider.Dimension(),
		"cache_enabled", c != nil,
	)

	return &Service{provider: provider, cache: c}
}

// NewServiceWithProvider wires an explicit provider (tests, ingestion).
func NewServiceWithProvider(p Provider, c *cache.EmbeddingCache) *Service {
	return &Service{provider: p, cache: c}
}

// Initialize prepares the underlying provider. Idempotent and safe for
// concurrent first use.
func (s *Service) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.provider.Initialize(ctx)
	})
	return s.initErr
}

// ModelName reports the active model.
func (s *Service) ModelName() string { return s.provider.ModelName() }

// Dimension reports the active vector dimension.
func (s *Service) Dimension() int { return s.provider.Dimension() }

// EmbedBatch embeds texts, serving cached entries and calling the provider
// only for misses. Output order matches input order; output count always
// equals input count. Caching is opt-in per call.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, useCache bool) (*BatchResult, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, errs.Wrap(errs.ErrEmbedding, err)
	}

	result := &BatchResult{
		Embeddings:  make([][]float32, len(texts)),
		TokenCounts: make([]int, len(texts)),
		ModelName:   s.provider.ModelName(),
		Dimension:   s.provider.Dimension(),
	}
	if len(texts) == 0 {
		return result, nil
	}

	var missTexts []string
	var missIdx []int
	cached := 0

	if s.cache != nil && useCache {
		for i, text := range texts {
			if vec, ok := s.cache.Get(text, result.ModelName); ok {
				result.Embeddings[i] = vec
				result.TokenCounts[i] = wordTokenEstimate(text)
				cached++
				continue
			}
			missTexts = append(missTexts, text)
			missIdx = append(missIdx, i)
		}
	} else {
		missTexts = texts
		missIdx = make([]int, len(texts))
		for i := range texts {
			missIdx[i] = i
		}
	}

	if len(missTexts) > 0 {
		slog.Debug("[EMBED] batch", "total", len(texts), "cache_hits", cached, "misses", len(missTexts))

		fresh, err := s.provider.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, errs.Wrap(errs.ErrEmbedding, err)
		}
		if len(fresh.Embeddings) != len(missTexts) {
			return nil, errs.New(errs.ErrEmbedding, "provider returned %d vectors for %d texts", len(fresh.Embeddings), len(missTexts))
		}

		for j, origIdx := range missIdx {
			result.Embeddings[origIdx] = fresh.Embeddings[j]
			result.TokenCounts[origIdx] = fresh.TokenCounts[j]
			if s.cache != nil && useCache {
				s.cache.Set(missTexts[j], result.ModelName, fresh.Embeddings[j])
			}
		}
	}

	return result, nil
}

// EmbedQuery embeds a single query string, always consulting the cache.
func (s *Service) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errs.New(errs.ErrEmbedding, "query cannot be empty")
	}
	if err := s.Initialize(ctx); err != nil {
		return nil, errs.Wrap(errs.ErrEmbedding, err)
	}

	if s.cache != nil {
		if vec, ok := s.cache.Get(query, s.provider.ModelName()); ok {
			slog.Debug("[EMBED] query cache hit")
			return vec, nil
		}
	}

	vec, err := s.provider.EmbedQuery(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.ErrEmbedding, err)
	}
	if s.cache != nil {
		s.cache.Set(query, s.provider.ModelName(), vec)
	}
	return vec, nil
}

// Close releases provider resources. Idempotent.
func (s *Service) Close() error {
	return s.provider.Close()
}

// l2Normalize scales each non-zero vector to unit length in place.
// Zero vectors are preserved as zero.
func l2Normalize(vectors [][]float32) {
	for _, vec := range vectors {
		var sumSq float64
		for _, v := range vec {
			sumSq += float64(v) * float64(v)
		}
		if sumSq == 0 {
			continue
		}
		norm := math.Sqrt(sumSq)
		for i, v := range vec {
			vec[i] = float32(float64(v) / norm)
		}
	}
}

// wordTokenEstimate is the coarse words*1.3 token figure reported for
// cache-served texts, where the provider's own count is unavailable.
func wordTokenEstimate(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 1.3))
}
