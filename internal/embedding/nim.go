package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prana-labs/wellness-backend/internal/errs"
)

// NIMConfig configures the remote NVIDIA NIM embedding provider.
type NIMConfig struct {
	APIKey    string
	APIURL    string
	Model     string
	Dimension int
	MaxTokens int // per-text token cap enforced by pre-truncation
	BatchSize int
	Normalize bool
}

// NIMProvider talks to an OpenAI-compatible embeddings endpoint over HTTP.
// It accepts both observed response shapes: {"data":[{"embedding":...}]}
// and {"embeddings":[[...]]}.
type NIMProvider struct {
	cfg        NIMConfig
	httpClient *http.Client

	closeOnce sync.Once
	// Connection setup is retried once on first use per service lifetime;
	// after that, transport errors surface to the caller unretried.
	retriedConnect atomic.Bool
}

// NewNIMProvider validates config and creates the provider. No network I/O
// happens until the first embedding call.
func NewNIMProvider(cfg NIMConfig) (*NIMProvider, error) {
	if cfg.APIKey == "" {
		return nil, errs.New(errs.ErrConfiguration, "NIM embedding API key is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://integrate.api.nvidia.com/v1/embeddings"
	}
	if cfg.Model == "" {
		cfg.Model = "nvidia/nv-embedqa-e5-v5"
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1024
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}

	return &NIMProvider{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Initialize is a no-op beyond config validation done at construction.
func (p *NIMProvider) Initialize(ctx context.Context) error { return nil }

// ModelName returns the configured model identifier.
func (p *NIMProvider) ModelName() string { return p.cfg.Model }

// Dimension returns the declared vector dimension.
func (p *NIMProvider) Dimension() int { return p.cfg.Dimension }

// EmbedBatch embeds texts in provider-sized batches. A failed batch is
// substituted with zero vectors so ingestion can proceed; the failure is
// logged, not returned. Output count always equals input count.
func (p *NIMProvider) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	result := &BatchResult{
		Embeddings:  make([][]float32, 0, len(texts)),
		TokenCounts: make([]int, 0, len(texts)),
		ModelName:   p.cfg.Model,
		Dimension:   p.cfg.Dimension,
	}
	if len(texts) == 0 {
		return result, nil
	}

	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = p.truncate(t)
	}

	for start := 0; start < len(truncated); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(truncated) {
			end = len(truncated)
		}
		batch := truncated[start:end]

		vecs, tokens, err := p.embedHTTP(ctx, batch, "passage")
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Error("[NIM-EMBED] batch failed, substituting zero vectors",
				"batch_start", start, "batch_size", len(batch), "error", err)
			for _, t := range batch {
				result.Embeddings = append(result.Embeddings, make([]float32, p.cfg.Dimension))
				result.TokenCounts = append(result.TokenCounts, len(strings.Fields(t)))
			}
			continue
		}

		result.Embeddings = append(result.Embeddings, vecs...)
		result.TokenCounts = append(result.TokenCounts, tokens...)
	}

	if p.cfg.Normalize {
		l2Normalize(result.Embeddings)
	}

	return result, nil
}

// EmbedQuery embeds a single query text with input_type "query". Unlike the
// batch path, a provider failure here surfaces to the caller.
func (p *NIMProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, _, err := p.embedHTTP(ctx, []string{p.truncate(query)}, "query")
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("nim: expected 1 vector, got %d", len(vecs))
	}
	if p.cfg.Normalize {
		l2Normalize(vecs)
	}
	return vecs[0], nil
}

// Close releases the idle connection pool. Idempotent.
func (p *NIMProvider) Close() error {
	p.closeOnce.Do(func() {
		p.httpClient.CloseIdleConnections()
	})
	return nil
}

// truncate caps a text at 3·MaxTokens characters (conservative BPE ratio),
// preferring a trailing whitespace boundary within the last 10% of the kept
// prefix.
func (p *NIMProvider) truncate(text string) string {
	maxChars := p.cfg.MaxTokens * 3
	if len(text) <= maxChars {
		return text
	}
	cut := text[:maxChars]
	if lastSpace := strings.LastIndexByte(cut, ' '); lastSpace > maxChars*9/10 {
		cut = cut[:lastSpace]
	}
	slog.Warn("[NIM-EMBED] truncating oversized text", "original_chars", len(text), "kept_chars", len(cut))
	return cut
}

type nimRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	InputType string   `json:"input_type"`
}

// nimResponse covers both response shapes the API has been observed to
// return.
type nimResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Usage     *struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage,omitempty"`
	} `json:"data"`
	Embeddings [][]float32 `json:"embeddings"`
}

// embedHTTP performs one embeddings API call for a single batch.
func (p *NIMProvider) embedHTTP(ctx context.Context, texts []string, inputType string) ([][]float32, []int, error) {
	body, err := json.Marshal(nimRequest{
		Model:     p.cfg.Model,
		Input:     texts,
		InputType: inputType,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("nim: marshal request: %w", err)
	}

	resp, err := p.do(ctx, body)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("nim: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, errs.New(errs.ErrEmbedding, "nim: status %d: %s", resp.StatusCode, firstN(string(respBody), 200))
	}

	var parsed nimResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, nil, errs.New(errs.ErrEmbedding, "nim: decode response: %v", err)
	}

	vecs := make([][]float32, 0, len(texts))
	tokens := make([]int, 0, len(texts))

	switch {
	case len(parsed.Data) > 0:
		for i, item := range parsed.Data {
			vecs = append(vecs, item.Embedding)
			if item.Usage != nil && item.Usage.TotalTokens > 0 {
				tokens = append(tokens, item.Usage.TotalTokens)
			} else if i < len(texts) {
				tokens = append(tokens, len(strings.Fields(texts[i])))
			} else {
				tokens = append(tokens, 0)
			}
		}
	case len(parsed.Embeddings) > 0:
		for i, vec := range parsed.Embeddings {
			vecs = append(vecs, vec)
			if i < len(texts) {
				tokens = append(tokens, len(strings.Fields(texts[i])))
			} else {
				tokens = append(tokens, 0)
			}
		}
	default:
		return nil, nil, errs.New(errs.ErrEmbedding, "nim: unexpected response shape: %s", firstN(string(respBody), 200))
	}

	if len(vecs) != len(texts) {
		return nil, nil, errs.New(errs.ErrEmbedding, "nim: got %d embeddings for %d inputs", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != p.cfg.Dimension {
			return nil, nil, errs.New(errs.ErrEmbedding, "nim: vector %d has dimension %d, want %d", i, len(v), p.cfg.Dimension)
		}
	}

	return vecs, tokens, nil
}

// do issues the HTTP request, retrying exactly once on a transport error
// for the first call of the provider's lifetime (cold connection setup).
func (p *NIMProvider) do(ctx context.Context, body []byte) (*http.Response, error) {
	attempt := func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("nim: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		return p.httpClient.Do(req)
	}

	firstUse := p.retriedConnect.CompareAndSwap(false, true)
	resp, err := attempt()
	if err != nil && ctx.Err() == nil && firstUse {
		slog.Warn("[NIM-EMBED] transport error on first use, retrying once", "error", err)
		resp, err = attempt()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("nim: request cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("nim: request failed: %w", err)
	}
	return resp, nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
