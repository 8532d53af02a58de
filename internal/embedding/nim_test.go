package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prana-labs/wellness-backend/internal/errs"
)

func nimTestProvider(t *testing.T, handler http.HandlerFunc, dim int) *NIMProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewNIMProvider(NIMConfig{
		APIKey:    "test-key",
		APIURL:    srv.URL,
		Model:     "test/embed-model",
		Dimension: dim,
		MaxTokens: 8,
		BatchSize: 2,
		Normalize: true,
	})
	if err != nil {
		t.Fatalf("NewNIMProvider() error: %v", err)
	}
	return p
}

func vectorOf(dim int, val float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = val
	}
	return v
}

func TestNIM_DataShapeAccepted(t *testing.T) {
	p := nimTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req nimRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.InputType != "passage" {
			t.Errorf("input_type = %q, want passage", req.InputType)
		}

		items := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			items[i] = map[string]any{
				"embedding": vectorOf(4, 0.5),
				"usage":     map[string]any{"total_tokens": 7},
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": items})
	}, 4)

	res, err := p.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("EmbedBatch() error: %v", err)
	}
	if len(res.Embeddings) != 3 {
		t.Fatalf("embeddings = %d, want 3", len(res.Embeddings))
	}
	if res.TokenCounts[0] != 7 {
		t.Errorf("token count = %d, want usage total 7", res.TokenCounts[0])
	}
	for i, vec := range res.Embeddings {
		if len(vec) != 4 {
			t.Errorf("vector %d dimension = %d", i, len(vec))
		}
	}
}

func TestNIM_EmbeddingsShapeAccepted(t *testing.T) {
	p := nimTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req nimRequest
		json.NewDecoder(r.Body).Decode(&req)
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = vectorOf(4, 0.25)
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	}, 4)

	res, err := p.EmbedBatch(context.Background(), []string{"one two", "three four"})
	if err != nil {
		t.Fatalf("EmbedBatch() error: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("embeddings = %d, want 2", len(res.Embeddings))
	}
	if res.TokenCounts[0] != 2 {
		t.Errorf("token count = %d, want word-count fallback 2", res.TokenCounts[0])
	}
}

func TestNIM_UnexpectedShapeTypedError(t *testing.T) {
	p := nimTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"surprise": true})
	}, 4)

	_, err := p.EmbedQuery(context.Background(), "query")
	if err == nil {
		t.Fatal("expected typed error for unexpected shape")
	}
	if !errors.Is(err, errs.ErrEmbedding) {
		t.Errorf("error kind = %v, want ErrEmbedding", err)
	}
}

func TestNIM_FailedBatchSubstitutesZeroVectors(t *testing.T) {
	p := nimTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	}, 4)

	res, err := p.EmbedBatch(context.Background(), []string{"alpha beta", "gamma"})
	if err != nil {
		t.Fatalf("batch failures must be recovered, got: %v", err)
	}
	if len(res.Embeddings) != 2 {
		t.Fatalf("embeddings = %d, want 2", len(res.Embeddings))
	}
	for i, vec := range res.Embeddings {
		if len(vec) != 4 {
			t.Fatalf("vector %d dimension = %d", i, len(vec))
		}
		for _, v := range vec {
			if v != 0 {
				t.Errorf("vector %d not zero-substituted", i)
			}
		}
	}
}

func TestNIM_QueryErrorSurfaces(t *testing.T) {
	p := nimTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}, 4)

	if _, err := p.EmbedQuery(context.Background(), "query"); err == nil {
		t.Fatal("query-path provider failures must surface")
	}
}

func TestNIM_QueryInputType(t *testing.T) {
	p := nimTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req nimRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.InputType != "query" {
			t.Errorf("input_type = %q, want query", req.InputType)
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{vectorOf(4, 1)}})
	}, 4)

	vec, err := p.EmbedQuery(context.Background(), "what is yoga")
	if err != nil {
		t.Fatalf("EmbedQuery() error: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("dimension = %d", len(vec))
	}
}

func TestNIM_DimensionMismatchRejected(t *testing.T) {
	p := nimTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{vectorOf(7, 1)}})
	}, 4)

	if _, err := p.EmbedQuery(context.Background(), "query"); err == nil {
		t.Fatal("expected error for wrong-dimension vector")
	}
}

func TestNIM_Truncation(t *testing.T) {
	var received string
	p := nimTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req nimRequest
		json.NewDecoder(r.Body).Decode(&req)
		received = req.Input[0]
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{vectorOf(4, 1)}})
	}, 4)

	// MaxTokens 8 → 24-char budget; text far beyond it must be cut at a
	// trailing word boundary.
	long := strings.Repeat("word ", 50)
	if _, err := p.EmbedQuery(context.Background(), long); err != nil {
		t.Fatalf("EmbedQuery() error: %v", err)
	}
	if len(received) > 24 {
		t.Errorf("received %d chars, want <= 24", len(received))
	}
	if strings.HasSuffix(received, "wor") {
		t.Errorf("truncation split a word: %q", received)
	}
}

func TestNIM_BatchSizeRespected(t *testing.T) {
	var batchSizes []int
	p := nimTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req nimRequest
		json.NewDecoder(r.Body).Decode(&req)
		batchSizes = append(batchSizes, len(req.Input))
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = vectorOf(4, 1)
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": vecs})
	}, 4)

	texts := []string{"a b", "c d", "e f", "g h", "i j"}
	res, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error: %v", err)
	}
	if len(res.Embeddings) != 5 {
		t.Fatalf("embeddings = %d, want 5", len(res.Embeddings))
	}
	for i, size := range batchSizes {
		if size > 2 {
			t.Errorf("batch %d size = %d, want <= 2", i, size)
		}
	}
}

func TestNIM_MissingAPIKeyRejected(t *testing.T) {
	if _, err := NewNIMProvider(NIMConfig{}); err == nil {
		t.Fatal("expected configuration error without API key")
	}
}
