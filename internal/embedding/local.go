package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const localDimension = 384

// LocalProvider is the in-process fallback embedder. It projects word and
// character-trigram features into a fixed 384-dimension space by feature
// hashing and L2-normalizes the result. Not a learned model, but it is
// deterministic, always constructible, needs no network, and preserves
// enough lexical overlap signal for cosine retrieval over a small corpus.
type LocalProvider struct {
	modelName string
	batchSize int
}

// NewLocalProvider creates the local embedder. modelName is only a label
// reported in results and cache keys.
func NewLocalProvider(modelName string) *LocalProvider {
	if modelName == "" {
		modelName = "all-MiniLM-L6-v2"
	}
	return &LocalProvider{modelName: modelName, batchSize: 32}
}

// Initialize is a no-op: there is no model to load.
func (p *LocalProvider) Initialize(ctx context.Context) error { return nil }

// ModelName returns the configured label.
func (p *LocalProvider) ModelName() string { return p.modelName }

// Dimension returns the fixed local dimension.
func (p *LocalProvider) Dimension() int { return localDimension }

// EmbedBatch embeds every text. The local path cannot fail per batch, so no
// zero-vector substitution is ever needed here.
func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	result := &BatchResult{
		Embeddings:  make([][]float32, 0, len(texts)),
		TokenCounts: make([]int, 0, len(texts)),
		ModelName:   p.modelName,
		Dimension:   localDimension,
	}

	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Embeddings = append(result.Embeddings, hashEmbed(text))
		result.TokenCounts = append(result.TokenCounts, len(strings.Fields(text)))
	}

	l2Normalize(result.Embeddings)
	return result, nil
}

// EmbedQuery embeds a single query.
func (p *LocalProvider) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	res, err := p.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return res.Embeddings[0], nil
}

// Close is a no-op; the provider holds no resources.
func (p *LocalProvider) Close() error { return nil }

// hashEmbed accumulates signed feature-hash contributions for each word and
// each character trigram of the lowercased text.
func hashEmbed(text string) []float32 {
	vec := make([]float32, localDimension)
	lower := strings.ToLower(text)

	for _, word := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		addFeature(vec, word, 1.0)

		runes := []rune(word)
		for i := 0; i+3 <= len(runes); i++ {
			addFeature(vec, "tri:"+string(runes[i:i+3]), 0.5)
		}
	}

	return vec
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(len(vec)))
	sign := float32(1)
	if (sum>>63)&1 == 1 {
		sign = -1
	}
	vec[idx] += sign * weight
}
