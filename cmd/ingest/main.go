// Command ingest processes a corpus directory into the vector index:
// load → chunk → embed → upsert, then a verification query.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/prana-labs/wellness-backend/internal/cache"
	"github.com/prana-labs/wellness-backend/internal/config"
	"github.com/prana-labs/wellness-backend/internal/embedding"
	"github.com/prana-labs/wellness-backend/internal/model"
	"github.com/prana-labs/wellness-backend/internal/service"
	"github.com/prana-labs/wellness-backend/internal/vectordb"
)

const ingestConcurrency = 4

func main() {
	corpusDir := flag.String("corpus", "./data/knowledge_base", "directory of .md/.txt source files")
	verifyQuery := flag.String("verify", "What is mountain pose?", "query used to verify the index after ingestion")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := run(*corpusDir, *verifyQuery); err != nil {
		slog.Error("ingestion failed", "error", err)
		os.Exit(1)
	}
}

func run(corpusDir, verifyQuery string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()

	docs, err := loadCorpus(corpusDir)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no .md or .txt files found in %s", corpusDir)
	}
	slog.Info("corpus loaded", "documents", len(docs))

	chunker := service.NewChunkerService(service.ChunkingConfig{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})
	embedCache := cache.NewEmbeddingCache(1000, time.Duration(cfg.EmbeddingCacheTTL)*time.Second)
	embedder := embedding.NewService(cfg, embedCache)
	defer embedder.Close()
	store := vectordb.New(cfg)

	if err := embedder.Initialize(ctx); err != nil {
		return err
	}
	if err := store.Initialize(ctx); err != nil {
		return err
	}

	// Chunk everything first; a bad document is reported and skipped.
	chunksByDoc, failures := chunker.ChunkBatch(ctx, docs)
	for docID, chunkErr := range failures {
		slog.Warn("document skipped", "document_id", docID, "error", chunkErr)
	}

	// Embed and upsert per document, a few documents in flight at a time.
	// Provider batch failures inside EmbedBatch degrade to zero vectors, so
	// the upsert for a document always proceeds.
	var allChunks []model.Chunk
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(ingestConcurrency)

	for docID, chunks := range chunksByDoc {
		if len(chunks) == 0 {
			continue
		}
		allChunks = append(allChunks, chunks...)

		g.Go(func() error {
			texts := make([]string, len(chunks))
			for i, c := range chunks {
				texts[i] = c.Content
			}

			batch, err := embedder.EmbedBatch(gCtx, texts, true)
			if err != nil {
				return fmt.Errorf("embed %s: %w", docID, err)
			}

			count, err := store.Upsert(gCtx, chunks, batch.Embeddings)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", docID, err)
			}
			slog.Info("document indexed", "document_id", docID, "chunks", count)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	printStats(allChunks)

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("index: backend=%s count=%d dimension=%d\n", stats.Backend, stats.Count, stats.Dimension)

	// Verification query against the freshly built index.
	retriever := service.NewRetrieverService(embedder, store)
	results, err := retriever.Retrieve(ctx, verifyQuery, 3, 0.0)
	if err != nil {
		return fmt.Errorf("verification query: %w", err)
	}
	fmt.Printf("verification query %q returned %d results\n", verifyQuery, len(results))
	for _, r := range results {
		fmt.Printf("  rank=%d score=%.4f chunk=%s\n", r.RelevanceRank, r.SimilarityScore, r.Chunk.ID)
	}

	return nil
}

// loadCorpus reads every .md/.txt file under dir into a KnowledgeDocument,
// keyword-categorizing each one.
func loadCorpus(dir string) ([]model.KnowledgeDocument, error) {
	var docs []model.KnowledgeDocument

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("unreadable file skipped", "path", path, "error", err)
			return nil
		}

		base := strings.TrimSuffix(filepath.Base(path), ext)
		docs = append(docs, model.KnowledgeDocument{
			ID:          slugify(base),
			Title:       base,
			Content:     string(content),
			Category:    categorize(string(content)),
			Source:      filepath.Base(path),
			LastUpdated: time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}

	return docs, nil
}

// categorize picks a content category from keyword hits, defaulting to YOGA
// for this corpus.
func categorize(content string) model.ContentCategory {
	lower := strings.ToLower(content)
	switch {
	case containsAny(lower, "pranayama", "breathing", "breath", "meditation"):
		return model.CategoryMeditation
	case containsAny(lower, "safety", "contraindication", "injury"):
		return model.CategoryWellness
	case containsAny(lower, "nutrition", "diet", "food"):
		return model.CategoryNutrition
	case containsAny(lower, "exercise", "fitness", "strength"):
		return model.CategoryExercise
	default:
		return model.CategoryYoga
	}
}

func containsAny(s string, terms ...string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// slugify turns a file name into a stable document id.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '_':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func printStats(chunks []model.Chunk) {
	stats := service.Stats(chunks)
	fmt.Printf("chunks: total=%d tokens=%d avg=%.1f min=%d max=%d\n",
		stats.TotalChunks, stats.TotalTokens, stats.AvgTokens, stats.MinTokens, stats.MaxTokens)
	for cat, n := range stats.ByCategory {
		fmt.Printf("  %s: %d\n", cat, n)
	}
}
