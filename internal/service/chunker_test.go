package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prana-labs/wellness-backend/internal/errs"
	"github.com/prana-labs/wellness-backend/internal/model"
)

func testParagraph(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		b.WriteString("Regular yoga practice builds strength, balance, and flexibility over time. ")
	}
	return strings.TrimSpace(b.String())
}

func multiParagraphDoc(paragraphs int) string {
	parts := make([]string, paragraphs)
	for i := range parts {
		parts[i] = testParagraph(4)
	}
	return strings.Join(parts, "\n\n")
}

func TestChunker_BasicInvariants(t *testing.T) {
	svc := NewChunkerService(ChunkingConfig{ChunkSize: 60, ChunkOverlap: 10, MinChunkSize: 10, MaxChunkSize: 120})

	chunks, err := svc.ChunkDocument(context.Background(), multiParagraphDoc(12), "doc-1", "test.md", model.CategoryYoga)
	if err != nil {
		t.Fatalf("ChunkDocument() error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}

	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			t.Errorf("chunk[%d] has empty content", i)
		}
		if c.Metadata.Tokens < 5 {
			t.Errorf("chunk[%d] tokens = %d, want >= 5", i, c.Metadata.Tokens)
		}
		if !hasAlphaRun(c.Content, 3) {
			t.Errorf("chunk[%d] lacks an alphabetic run of 3", i)
		}
		if c.Metadata.ChunkIndex != i {
			t.Errorf("chunk[%d] index = %d, want %d", i, c.Metadata.ChunkIndex, i)
		}
		wantID := fmt.Sprintf("doc-1_chunk_%d", i)
		if c.ID != wantID {
			t.Errorf("chunk[%d] id = %q, want %q", i, c.ID, wantID)
		}
		if c.Metadata.DocumentID != "doc-1" {
			t.Errorf("chunk[%d] document id = %q", i, c.Metadata.DocumentID)
		}
		if c.Metadata.Category != model.CategoryYoga {
			t.Errorf("chunk[%d] category = %q", i, c.Metadata.Category)
		}
	}
}

func TestChunker_Deterministic(t *testing.T) {
	// A ~2000-character wellness paragraph chunked twice must produce
	// byte-identical content and token counts.
	var b strings.Builder
	for b.Len() < 2000 {
		b.WriteString("Mindful breathing supports recovery and steadies attention during long practice sessions. ")
	}
	text := b.String()

	svc := NewChunkerService(ChunkingConfig{ChunkSize: 80, ChunkOverlap: 12, MinChunkSize: 10, MaxChunkSize: 60})

	first, err := svc.ChunkDocument(context.Background(), text, "doc-det", "kb.md", model.CategoryWellness)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.ChunkDocument(context.Background(), text, "doc-det", "kb.md", model.CategoryWellness)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Content != second[i].Content {
			t.Errorf("chunk[%d] content differs", i)
		}
		if first[i].Metadata.Tokens != second[i].Metadata.Tokens {
			t.Errorf("chunk[%d] token counts differ: %d vs %d", i, first[i].Metadata.Tokens, second[i].Metadata.Tokens)
		}
		if first[i].ID != second[i].ID {
			t.Errorf("chunk[%d] ids differ: %q vs %q", i, first[i].ID, second[i].ID)
		}
	}
}

func TestChunker_OverlapCarried(t *testing.T) {
	svc := NewChunkerService(ChunkingConfig{ChunkSize: 40, ChunkOverlap: 5, MinChunkSize: 5, MaxChunkSize: 200})

	chunks, err := svc.ChunkDocument(context.Background(), multiParagraphDoc(10), "doc-ov", "kb.md", model.CategoryYoga)
	if err != nil {
		t.Fatalf("ChunkDocument() error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks, got %d", len(chunks))
	}

	// The second chunk starts with the tail words of the first.
	words := strings.Fields(chunks[0].Content)
	tail := strings.Join(words[len(words)-3:], " ")
	if !strings.Contains(chunks[1].Content, tail) {
		t.Errorf("chunk[1] missing overlap %q from chunk[0]", tail)
	}
}

func TestChunker_OversizedParagraphSplitBySentence(t *testing.T) {
	// One paragraph far beyond MaxChunkSize must be re-split at sentence
	// granularity rather than emitted whole.
	huge := testParagraph(120)
	svc := NewChunkerService(ChunkingConfig{ChunkSize: 50, ChunkOverlap: 5, MinChunkSize: 5, MaxChunkSize: 80})

	chunks, err := svc.ChunkDocument(context.Background(), huge, "doc-big", "kb.md", model.CategoryYoga)
	if err != nil {
		t.Fatalf("ChunkDocument() error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected sentence-level split, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if c.Metadata.Tokens > 80+EstimateTokens(strings.Repeat("word ", 10)) {
			t.Errorf("chunk[%d] tokens = %d, far above max", i, c.Metadata.Tokens)
		}
	}
}

func TestChunker_ResidualBelowMinDropped(t *testing.T) {
	svc := NewChunkerService(ChunkingConfig{ChunkSize: 512, ChunkOverlap: 50, MinChunkSize: 100, MaxChunkSize: 800})

	// Single short paragraph: well under MinChunkSize, so nothing is
	// emitted.
	chunks, err := svc.ChunkDocument(context.Background(), "Short and sweet wellness note.", "doc-min", "kb.md", model.CategoryWellness)
	if err != nil {
		t.Fatalf("ChunkDocument() error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected residual below min to be dropped, got %d chunks", len(chunks))
	}
}

func TestChunker_EmptyContent(t *testing.T) {
	svc := NewChunkerService(DefaultChunkingConfig())

	for _, input := range []string{"", "   \n\n\t  \n  ", "\x00\x01"} {
		_, err := svc.ChunkDocument(context.Background(), input, "doc-empty", "kb.md", model.CategoryYoga)
		if err == nil {
			t.Errorf("expected error for input %q", input)
		} else if !errors.Is(err, errs.ErrChunking) {
			t.Errorf("error kind = %v, want ErrChunking", err)
		}
	}
}

func TestChunker_ValidationFiltersJunk(t *testing.T) {
	svc := NewChunkerService(ChunkingConfig{ChunkSize: 30, ChunkOverlap: 0, MinChunkSize: 5, MaxChunkSize: 40})

	// Mix a punctuation-only paragraph into real content; it must not
	// survive as its own chunk, and indices must stay contiguous.
	doc := testParagraph(3) + "\n\n----- *** -----\n\n" + testParagraph(3)
	chunks, err := svc.ChunkDocument(context.Background(), doc, "doc-junk", "kb.md", model.CategoryYoga)
	if err != nil {
		t.Fatalf("ChunkDocument() error: %v", err)
	}
	for i, c := range chunks {
		if !hasAlphaRun(c.Content, 3) {
			t.Errorf("chunk[%d] is junk: %q", i, c.Content)
		}
		if c.Metadata.ChunkIndex != i {
			t.Errorf("chunk[%d] index = %d, want contiguous", i, c.Metadata.ChunkIndex)
		}
	}
}

func TestChunker_BatchRecoversPerDocument(t *testing.T) {
	svc := NewChunkerService(ChunkingConfig{ChunkSize: 40, ChunkOverlap: 5, MinChunkSize: 5, MaxChunkSize: 200})

	docs := []model.KnowledgeDocument{
		{ID: "good-1", Content: multiParagraphDoc(6), Source: "a.md", Category: model.CategoryYoga},
		{ID: "bad", Content: "   ", Source: "b.md", Category: model.CategoryYoga},
		{ID: "good-2", Content: multiParagraphDoc(6), Source: "c.md", Category: model.CategoryWellness},
	}

	results, failures := svc.ChunkBatch(context.Background(), docs)
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	if _, ok := failures["bad"]; !ok {
		t.Error("expected failure recorded for document 'bad'")
	}
	if len(results["good-1"]) == 0 || len(results["good-2"]) == 0 {
		t.Error("good documents should still produce chunks")
	}
}

func TestStats(t *testing.T) {
	svc := NewChunkerService(ChunkingConfig{ChunkSize: 40, ChunkOverlap: 5, MinChunkSize: 5, MaxChunkSize: 200})
	chunks, err := svc.ChunkDocument(context.Background(), multiParagraphDoc(8), "doc-stats", "kb.md", model.CategoryMeditation)
	if err != nil {
		t.Fatalf("ChunkDocument() error: %v", err)
	}

	stats := Stats(chunks)
	if stats.TotalChunks != len(chunks) {
		t.Errorf("TotalChunks = %d, want %d", stats.TotalChunks, len(chunks))
	}
	if stats.MinTokens > stats.MaxTokens {
		t.Errorf("MinTokens %d > MaxTokens %d", stats.MinTokens, stats.MaxTokens)
	}
	if stats.ByCategory[model.CategoryMeditation] != len(chunks) {
		t.Errorf("category count = %d, want %d", stats.ByCategory[model.CategoryMeditation], len(chunks))
	}

	empty := Stats(nil)
	if empty.TotalChunks != 0 || empty.TotalTokens != 0 {
		t.Error("empty stats should be zero")
	}
}
