package document

import (
	"strings"
	"testing"

	"github.com/scholarly-ai/tutor-backend/internal/tokenizer"
)

func newTestChunker(t *testing.T, chunkSize, overlap int) *Chunker {
	t.Helper()
	counter, err := tokenizer.New("gpt-4o-mini")
	if err != nil {
		t.Fatalf("tokenizer.New() error: %v", err)
	}
	return NewChunker(counter, chunkSize, overlap)
}

func TestChunker_Split_SingleSmallParagraph(t *testing.T) {
	c := newTestChunker(t, 800, 150)
	contents, pages := c.Split("just one short paragraph of text.")
	if len(contents) != 1 {
		t.Fatalf("len(contents) = %d, want 1", len(contents))
	}
	if pages[0] != nil {
		t.Errorf("pageIndex = %v, want nil for unpaginated text", pages[0])
	}
}

func TestChunker_Split_RespectsParagraphBoundaries(t *testing.T) {
	c := newTestChunker(t, 20, 0)
	text := strings.Repeat("alpha beta gamma delta epsilon ", 3) + "\n\n" + strings.Repeat("zeta eta theta iota kappa ", 3)
	contents, _ := c.Split(text)
	if len(contents) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(contents))
	}
}

func TestChunker_Split_PageBoundariesCarryPageIndex(t *testing.T) {
	c := newTestChunker(t, 800, 0)
	text := "page one content.\fpage two content."
	contents, pages := c.Split(text)
	if len(contents) != 2 {
		t.Fatalf("len(contents) = %d, want 2", len(contents))
	}
	if pages[0] == nil || *pages[0] != 0 {
		t.Errorf("pages[0] = %v, want 0", pages[0])
	}
	if pages[1] == nil || *pages[1] != 1 {
		t.Errorf("pages[1] = %v, want 1", pages[1])
	}
}

func TestChunker_Split_OverlapPrependsTail(t *testing.T) {
	c := newTestChunker(t, 15, 5)
	text := strings.Repeat("one two three four five six seven eight nine ten ", 4)
	contents, _ := c.Split(text)
	if len(contents) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(contents))
	}
	// the tail words of chunk i should reappear at the head of chunk i+1
	firstWords := strings.Fields(contents[0])
	secondWords := strings.Fields(contents[1])
	if len(firstWords) == 0 || len(secondWords) == 0 {
		t.Fatal("expected non-empty chunks")
	}
	if firstWords[len(firstWords)-1] != secondWords[0] {
		t.Errorf("overlap not applied: chunk0 ends %q, chunk1 starts %q", firstWords[len(firstWords)-1], secondWords[0])
	}
}

func TestChunker_Split_EmptyTextYieldsNoChunks(t *testing.T) {
	c := newTestChunker(t, 800, 150)
	contents, _ := c.Split("   \n\n  ")
	if len(contents) != 0 {
		t.Errorf("len(contents) = %d, want 0 for blank input", len(contents))
	}
}

func TestChunker_Split_VeryLongSingleSentenceFallsBackToWords(t *testing.T) {
	c := newTestChunker(t, 10, 0)
	text := strings.Repeat("supercalifragilisticexpialidocious ", 30)
	contents, _ := c.Split(text)
	if len(contents) < 2 {
		t.Fatalf("expected word-level split to produce multiple chunks, got %d", len(contents))
	}
}
