package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/scholarly-ai/tutor-backend/internal/model"
	"github.com/scholarly-ai/tutor-backend/internal/tokenizer"
)

type fakeSummarizer struct {
	calls  int
	digest string
	err    error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, priorSummary string, messages []model.Message) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.digest != "" {
		return f.digest, nil
	}
	return "summary of " + string(rune(len(messages)+'0')) + " messages", nil
}

func newCounter(t *testing.T) *tokenizer.Counter {
	t.Helper()
	c, err := tokenizer.New("gpt-4o")
	if err != nil {
		t.Fatalf("tokenizer.New: %v", err)
	}
	return c
}

func TestMemory_AppendWithinBudgetDoesNotSummarize(t *testing.T) {
	counter := newCounter(t)
	summarizer := &fakeSummarizer{}
	m := New(counter, summarizer, 2000, 0)

	if err := m.Append(context.Background(), model.RoleUser, "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.Append(context.Background(), model.RoleAssistant, "hi there"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if summarizer.calls != 0 {
		t.Errorf("expected no summarization under budget, got %d calls", summarizer.calls)
	}
	if len(m.Context()) != 2 {
		t.Errorf("expected 2 messages in context, got %d", len(m.Context()))
	}
}

func TestMemory_OverBudgetSummarizesOldestMessages(t *testing.T) {
	counter := newCounter(t)
	summarizer := &fakeSummarizer{digest: "condensed digest"}
	m := New(counter, summarizer, 40, 5)

	long := strings.Repeat("word ", 20)
	for i := 0; i < 6; i++ {
		if err := m.Append(context.Background(), model.RoleUser, long); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if summarizer.calls == 0 {
		t.Error("expected summarization to trigger once the budget was exceeded")
	}
	ctx := m.Context()
	if ctx[0].Role != model.RoleSummary {
		t.Errorf("expected a summary message first, got role %v", ctx[0].Role)
	}
}

func TestMemory_SummarizerErrorPropagates(t *testing.T) {
	counter := newCounter(t)
	summarizer := &fakeSummarizer{err: errors.New("gateway down")}
	m := New(counter, summarizer, 20, 2)

	long := strings.Repeat("word ", 20)
	var lastErr error
	for i := 0; i < 4; i++ {
		lastErr = m.Append(context.Background(), model.RoleUser, long)
	}
	if lastErr == nil {
		t.Fatal("expected the summarizer's failure to propagate")
	}
}

func TestMemory_SingleOversizedTurnTruncatedFromHeadWithMarker(t *testing.T) {
	counter := newCounter(t)
	summarizer := &fakeSummarizer{}
	m := New(counter, summarizer, 15, 2)

	huge := strings.Repeat("alpha bravo charlie delta echo foxtrot golf hotel ", 30)
	if err := m.Append(context.Background(), model.RoleUser, huge); err != nil {
		t.Fatalf("Append: %v", err)
	}

	ctx := m.Context()
	if len(ctx) != 1 {
		t.Fatalf("expected exactly one surviving message, got %d", len(ctx))
	}
	if !strings.HasPrefix(ctx[0].Content, truncatedMarker) {
		t.Errorf("expected content to start with %q, got %q", truncatedMarker, ctx[0].Content)
	}
	if strings.Contains(ctx[0].Content, "alpha bravo charlie") {
		t.Error("expected the head of the turn to have been dropped, not the tail")
	}
	if counter.Count(ctx[0].Content) > m.maxTokens {
		t.Errorf("truncated content still exceeds the budget: %d tokens", counter.Count(ctx[0].Content))
	}
}

func TestMemory_Reset(t *testing.T) {
	counter := newCounter(t)
	m := New(counter, &fakeSummarizer{}, 2000, 0)
	_ = m.Append(context.Background(), model.RoleUser, "hello")
	m.Reset()
	if len(m.Context()) != 0 {
		t.Errorf("expected empty context after Reset, got %d messages", len(m.Context()))
	}
}
