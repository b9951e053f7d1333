package tokenizer

import (
	"testing"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

func TestCount_NonEmptyText(t *testing.T) {
	c, err := New("gpt-4o-mini")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	n := c.Count("the quick brown fox jumps over the lazy dog")
	if n <= 0 {
		t.Errorf("Count() = %d, want > 0", n)
	}
}

func TestCount_EmptyText(t *testing.T) {
	c, err := New("gpt-4o-mini")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if n := c.Count(""); n != 0 {
		t.Errorf("Count(\"\") = %d, want 0", n)
	}
}

func TestCountMessages_IncludesOverhead(t *testing.T) {
	c, err := New("gpt-4o-mini")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	messages := []model.Message{
		{Role: model.RoleUser, Content: "hello"},
	}
	withOverhead := c.CountMessages(messages)
	bare := c.Count("hello") + c.Count(string(model.RoleUser))

	if withOverhead <= bare {
		t.Errorf("CountMessages() = %d, want > bare content+role count %d", withOverhead, bare)
	}
}

func TestNew_UnknownModelFallsBackToCl100k(t *testing.T) {
	c, err := New("gemini-2.5-flash")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if c.Count("hello world") <= 0 {
		t.Error("expected fallback encoding to still count tokens")
	}
}
