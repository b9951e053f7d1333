// Package memory implements Conversation Memory: a per-session sliding
// window of role/content messages bounded by a token budget, summarizing
// the oldest messages when the budget would otherwise be exceeded. It
// keeps no long-term store beyond the window and its rolling summary.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/scholarly-ai/tutor-backend/internal/model"
	"github.com/scholarly-ai/tutor-backend/internal/tokenizer"
)

// Summarizer condenses a run of messages into a short digest, optionally
// folding in a prior summary. Backed by the Model Gateway's chat
// operation.
type Summarizer interface {
	Summarize(ctx context.Context, priorSummary string, messages []model.Message) (string, error)
}

// Memory is one session's conversation window. Not safe for concurrent
// use across sessions — callers own one Memory per session and serialize
// access to it themselves (or rely on its internal mutex for safety
// within a session).
type Memory struct {
	mu         sync.Mutex
	counter    *tokenizer.Counter
	summarizer Summarizer
	maxTokens  int
	slack      int

	summary  string
	messages []model.Message
}

// New builds a Memory bounded by maxContextTokens. slack is the extra
// headroom §4.5's summarization step restores below the budget so a
// summarization pass doesn't immediately re-trigger on the next append.
func New(counter *tokenizer.Counter, summarizer Summarizer, maxContextTokens, slack int) *Memory {
	if slack <= 0 {
		slack = maxContextTokens / 10
	}
	return &Memory{
		counter:    counter,
		summarizer: summarizer,
		maxTokens:  maxContextTokens,
		slack:      slack,
	}
}

// Append adds a message and, if the token budget would be exceeded,
// summarizes the oldest messages (and if that alone isn't enough,
// truncates the oldest remaining user turn) to restore the invariant.
func (m *Memory) Append(ctx context.Context, role model.Role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, model.Message{Role: role, Content: content})
	return m.enforceBudget(ctx)
}

// Context returns [summary?] ++ messages in chronological order.
func (m *Memory) Context() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Message, 0, len(m.messages)+1)
	if m.summary != "" {
		out = append(out, model.Message{Role: model.RoleSummary, Content: m.summary})
	}
	out = append(out, m.messages...)
	return out
}

// Reset clears the session's window and summary.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = ""
	m.messages = nil
}

func (m *Memory) tokenTotal() int {
	total := m.counter.Count(m.summary)
	total += m.counter.CountMessages(m.messages)
	return total
}

// enforceBudget implements §4.5's remediation: summarize the oldest
// messages, and if that isn't enough, truncate the oldest remaining user
// turn. No further step runs if the window is still over budget after
// that. Caller holds m.mu.
func (m *Memory) enforceBudget(ctx context.Context) error {
	if m.tokenTotal() <= m.maxTokens {
		return nil
	}

	n := m.selectOldestForSummary()
	if n > 0 {
		digest, err := m.summarizer.Summarize(ctx, m.summary, m.messages[:n])
		if err != nil {
			return fmt.Errorf("memory.Append: summarize: %w", err)
		}
		m.summary = digest
		m.messages = m.messages[n:]
	}

	if m.tokenTotal() <= m.maxTokens {
		return nil
	}

	m.truncateOldestUserTurn()
	return nil
}

// selectOldestForSummary finds the smallest prefix of messages whose
// removal restores the invariant with m.slack tokens to spare. Never
// selects every remaining message — a lone surviving turn is left for
// truncateOldestUserTurn rather than summarized away entirely.
func (m *Memory) selectOldestForSummary() int {
	target := m.maxTokens - m.slack
	for n := 1; n < len(m.messages); n++ {
		remaining := m.counter.Count(m.summary) + m.counter.CountMessages(m.messages[n:])
		if remaining <= target {
			return n
		}
	}
	// Even dropping everything but the last message doesn't fit under
	// target; summarize all but the most recent turn.
	if len(m.messages) > 1 {
		return len(m.messages) - 1
	}
	return 0
}

// truncatedMarker flags a message whose head was cut to fit the token
// budget; it is prepended to what survives, per §4.5/§8's boundary case
// for a single turn too large to fit even after summarization.
const truncatedMarker = "[truncated] "

// truncateOldestUserTurn handles the pathological case of a single
// remaining turn too large to fit even after summarization: truncate it
// from the head, keeping the tail end of the user's question (the part
// most likely to carry the actual ask) and marking the cut explicitly.
func (m *Memory) truncateOldestUserTurn() {
	for i, msg := range m.messages {
		if msg.Role != model.RoleUser {
			continue
		}
		budget := m.maxTokens - m.counter.Count(m.summary) - m.counter.CountMessages(m.messages[:i]) - m.counter.CountMessages(m.messages[i+1:])
		if budget < 0 {
			budget = 0
		}
		m.messages[i].Content = truncateFromHead(m.counter, msg.Content, budget)
		return
	}
}

// truncateFromHead keeps the tail of text that fits within maxTokens once
// truncatedMarker is accounted for, dropping earlier words.
func truncateFromHead(counter *tokenizer.Counter, text string, maxTokens int) string {
	markerTokens := counter.Count(truncatedMarker)
	if maxTokens <= markerTokens {
		return strings.TrimSpace(truncatedMarker)
	}
	budget := maxTokens - markerTokens

	words := strings.Fields(text)
	lo, hi := 0, len(words)
	best := ""
	for lo <= hi {
		mid := (lo + hi) / 2
		candidate := strings.Join(words[len(words)-mid:], " ")
		if counter.Count(candidate) <= budget {
			best = candidate
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return truncatedMarker + best
}
