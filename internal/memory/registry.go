package memory

import (
	"sync"

	"github.com/scholarly-ai/tutor-backend/internal/tokenizer"
)

// Registry lazily creates and hands out one Memory per conversation,
// scoped by tenant so two tenants can never collide on the same
// conversation_id. A per-key map guarded by a single mutex, the same
// shape as a small in-process cache keyed by composite id.
type Registry struct {
	mu         sync.Mutex
	sessions   map[string]*Memory
	counter    *tokenizer.Counter
	summarizer Summarizer
	maxTokens  int
	slack      int
}

// NewRegistry builds a Registry whose Memory instances share the given
// token budget and summarizer.
func NewRegistry(counter *tokenizer.Counter, summarizer Summarizer, maxContextTokens, slack int) *Registry {
	return &Registry{
		sessions:   make(map[string]*Memory),
		counter:    counter,
		summarizer: summarizer,
		maxTokens:  maxContextTokens,
		slack:      slack,
	}
}

// Get returns the Memory for (tenantID, conversationID), creating it on
// first use.
func (r *Registry) Get(tenantID, conversationID string) *Memory {
	key := tenantID + "/" + conversationID
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[key]
	if !ok {
		m = New(r.counter, r.summarizer, r.maxTokens, r.slack)
		r.sessions[key] = m
	}
	return m
}

// Drop discards a conversation's memory, e.g. on explicit session reset.
func (r *Registry) Drop(tenantID, conversationID string) {
	key := tenantID + "/" + conversationID
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
}
