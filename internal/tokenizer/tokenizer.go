// Package tokenizer provides model-aware token estimation over strings and
// message lists, used by chunking and conversation memory.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// Counter counts tokens for a fixed model's encoding.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// New returns a Counter for modelName, falling back to cl100k_base when the
// model isn't recognized by tiktoken (this covers Gemini and other
// non-OpenAI providers, whose exact tokenizer differs but whose token
// density is close enough for budget accounting).
func New(modelName string) (*Counter, error) {
	cacheMu.RLock()
	cached, ok := encodingCache[modelName]
	cacheMu.RUnlock()
	if ok {
		return &Counter{encoding: cached, model: modelName}, nil
	}

	enc, err := tiktoken.EncodingForModel(modelName)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("tokenizer.New: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[modelName] = enc
	cacheMu.Unlock()

	return &Counter{encoding: enc, model: modelName}, nil
}

// Count returns the token count of text.
func (c *Counter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages returns the token count of a message list, including the
// per-message role/format overhead OpenAI's chat format charges.
func (c *Counter) CountMessages(messages []model.Message) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	const tokensPerMessage = 3
	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += len(c.encoding.Encode(string(m.Role), nil, nil))
		total += len(c.encoding.Encode(m.Content, nil, nil))
	}
	total += 3 // reply priming
	return total
}

// Model returns the model name this counter was constructed for.
func (c *Counter) Model() string {
	return c.model
}
