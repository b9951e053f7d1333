package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/scholarly-ai/tutor-backend/internal/gateway"
	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// ChatCaller is the subset of the Model Gateway the GatewaySummarizer
// depends on.
type ChatCaller interface {
	Chat(ctx context.Context, messages []model.Message, params gateway.ChatParams) (gateway.ChatResult, error)
}

// GatewaySummarizer condenses messages by prompting the Model Gateway,
// per §4.5 step 2.
type GatewaySummarizer struct {
	caller ChatCaller
}

// NewGatewaySummarizer builds a GatewaySummarizer over a ChatCaller.
func NewGatewaySummarizer(caller ChatCaller) *GatewaySummarizer {
	return &GatewaySummarizer{caller: caller}
}

const summarizerSystemPrompt = "Condense the following conversation excerpt into a short third-person summary that preserves facts, decisions, and open questions a later turn might need. Merge it with the prior summary if one is given. Do not add commentary."

func (g *GatewaySummarizer) Summarize(ctx context.Context, priorSummary string, messages []model.Message) (string, error) {
	var sb strings.Builder
	if priorSummary != "" {
		sb.WriteString("PRIOR SUMMARY:\n")
		sb.WriteString(priorSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("CONVERSATION EXCERPT:\n")
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	req := []model.Message{
		{Role: model.RoleSystem, Content: summarizerSystemPrompt},
		{Role: model.RoleUser, Content: sb.String()},
	}

	result, err := g.caller.Chat(ctx, req, gateway.ChatParams{Temperature: 0.2, MaxTokens: 300})
	if err != nil {
		return "", fmt.Errorf("memory.GatewaySummarizer.Summarize: %w", err)
	}
	return strings.TrimSpace(result.Content), nil
}
