package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// OllamaProvider is the tertiary, local fallback chat provider: a
// self-hosted model reachable when both cloud providers (Vertex, OpenAI)
// are degraded. It never appears as an embedding provider — its local
// models aren't dimension-compatible with the tenant's stored vectors.
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider wraps an Ollama client pointed at a local or sidecar
// daemon.
func NewOllamaProvider(client *api.Client, modelName string) *OllamaProvider {
	return &OllamaProvider{client: client, model: modelName}
}

func (o *OllamaProvider) Name() string { return "ollama" }

func toOllamaMessages(messages []model.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		role := "user"
		switch m.Role {
		case model.RoleSystem, model.RoleSummary:
			role = "system"
		case model.RoleAssistant:
			role = "assistant"
		}
		out = append(out, api.Message{Role: role, Content: m.Content})
	}
	return out
}

func (o *OllamaProvider) Chat(ctx context.Context, messages []model.Message, params ChatParams) (ChatResult, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: toOllamaMessages(messages),
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": params.Temperature,
		},
	}

	var content strings.Builder
	var usage Usage
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		if resp.Done {
			usage = Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return ChatResult{}, fmt.Errorf("gateway.ollama.Chat: %w", err)
	}

	return ChatResult{Content: content.String(), Usage: usage, Provider: o.Name()}, nil
}

func (o *OllamaProvider) ChatStream(ctx context.Context, messages []model.Message, params ChatParams) (<-chan StreamEvent, error) {
	stream := true
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: toOllamaMessages(messages),
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": params.Temperature,
		},
	}

	out := make(chan StreamEvent, 64)
	go func() {
		defer close(out)
		var assembled strings.Builder
		var usage Usage
		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				assembled.WriteString(resp.Message.Content)
				out <- StreamEvent{Type: StreamToken, Content: resp.Message.Content}
			}
			if resp.Done {
				usage = Usage{
					PromptTokens:     resp.PromptEvalCount,
					CompletionTokens: resp.EvalCount,
					TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
				}
			}
			return nil
		})
		if err != nil {
			out <- StreamEvent{Type: StreamError, Err: fmt.Errorf("gateway.ollama.ChatStream: %w", err)}
			return
		}
		out <- StreamEvent{Type: StreamDone, Content: assembled.String(), Usage: usage}
	}()
	return out, nil
}

// ClassifyError treats connection failures to the local daemon as
// transient (the daemon may be warming a model or briefly unreachable)
// and anything else as terminal. Ollama has no content-policy layer, so
// it never returns ClassPolicyRejection.
func (o *OllamaProvider) ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassTerminal
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "eof"), strings.Contains(msg, "loading model"),
		strings.Contains(msg, "503"):
		return ClassTransient
	default:
		return ClassTerminal
	}
}
