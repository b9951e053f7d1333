package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// OpenAIProvider is the secondary chat/embedding fallback, used when the
// primary Vertex provider's breaker trips or exhausts its retries.
type OpenAIProvider struct {
	client         openai.Client
	chatModel      string
	embeddingModel string
}

// NewOpenAIProvider constructs an OpenAIProvider from an API key.
func NewOpenAIProvider(apiKey, chatModel, embeddingModel string) *OpenAIProvider {
	return &OpenAIProvider{
		client:         openai.NewClient(option.WithAPIKey(apiKey)),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func toOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem, model.RoleSummary:
			out = append(out, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func (o *OpenAIProvider) Chat(ctx context.Context, messages []model.Message, params ChatParams) (ChatResult, error) {
	req := openai.ChatCompletionNewParams{
		Model:    o.chatModel,
		Messages: toOpenAIMessages(messages),
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = openai.Int(int64(params.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return ChatResult{}, fmt.Errorf("gateway.openai.Chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("gateway.openai.Chat: empty response")
	}

	return ChatResult{
		Content: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Provider: o.Name(),
	}, nil
}

func (o *OpenAIProvider) ChatStream(ctx context.Context, messages []model.Message, params ChatParams) (<-chan StreamEvent, error) {
	req := openai.ChatCompletionNewParams{
		Model:    o.chatModel,
		Messages: toOpenAIMessages(messages),
	}
	if params.Temperature > 0 {
		req.Temperature = openai.Float(params.Temperature)
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, req)

	out := make(chan StreamEvent, 64)
	go func() {
		defer close(out)
		var assembled strings.Builder
		var usage Usage
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta != "" {
				assembled.WriteString(delta)
				out <- StreamEvent{Type: StreamToken, Content: delta}
			}
			if chunk.Usage.TotalTokens > 0 {
				usage = Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamEvent{Type: StreamError, Err: fmt.Errorf("gateway.openai.ChatStream: %w", err)}
			return
		}
		out <- StreamEvent{Type: StreamDone, Content: assembled.String(), Usage: usage}
	}()
	return out, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: o.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("gateway.openai.Embed: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

func (o *OpenAIProvider) ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassTerminal
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return ClassTransient
		case apiErr.StatusCode == 400 && strings.Contains(strings.ToLower(apiErr.Message), "content_filter"):
			return ClassPolicyRejection
		}
		return ClassTerminal
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "503"), strings.Contains(msg, "502"):
		return ClassTransient
	case strings.Contains(msg, "content_filter"), strings.Contains(msg, "policy"):
		return ClassPolicyRejection
	default:
		return ClassTerminal
	}
}
