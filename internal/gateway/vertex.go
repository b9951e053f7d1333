package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/iterator"

	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// VertexProvider is the primary chat/embedding/transcription provider,
// backed by Vertex AI Gemini. Regional locations use the Go SDK; the
// "global" location has no SDK support, so this only targets regional
// endpoints.
type VertexProvider struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
}

// NewVertexProvider constructs a VertexProvider for the given GCP project
// and region.
func NewVertexProvider(ctx context.Context, project, location, chatModel, embeddingModel string) (*VertexProvider, error) {
	client, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("gateway.NewVertexProvider: %w", err)
	}
	return &VertexProvider{client: client, chatModel: chatModel, embeddingModel: embeddingModel}, nil
}

func (v *VertexProvider) Name() string { return "vertexai" }

func toGenaiContent(messages []model.Message) (system string, turns []genai.Part) {
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem, model.RoleSummary:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(m.Content)
		default:
			turns = append(turns, genai.Text(m.Content))
		}
	}
	return sb.String(), turns
}

func (v *VertexProvider) Chat(ctx context.Context, messages []model.Message, params ChatParams) (ChatResult, error) {
	system, parts := toGenaiContent(messages)
	gm := v.client.GenerativeModel(v.chatModel)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if params.Temperature > 0 {
		temp := float32(params.Temperature)
		gm.Temperature = &temp
	}
	if params.MaxTokens > 0 {
		max := int32(params.MaxTokens)
		gm.MaxOutputTokens = &max
	}

	resp, err := gm.GenerateContent(ctx, parts...)
	if err != nil {
		return ChatResult{}, fmt.Errorf("gateway.vertex.Chat: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ChatResult{}, fmt.Errorf("gateway.vertex.Chat: empty response")
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	usage := Usage{}
	if resp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return ChatResult{Content: text.String(), Usage: usage, Provider: v.Name()}, nil
}

func (v *VertexProvider) ChatStream(ctx context.Context, messages []model.Message, params ChatParams) (<-chan StreamEvent, error) {
	system, parts := toGenaiContent(messages)
	gm := v.client.GenerativeModel(v.chatModel)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	out := make(chan StreamEvent, 64)
	go func() {
		defer close(out)
		iter := gm.GenerateContentStream(ctx, parts...)
		var assembled strings.Builder
		var lastUsage Usage
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				out <- StreamEvent{Type: StreamError, Err: fmt.Errorf("gateway.vertex.ChatStream: %w", err)}
				return
			}
			if resp.UsageMetadata != nil {
				lastUsage = Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if t, ok := part.(genai.Text); ok {
						assembled.WriteString(string(t))
						out <- StreamEvent{Type: StreamToken, Content: string(t)}
					}
				}
			}
		}
		out <- StreamEvent{Type: StreamDone, Content: assembled.String(), Usage: lastUsage}
	}()
	return out, nil
}

func (v *VertexProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	em := v.client.EmbeddingModel(v.embeddingModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddText(t)
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gateway.vertex.Embed: %w", err)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Transcribe sends raw audio bytes to Gemini as an inline blob and asks for
// a literal transcript. Gemini's multimodal input handles this without a
// dedicated speech-to-text endpoint.
func (v *VertexProvider) Transcribe(ctx context.Context, audio []byte) (string, error) {
	gm := v.client.GenerativeModel(v.chatModel)
	blob := genai.Blob{MIMEType: "audio/mpeg", Data: audio}
	resp, err := gm.GenerateContent(ctx, blob, genai.Text("Transcribe this audio verbatim. Return only the transcript text."))
	if err != nil {
		return "", fmt.Errorf("gateway.vertex.Transcribe: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gateway.vertex.Transcribe: empty response")
	}
	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return text.String(), nil
}

func (v *VertexProvider) ClassifyError(err error) ErrorClass {
	if err == nil {
		return ClassTerminal
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "RESOURCE_EXHAUSTED"),
		strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"),
		strings.Contains(msg, fmt.Sprint(http.StatusServiceUnavailable)),
		strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "context deadline"):
		return ClassTransient
	case strings.Contains(msg, "SAFETY"), strings.Contains(msg, "blocked"), strings.Contains(msg, "PROHIBITED_CONTENT"):
		return ClassPolicyRejection
	default:
		return ClassTerminal
	}
}

func (v *VertexProvider) Close() {
	if v.client != nil {
		v.client.Close()
	}
}
