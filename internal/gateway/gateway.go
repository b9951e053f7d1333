// Package gateway implements the Model Gateway: a uniform call surface over
// chat-completion, embedding, and transcription providers, guarded by a
// per-provider circuit breaker, retried with exponential backoff, and
// chained into a primary -> fallback sequence.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scholarly-ai/tutor-backend/internal/apperr"
	"github.com/scholarly-ai/tutor-backend/internal/breaker"
	"github.com/scholarly-ai/tutor-backend/internal/model"
)

// Usage reports token accounting for a chat completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatParams carries per-call generation parameters.
type ChatParams struct {
	Temperature float64
	MaxTokens   int
}

// ChatResult is the outcome of a non-streaming chat call.
type ChatResult struct {
	Content  string
	Usage    Usage
	Provider string
}

// StreamEventType enumerates the kinds of events chat_stream emits.
type StreamEventType string

const (
	StreamToken StreamEventType = "token"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent is one item in a chat_stream sequence.
type StreamEvent struct {
	Type    StreamEventType
	Content string
	Usage   Usage
	Err     error
}

// ChatProvider is a chat-completion backend (Vertex/Gemini, OpenAI, Ollama, ...).
type ChatProvider interface {
	Name() string
	Chat(ctx context.Context, messages []model.Message, params ChatParams) (ChatResult, error)
	ChatStream(ctx context.Context, messages []model.Message, params ChatParams) (<-chan StreamEvent, error)
	// ClassifyError distinguishes transient failures (timeout, 429, 5xx; worth
	// retrying) from terminal ones (auth, other 4xx; not retried) and policy
	// rejections (provider refused content; never advances the fallback
	// chain per §4.1). Transient and terminal failures both fall through to
	// the next provider.
	ClassifyError(err error) ErrorClass
}

// EmbedProvider is an embedding backend.
type EmbedProvider interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ClassifyError(err error) ErrorClass
}

// TranscribeProvider is a speech-to-text backend.
type TranscribeProvider interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte) (string, error)
	ClassifyError(err error) ErrorClass
}

// ErrorClass is how a provider's ClassifyError labels a failure.
type ErrorClass int

const (
	ClassTerminal ErrorClass = iota
	ClassTransient
	ClassPolicyRejection
)

// Gateway orchestrates ordered provider chains, one breaker per provider.
type Gateway struct {
	chatStages       []chatStage
	embedStages      []embedStage
	transcribeStages []transcribeStage
	retry            breaker.RetryConfig
	breakerCfgHolder breaker.Config
}

type chatStage struct {
	provider ChatProvider
	breaker  *breaker.Breaker
}

type embedStage struct {
	provider EmbedProvider
	breaker  *breaker.Breaker
}

type transcribeStage struct {
	provider TranscribeProvider
	breaker  *breaker.Breaker
}

// New constructs an empty Gateway. Providers are added with AddChatProvider,
// AddEmbedProvider, and AddTranscribeProvider in fallback order (primary
// first).
func New(breakerCfg breaker.Config, retryCfg breaker.RetryConfig) *Gateway {
	return &Gateway{retry: retryCfg, breakerCfgHolder: breakerCfg}
}

func (g *Gateway) AddChatProvider(p ChatProvider) {
	g.chatStages = append(g.chatStages, chatStage{provider: p, breaker: breaker.New("chat."+p.Name(), g.breakerCfgHolder)})
}

func (g *Gateway) AddEmbedProvider(p EmbedProvider) {
	g.embedStages = append(g.embedStages, embedStage{provider: p, breaker: breaker.New("embed."+p.Name(), g.breakerCfgHolder)})
}

func (g *Gateway) AddTranscribeProvider(p TranscribeProvider) {
	g.transcribeStages = append(g.transcribeStages, transcribeStage{provider: p, breaker: breaker.New("transcribe."+p.Name(), g.breakerCfgHolder)})
}

// Ping reports whether at least one chat provider's breaker is admitting
// calls, used by the health endpoint as a cheap reachability signal
// without spending a real chat completion on every /health poll.
func (g *Gateway) Ping(ctx context.Context) error {
	if len(g.chatStages) == 0 {
		return apperr.New(apperr.Internal, "gateway: no chat providers configured")
	}
	for _, stage := range g.chatStages {
		if stage.breaker.State() != breaker.Open {
			return nil
		}
	}
	return apperr.New(apperr.Degraded, "gateway: all chat providers' breakers are open")
}

// Chat runs the chat fallback chain: each stage is retried under its own
// breaker; the chain stops on a policy rejection and advances on every
// other failure, terminal (auth, non-429 4xx) failures included.
func (g *Gateway) Chat(ctx context.Context, messages []model.Message, params ChatParams) (ChatResult, error) {
	if len(g.chatStages) == 0 {
		return ChatResult{}, apperr.New(apperr.Internal, "gateway: no chat providers configured")
	}

	var lastErr error
	for i, stage := range g.chatStages {
		result, err := g.callChat(ctx, stage, messages, params)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if stage.provider.ClassifyError(err) == ClassPolicyRejection {
			return ChatResult{}, apperr.Wrap(apperr.UpstreamPolicyRejection, "provider refused request", err)
		}
		slog.Warn("chat provider failed, advancing fallback chain",
			"provider", stage.provider.Name(), "stage", i, "error", err)
	}

	return ChatResult{}, classifyFinalError(lastErr)
}

func (g *Gateway) callChat(ctx context.Context, stage chatStage, messages []model.Message, params ChatParams) (ChatResult, error) {
	isTransient := func(err error) bool {
		return stage.provider.ClassifyError(err) == ClassTransient
	}
	return breaker.Call(ctx, stage.breaker, g.retry, isTransient, "chat."+stage.provider.Name(),
		func(ctx context.Context) (ChatResult, error) {
			return stage.provider.Chat(ctx, messages, params)
		})
}

// ChatStream runs the chat_stream fallback chain. Unlike Chat, once a
// provider has emitted at least one token the chain no longer advances on
// failure — the partial stream has already reached the consumer, so a
// terminal error event is emitted instead.
func (g *Gateway) ChatStream(ctx context.Context, messages []model.Message, params ChatParams) (<-chan StreamEvent, error) {
	if len(g.chatStages) == 0 {
		return nil, apperr.New(apperr.Internal, "gateway: no chat providers configured")
	}

	out := make(chan StreamEvent, 64)
	go g.runChatStream(ctx, messages, params, out)
	return out, nil
}

func (g *Gateway) runChatStream(ctx context.Context, messages []model.Message, params ChatParams, out chan<- StreamEvent) {
	defer close(out)

	var lastErr error
	for i, stage := range g.chatStages {
		if !stage.breaker.Allow() {
			lastErr = fmt.Errorf("%s: %w", stage.provider.Name(), breaker.ErrOpen)
			continue
		}

		upstream, err := stage.provider.ChatStream(ctx, messages, params)
		if err != nil {
			stage.breaker.RecordFailure()
			lastErr = err
			if stage.provider.ClassifyError(err) == ClassPolicyRejection {
				out <- StreamEvent{Type: StreamError, Err: apperr.Wrap(apperr.UpstreamPolicyRejection, "provider refused request", err)}
				return
			}
			slog.Warn("chat_stream provider failed before first token, advancing", "provider", stage.provider.Name(), "stage", i, "error", err)
			continue
		}

		emittedAny := false
		for ev := range upstream {
			if ev.Type == StreamError {
				if !emittedAny {
					stage.breaker.RecordFailure()
					lastErr = ev.Err
					break
				}
				// Already streamed partial content: surface the failure,
				// don't silently swap providers mid-stream.
				out <- ev
				return
			}
			emittedAny = true
			out <- ev
			if ev.Type == StreamDone {
				stage.breaker.RecordSuccess()
				return
			}
		}
		if emittedAny {
			// Upstream channel closed without an explicit done/error; treat
			// as a completed (if silent) stream rather than retrying.
			return
		}
	}

	out <- StreamEvent{Type: StreamError, Err: classifyFinalError(lastErr)}
}

// Embed runs the embedding fallback chain, same semantics as Chat.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(g.embedStages) == 0 {
		return nil, apperr.New(apperr.Internal, "gateway: no embed providers configured")
	}
	if len(texts) == 0 {
		return nil, apperr.New(apperr.InputInvalid, "gateway.Embed: no texts provided")
	}

	var lastErr error
	for i, stage := range g.embedStages {
		isTransient := func(err error) bool { return stage.provider.ClassifyError(err) == ClassTransient }
		vecs, err := breaker.Call(ctx, stage.breaker, g.retry, isTransient, "embed."+stage.provider.Name(),
			func(ctx context.Context) ([][]float32, error) {
				return stage.provider.Embed(ctx, texts)
			})
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if stage.provider.ClassifyError(err) == ClassPolicyRejection {
			return nil, apperr.Wrap(apperr.UpstreamPolicyRejection, "provider refused request", err)
		}
		slog.Warn("embed provider failed, advancing fallback chain", "provider", stage.provider.Name(), "stage", i, "error", err)
	}

	return nil, classifyFinalError(lastErr)
}

// Transcribe runs the transcription fallback chain.
func (g *Gateway) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(g.transcribeStages) == 0 {
		return "", apperr.New(apperr.Internal, "gateway: no transcribe providers configured")
	}

	var lastErr error
	for i, stage := range g.transcribeStages {
		isTransient := func(err error) bool { return stage.provider.ClassifyError(err) == ClassTransient }
		text, err := breaker.Call(ctx, stage.breaker, g.retry, isTransient, "transcribe."+stage.provider.Name(),
			func(ctx context.Context) (string, error) {
				return stage.provider.Transcribe(ctx, audio)
			})
		if err == nil {
			return text, nil
		}
		lastErr = err
		slog.Warn("transcribe provider failed, advancing fallback chain", "provider", stage.provider.Name(), "stage", i, "error", err)
	}

	return "", classifyFinalError(lastErr)
}

// classifyFinalError maps the terminal fallback-chain failure to the §7
// taxonomy: breaker-open-with-no-fallback-left is Degraded, anything else
// exhausting retries is UpstreamUnavailable.
func classifyFinalError(err error) error {
	if err == nil {
		return apperr.New(apperr.Internal, "gateway: no error recorded for failed call")
	}
	if errors.Is(err, breaker.ErrOpen) {
		return apperr.Wrap(apperr.Degraded, "circuit open, no fallback available", err)
	}
	return apperr.Wrap(apperr.UpstreamUnavailable, "all providers exhausted", err)
}
