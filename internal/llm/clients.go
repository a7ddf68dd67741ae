package llm

import (
	"context"
	"io"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/openai/openai-go/v2/shared"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/WilliamAGH/java-chat-sub001/internal/config"
	"github.com/WilliamAGH/java-chat-sub001/internal/logger"
)

// OpenAIClient adapts one OpenAI-compatible chat endpoint to Completer.
type OpenAIClient struct {
	api      openai.Client
	provider Provider
}

// NewClients builds a client per provider that has credentials. A provider
// without its environment configured simply does not exist.
func NewClients(cfg config.LLMConfig) map[Provider]Completer {
	clients := make(map[Provider]Completer)

	if cfg.GitHubToken != "" {
		clients[ProviderGitHubModels] = &OpenAIClient{
			api: openai.NewClient(
				option.WithAPIKey(cfg.GitHubToken),
				option.WithBaseURL(normalizeBaseURL(cfg.GitHubBaseURL)),
			),
			provider: ProviderGitHubModels,
		}
	}

	if cfg.OpenAIAPIKey != "" {
		opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, option.WithBaseURL(normalizeBaseURL(cfg.OpenAIBaseURL)))
		}
		clients[ProviderOpenAI] = &OpenAIClient{
			api:      openai.NewClient(opts...),
			provider: ProviderOpenAI,
		}
	}

	if cfg.LocalBaseURL != "" {
		clients[ProviderLocal] = &OpenAIClient{
			api: openai.NewClient(
				option.WithAPIKey("local"),
				option.WithBaseURL(normalizeBaseURL(cfg.LocalBaseURL)),
			),
			provider: ProviderLocal,
		}
	}

	names := make([]string, 0, len(clients))
	for p := range clients {
		names = append(names, string(p))
	}
	logger.Info("LLM providers configured", "providers", names)
	return clients
}

// normalizeBaseURL strips trailing slashes and appends /v1 to GitHub Models
// style inference endpoints, which the SDK expects in the base URL.
func normalizeBaseURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if strings.HasSuffix(raw, "/inference") {
		return raw + "/v1"
	}
	return raw
}

// StreamCompletion opens the SSE stream for one request. The span covers
// stream setup only; delta consumption belongs to the caller.
func (c *OpenAIClient) StreamCompletion(ctx context.Context, req Request) (TextStream, error) {
	tracer := otel.Tracer("llm-client")
	ctx, span := tracer.Start(ctx, "llm.stream.open",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", string(c.provider)),
			attribute.String("llm.model", req.Model),
		))
	defer span.End()

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(req.Prompt)},
	}
	if !req.OmitTemperature {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.ReasoningEffort)
	}

	stream := c.api.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		span.SetAttributes(
			attribute.Bool("llm.error", true),
			attribute.String("llm.error_message", err.Error()),
		)
		return nil, err
	}
	return &sseStream{stream: stream}, nil
}

// sseStream narrows the SDK stream to content deltas.
type sseStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *sseStream) Next() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *sseStream) Close() error {
	return s.stream.Close()
}
