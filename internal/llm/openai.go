package llm

import (
	"context"
	"errors"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the chat-completions backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIBackend calls an OpenAI-compatible chat completions endpoint through
// the official SDK. SDK-level retries are disabled; Client owns retrying.
type OpenAIBackend struct {
	client openai.Client
	model  string
}

// NewOpenAIBackend validates cfg and builds the SDK client.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIBackend{client: openai.NewClient(opts...), model: cfg.Model}, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }

// Generate sends one system+user exchange. The accessor text is the first
// choice's content; the raw JSON is kept for the fallback extractors.
func (b *OpenAIBackend) Generate(ctx context.Context, req GenerateRequest) (*Response, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(b.model),
		Messages: msgs,
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	raw := []byte(resp.RawJSON())
	if len(resp.Choices) == 0 {
		return NewRawResponse(raw), nil
	}
	return NewAccessorResponse(raw, resp.Choices[0].Message.Content), nil
}

var _ Backend = (*OpenAIBackend)(nil)
