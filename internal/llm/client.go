package llm

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rendis/bookforge/internal/engine"
	"github.com/rendis/bookforge/internal/expressions"
	"github.com/rendis/bookforge/internal/logging"
	"github.com/rendis/bookforge/pkg/schema"
)

// MinSanityLength is the shortest reply accepted as a real answer. Anything
// shorter is treated like a transport failure and retried.
const MinSanityLength = 40

// Options tune a single Complete call.
type Options struct {
	// CallerKey selects the rate-limit bucket, normally the session id.
	CallerKey       string
	MinLength       int
	MaxOutputTokens int
	Temperature     *float64
	TopP            *float64
	System          string
	// Record appends the exchange to this transcript on success.
	Record *Transcript
}

// Client is the retrying, rate-limited text-completion client.
type Client struct {
	backend    Backend
	limiter    *engine.RateLimiter
	policy     engine.RetryPolicy
	extractors []Extractor
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithRetryPolicy replaces the default three-attempt linear policy.
func WithRetryPolicy(p engine.RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithExtractors replaces the default response-shape probes.
func WithExtractors(x ...Extractor) ClientOption {
	return func(c *Client) { c.extractors = x }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient wraps backend. limiter may be nil for unlimited calls.
func NewClient(backend Backend, limiter *engine.RateLimiter, opts ...ClientOption) *Client {
	c := &Client{
		backend: backend,
		limiter: limiter,
		policy:  engine.DefaultCompletionPolicy(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extractors == nil {
		c.extractors = DefaultExtractors(expressions.NewGoJQEngine())
	}
	return c
}

// Complete sends prompt and returns the extracted reply. Transport errors,
// empty or implausibly short replies and replies under opts.MinLength are all
// retried under the client's policy; only the last failure is returned.
func (c *Client) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	log := logging.LogWith(ctx, c.logger).With(slog.String("backend", c.backend.Name()))
	req := GenerateRequest{
		System:          opts.System,
		Prompt:          prompt,
		MaxOutputTokens: opts.MaxOutputTokens,
		Temperature:     opts.Temperature,
		TopP:            opts.TopP,
	}

	var reply string
	err := engine.Retry(ctx, c.policy, func(ctx context.Context, attempt int) error {
		if c.limiter != nil {
			waited, err := c.limiter.Wait(ctx, opts.CallerKey)
			if err != nil {
				return schema.NewError(schema.ErrCodeCancelled, "rate limit wait interrupted").WithCause(err)
			}
			if waited > 0 {
				log.Debug("rate limited", slog.Duration("waited", waited), slog.Int("attempt", attempt))
			}
		}

		resp, err := c.backend.Generate(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return schema.NewError(schema.ErrCodeCancelled, "completion interrupted").WithCause(err)
			}
			return schema.NewError(schema.ErrCodeTransientBackend, "completion request failed").WithCause(err)
		}

		text, shape, _ := ExtractText(ctx, resp, c.extractors)
		text = strings.TrimSpace(text)
		if len(text) < MinSanityLength {
			return schema.NewErrorf(schema.ErrCodeTransientBackend,
				"reply too short to be real (%d chars)", len(text)).
				WithDetails(map[string]any{"shape": shape, "length": len(text)})
		}
		if opts.MinLength > 0 && len(text) < opts.MinLength {
			return schema.NewErrorf(schema.ErrCodeTooShort,
				"reply has %d chars, need %d", len(text), opts.MinLength).
				WithDetails(map[string]any{"length": len(text), "min_length": opts.MinLength})
		}
		reply = text
		return nil
	}, func(attempt int, err error, delay time.Duration) {
		log.Warn("completion attempt failed",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()))
	})
	if err != nil {
		return "", err
	}

	if opts.Record != nil {
		if err := opts.Record.Append(ctx, Exchange{Prompt: prompt, Reply: reply, At: c.now().UTC()}); err != nil {
			// Non-fatal: the reply is kept.
			log.Warn("transcript persist failed", slog.String("error", err.Error()))
		}
	}
	return reply, nil
}
