package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPConfig configures a generic JSON completion endpoint.
type HTTPConfig struct {
	URL     string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// HTTPBackend POSTs a flat {model, system, prompt, max_tokens, temperature,
// top_p} JSON body and hands whatever JSON comes back to the extractors. The
// endpoint must accept that request shape, as Ollama-style /api/generate
// servers or a thin proxy do.
type HTTPBackend struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPBackend creates the backend. A zero timeout means two minutes.
func NewHTTPBackend(cfg HTTPConfig) *HTTPBackend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &HTTPBackend{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (b *HTTPBackend) Name() string { return "http" }

type httpCompletionRequest struct {
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

func (b *HTTPBackend) Generate(ctx context.Context, req GenerateRequest) (*Response, error) {
	body, err := json.Marshal(httpCompletionRequest{
		Model:       b.cfg.Model,
		System:      req.System,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("completion endpoint returned %d: %s", resp.StatusCode, truncate(string(raw), 300))
	}
	return NewRawResponse(raw), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Backend = (*HTTPBackend)(nil)
