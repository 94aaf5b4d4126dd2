package diagram

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/bookforge/internal/engine"
	"github.com/rendis/bookforge/pkg/schema"
)

// HTTPService posts diagram source as text/plain and takes the 2xx body as
// the rendered image. A circuit breaker stops hammering a service that is down.
type HTTPService struct {
	url     string
	client  *http.Client
	breaker *engine.CircuitBreaker
}

// NewHTTPService creates a client for url. breaker may be nil.
func NewHTTPService(url string, timeout time.Duration, breaker *engine.CircuitBreaker) *HTTPService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPService{url: url, client: &http.Client{Timeout: timeout}, breaker: breaker}
}

// Render sends source and returns the image.
func (s *HTTPService) Render(ctx context.Context, source string) (*Image, error) {
	if s.breaker != nil {
		if err := s.breaker.Allow(s.url); err != nil {
			return nil, err
		}
	}
	img, err := s.do(ctx, source)
	if s.breaker != nil {
		if err != nil && ctx.Err() == nil {
			s.breaker.Failure(s.url)
		} else if err == nil {
			s.breaker.Success(s.url)
		}
	}
	return img, err
}

func (s *HTTPService) do(ctx context.Context, source string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("build diagram request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeDiagramRender, "diagram service unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeDiagramRender, "read diagram response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, schema.NewErrorf(schema.ErrCodeDiagramRender, "diagram service returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": string(body)})
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, schema.NewError(schema.ErrCodeDiagramRender, "diagram service returned an empty body")
	}
	return &Image{Data: body, MediaType: mediaType(resp.Header.Get("Content-Type"), body)}, nil
}

func mediaType(header string, body []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && strings.HasPrefix(mt, "image/") {
		return mt
	}
	if bytes.Contains(body[:min(len(body), 512)], []byte("<svg")) {
		return "image/svg+xml"
	}
	return http.DetectContentType(body)
}
