package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rendis/bookforge/pkg/schema"
)

// ServiceRenderer posts the document to an HTML-to-PDF service as a
// multipart form: an "instructions" JSON part and an "index.html" part.
// Failures are returned as EXTERNAL_RENDER_FAILED and never retried.
type ServiceRenderer struct {
	url     string
	opts    Options
	client  *http.Client
	maxBody int64
}

// NewServiceRenderer creates a renderer for url. A zero timeout means two minutes.
func NewServiceRenderer(url string, opts Options, timeout time.Duration) *ServiceRenderer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ServiceRenderer{
		url:     url,
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		maxBody: 256 << 20,
	}
}

func (r *ServiceRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	body, contentType, err := r.form(html)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("build pdf request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "pdf rendering interrupted").WithCause(err)
		}
		return nil, schema.NewError(schema.ErrCodeExternalRender, "pdf service unreachable").WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExternalRender, "read pdf response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(data))
		return nil, schema.NewErrorf(schema.ErrCodeExternalRender,
			"pdf service returned %d: %s", resp.StatusCode, text).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": text})
	}
	if len(data) == 0 {
		return nil, schema.NewError(schema.ErrCodeExternalRender, "pdf service returned an empty document")
	}
	return data, nil
}

func (r *ServiceRenderer) form(html string) (io.Reader, string, error) {
	instructions, err := json.Marshal(r.opts)
	if err != nil {
		return nil, "", fmt.Errorf("marshal pdf instructions: %w", err)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	parts := []struct {
		name, filename, contentType string
		data                        []byte
	}{
		{"instructions", "instructions.json", "application/json", instructions},
		{"index.html", "index.html", "text/html; charset=utf-8", []byte(html)},
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.name, p.filename))
		h.Set("Content-Type", p.contentType)
		pw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create %s part: %w", p.name, err)
		}
		if _, err := pw.Write(p.data); err != nil {
			return nil, "", fmt.Errorf("write %s part: %w", p.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
