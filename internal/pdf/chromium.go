package pdf

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/rendis/bookforge/pkg/schema"
)

// ChromiumRenderer prints the document with a local headless Chromium.
// The browser is launched on first use and reused until Close.
type ChromiumRenderer struct {
	opts    Options
	bin     string
	workDir string
	timeout time.Duration

	mu      sync.Mutex
	browser *rod.Browser
}

// NewChromiumRenderer creates a renderer. bin may be empty to let rod find or
// download a browser; workDir holds the temporary HTML files.
func NewChromiumRenderer(opts Options, bin, workDir string, timeout time.Duration) *ChromiumRenderer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &ChromiumRenderer{opts: opts, bin: bin, workDir: workDir, timeout: timeout}
}

func (r *ChromiumRenderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New()
	if r.bin != "" {
		l = l.Bin(r.bin).NoSandbox(true)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExternalRender, "launch chromium").WithCause(err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, schema.NewError(schema.ErrCodeExternalRender, "connect to chromium").WithCause(err)
	}
	r.browser = b
	return b, nil
}

func (r *ChromiumRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	browser, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(r.workDir, "book-*.html")
	if err != nil {
		return nil, fmt.Errorf("create html file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.WriteString(html); err != nil {
		f.Close()
		return nil, fmt.Errorf("write html file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close html file: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve html path: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "file://" + abs})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExternalRender, "open page").WithCause(err)
	}
	defer page.Close()

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}
	if err := page.Context(ctx).Timeout(timeout).WaitLoad(); err != nil {
		return nil, schema.NewError(schema.ErrCodeExternalRender, "page load").WithCause(err)
	}

	reader, err := page.Context(ctx).PDF(printOptions(r.opts))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExternalRender, "print to pdf").WithCause(err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExternalRender, "read pdf stream").WithCause(err)
	}
	return data, nil
}

// Close shuts the browser down.
func (r *ChromiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.browser = nil
	return err
}

func printOptions(o Options) *proto.PagePrintToPDF {
	w, h := paperSize(o.Format)
	p := &proto.PagePrintToPDF{
		PaperWidth:      floatPtr(w),
		PaperHeight:     floatPtr(h),
		MarginTop:       floatPtr(mmToInches(o.Margins.Top)),
		MarginBottom:    floatPtr(mmToInches(o.Margins.Bottom)),
		MarginLeft:      floatPtr(mmToInches(o.Margins.Left)),
		MarginRight:     floatPtr(mmToInches(o.Margins.Right)),
		PrintBackground: o.PrintBackground,
	}
	if o.HeaderTemplate != "" || o.FooterTemplate != "" {
		p.DisplayHeaderFooter = true
		p.HeaderTemplate = o.HeaderTemplate
		p.FooterTemplate = o.FooterTemplate
	}
	return p
}

func floatPtr(f float64) *float64 { return &f }
