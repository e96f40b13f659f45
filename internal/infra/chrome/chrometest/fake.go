// Package chrometest provides an in-memory engine for tests that must not
// spawn a browser.
package chrometest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pdfrender/internal/infra/chrome"
)

// Engine is a fake chrome.Engine. Its zero value launches successfully and
// exports a one-page PDF.
type Engine struct {
	LaunchErr    error
	LoadErr      error
	HangOnLoad   bool // block in Load until its context ends
	PrintErr     error
	PDF          []byte // exported bytes; defaults to a PDF derived from the html
	CloseErr     error
	PanicOnClose bool

	launched atomic.Int64
	closed   atomic.Int64

	mu       sync.Mutex
	lastOpts chrome.LaunchOptions
	lastHTML string
}

var _ chrome.Engine = (*Engine)(nil)

func (e *Engine) Name() string { return "fake" }

func (e *Engine) Launch(ctx context.Context, opts chrome.LaunchOptions) (chrome.Process, error) {
	if e.LaunchErr != nil {
		return nil, e.LaunchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.lastOpts = opts
	e.mu.Unlock()
	n := e.launched.Add(1)
	return &process{engine: e, pid: 10000 + int(n)}, nil
}

// Launches counts processes started.
func (e *Engine) Launches() int64 { return e.launched.Load() }

// Closes counts processes terminated.
func (e *Engine) Closes() int64 { return e.closed.Load() }

func (e *Engine) LastOptions() chrome.LaunchOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastOpts
}

func (e *Engine) LastHTML() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastHTML
}

type process struct {
	engine *Engine
	pid    int
	html   string
	closed atomic.Bool
}

func (p *process) PID() int { return p.pid }

func (p *process) Load(ctx context.Context, html string, _ time.Duration) error {
	if p.engine.HangOnLoad {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.engine.LoadErr != nil {
		return p.engine.LoadErr
	}
	p.html = html
	p.engine.mu.Lock()
	p.engine.lastHTML = html
	p.engine.mu.Unlock()
	return nil
}

func (p *process) PrintPDF(ctx context.Context, _ chrome.PrintOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.engine.PrintErr != nil {
		return nil, p.engine.PrintErr
	}
	if p.engine.PDF != nil {
		return append([]byte(nil), p.engine.PDF...), nil
	}
	return TextPDF(p.html), nil
}

func (p *process) Close(context.Context) error {
	if p.closed.CompareAndSwap(false, true) {
		p.engine.closed.Add(1)
	}
	if p.engine.PanicOnClose {
		panic("fake engine: close exploded")
	}
	return p.engine.CloseErr
}

// TextPDF builds a valid one-page PDF showing text. Equal input gives equal
// bytes.
func TextPDF(text string) []byte {
	return PagesPDF(text, 1)
}

// PagesPDF builds a valid PDF with the given number of pages, each showing
// text.
func PagesPDF(text string, pages int) []byte {
	escaped := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`, "\n", " ", "\r", " ").Replace(text)
	stream := "BT\n/F1 12 Tf\n72 720 Td\n(" + escaped + ") Tj\nET"

	var b strings.Builder
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	// 1 catalog, 2 pages, 3 font, 4 content, 5.. page objects.
	b.WriteString("%PDF-1.4\n")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 5+i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	for i := 0; i < pages; i++ {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Contents 4 0 R /Resources << /Font << /F1 3 0 R >> >> >>")
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return []byte(b.String())
}
