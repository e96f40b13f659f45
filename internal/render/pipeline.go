// Package render runs one HTML to PDF conversion from validation to teardown.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"pdfrender/internal/config"
	"pdfrender/internal/domain"
	"pdfrender/internal/infra/chrome"
	"pdfrender/internal/infra/ledger"
	"pdfrender/internal/infra/logging"
	"pdfrender/internal/infra/pdfinfo"
)

const previewChars = 100

// Options are the per-render limits and session bounds.
type Options struct {
	MaxHTMLBytes int
	Session      chrome.SessionOptions
}

// OptionsFromConfig maps the pdf and limits sections onto Options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		MaxHTMLBytes: cfg.Limits.MaxHTMLBytes,
		Session: chrome.SessionOptions{
			NoSandbox:      cfg.PDF.ChromeNoSandbox,
			UserDataDir:    cfg.PDF.UserDataDir,
			LaunchTimeout:  cfg.PDF.LaunchTimeout,
			ContentTimeout: cfg.PDF.ContentTimeout,
			NetworkIdle:    cfg.PDF.NetworkIdle,
			ExportTimeout:  cfg.PDF.ExportTimeout,
			CloseTimeout:   cfg.PDF.CloseTimeout,
			MaxPDFBytes:    cfg.Limits.MaxPDFBytes,
		},
	}
}

// Pipeline converts requests one session at a time. It holds no per-request
// state and is safe for concurrent use.
type Pipeline struct {
	resolver chrome.Resolver
	engine   chrome.Engine
	ledger   ledger.Ledger
	opts     Options
}

func New(resolver chrome.Resolver, engine chrome.Engine, l ledger.Ledger, opts Options) *Pipeline {
	if l == nil {
		l = ledger.Nop{}
	}
	return &Pipeline{resolver: resolver, engine: engine, ledger: l, opts: opts}
}

// Render validates req and, if it is acceptable, drives a fresh session
// through launch, load and export. The session is closed before Render
// returns on every path.
func (p *Pipeline) Render(ctx context.Context, req domain.RenderRequest) (res domain.RenderResult) {
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if err := req.Validate(); err != nil {
		return domain.Failed(asRenderError(domain.KindValidation, "validate", err))
	}
	if p.opts.MaxHTMLBytes > 0 && len(req.HTML) > p.opts.MaxHTMLBytes {
		return domain.Failed(domain.NewError(domain.KindValidation, "validate",
			fmt.Errorf("%w: %d > %d bytes", domain.ErrHTMLTooLarge, len(req.HTML), p.opts.MaxHTMLBytes)))
	}

	logging.Debug("Render requested",
		"length", len(req.HTML),
		"preview", preview(req.HTML, previewChars),
	)

	path, err := p.resolver.Resolve()
	if err != nil {
		logging.Error("Browser executable not resolved", "error", err)
		return domain.Failed(asRenderError(domain.KindResolution, "resolve", err))
	}

	sess := chrome.NewSession(p.engine, p.ledger, p.opts.Session)
	res = p.run(ctx, sess, path, req.HTML)

	if res.OK() {
		logging.Info("PDF generated",
			"session", res.SessionID,
			"bytes", res.SizeBytes,
			"pages", res.PageCount,
			"took_ms", time.Since(start).Milliseconds(),
		)
	} else {
		logging.Warn("PDF generation failed",
			"session", res.SessionID,
			"kind", string(res.Kind()),
			"error", res.Err,
		)
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, sess *chrome.Session, path, html string) (res domain.RenderResult) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Render panicked", "session", sess.ID, "panic", fmt.Sprint(r))
			res = domain.Failed(domain.NewError(domain.KindUnknown, "render", fmt.Errorf("panic: %v", r)))
		}
		// Close reports its own failures and never replaces res.
		_ = sess.Close()
		res.SessionID = sess.ID
	}()

	if err := sess.Launch(ctx, path); err != nil {
		return domain.Failed(asRenderError(domain.KindLaunch, "launch", err))
	}
	if err := sess.LoadContent(ctx, html); err != nil {
		return domain.Failed(asRenderError(domain.KindContentTimeout, "load", err))
	}
	pdf, err := sess.ExportPDF(ctx)
	if err != nil {
		return domain.Failed(asRenderError(domain.KindExport, "export", err))
	}
	pages, err := pdfinfo.PageCount(pdf)
	if err != nil {
		logging.Warn("PDF page count unavailable", "session", sess.ID, "error", err)
	}
	return domain.Succeeded(pdf, pages)
}

// asRenderError keeps an existing kind and wraps anything else in kind.
func asRenderError(kind domain.ErrorKind, op string, err error) *domain.RenderError {
	var re *domain.RenderError
	if errors.As(err, &re) {
		return re
	}
	return domain.NewError(kind, op, err)
}

// preview cuts s to at most n runes.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
