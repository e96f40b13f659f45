package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromedpEngine launches browsers through chromedp's exec allocator.
type ChromedpEngine struct{}

func (ChromedpEngine) Name() string { return "chromedp" }

func (ChromedpEngine) Launch(ctx context.Context, opts LaunchOptions) (Process, error) {
	profileDir, err := createProfileDir(opts.UserDataDir)
	if err != nil {
		return nil, err
	}

	allocatorOptions := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(opts.ExecPath),
		chromedp.UserDataDir(profileDir),
	)
	if opts.Timeout > 0 {
		allocatorOptions = append(allocatorOptions, chromedp.WSURLReadTimeout(opts.Timeout))
	}
	for _, f := range Flags(opts.NoSandbox) {
		if f.Value == "" {
			allocatorOptions = append(allocatorOptions, chromedp.Flag(f.Name, true))
		} else {
			allocatorOptions = append(allocatorOptions, chromedp.Flag(f.Name, f.Value))
		}
	}

	// The browser outlives the launching request context; Close owns it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	p := &chromedpProcess{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		profileDir:    profileDir,
	}

	// The first Run starts the browser. A timeout on its context would tear
	// the browser down with it, so the bound is applied from outside.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()

	var timeout <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err = <-started:
	case <-timeout:
		err = fmt.Errorf("browser did not start within %s", opts.Timeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		_ = p.Close(context.Background())
		return nil, fmt.Errorf("start %s: %w", opts.ExecPath, err)
	}

	if c := chromedp.FromContext(browserCtx); c != nil && c.Browser != nil {
		if proc := c.Browser.Process(); proc != nil {
			p.pid = proc.Pid
		}
	}
	return p, nil
}

type chromedpProcess struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	profileDir    string
	pid           int
}

func (p *chromedpProcess) PID() int { return p.pid }

// run executes actions on the browser tab, bounded by ctx.
func (p *chromedpProcess) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromedpProcess) Load(ctx context.Context, html string, quiet time.Duration) error {
	tracker := newIdleTracker()
	listenCtx, stopListening := context.WithCancel(p.browserCtx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Type == network.ResourceTypeWebSocket || e.Type == network.ResourceTypeEventSource {
				return
			}
			tracker.start(string(e.RequestID))
		case *network.EventLoadingFinished:
			tracker.finish(string(e.RequestID))
		case *network.EventLoadingFailed:
			tracker.finish(string(e.RequestID))
		}
	})

	return p.run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frame, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frame.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return tracker.wait(ctx, quiet)
		}),
	)
}

func (p *chromedpProcess) PrintPDF(ctx context.Context, opts PrintOptions) ([]byte, error) {
	var pdfBuf []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		pdfBuf, _, err = page.PrintToPDF().
			WithPrintBackground(opts.PrintBackground).
			WithPreferCSSPageSize(opts.PreferCSSPageSize).
			WithPaperWidth(opts.PaperWidth).
			WithPaperHeight(opts.PaperHeight).
			WithMarginTop(opts.Margin).
			WithMarginBottom(opts.Margin).
			WithMarginLeft(opts.Margin).
			WithMarginRight(opts.Margin).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return pdfBuf, nil
}

// Close asks the browser to exit, then kills it through the allocator, which
// also waits for the process to be reaped.
func (p *chromedpProcess) Close(ctx context.Context) error {
	var errs []error

	graceful := make(chan error, 1)
	go func() { graceful <- chromedp.Cancel(p.browserCtx) }()
	select {
	case err := <-graceful:
		if err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("graceful close: %w", err))
		}
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("graceful close: %w", ctx.Err()))
	}

	p.browserCancel()
	// The exec allocator's cancel blocks until the process has been reaped,
	// so the profile dir is no longer in use below.
	p.allocCancel()

	if err := os.RemoveAll(p.profileDir); err != nil {
		errs = append(errs, fmt.Errorf("remove profile dir: %w", err))
	}
	return errors.Join(errs...)
}
