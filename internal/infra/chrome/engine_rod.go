package chrome

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// RodEngine launches browsers through go-rod's launcher.
type RodEngine struct{}

func (RodEngine) Name() string { return "rod" }

func (RodEngine) Launch(ctx context.Context, opts LaunchOptions) (Process, error) {
	profileDir, err := createProfileDir(opts.UserDataDir)
	if err != nil {
		return nil, err
	}

	launchCtx, cancel := withBound(ctx, opts.Timeout)
	defer cancel()

	l := launcher.New().
		Context(launchCtx).
		Bin(opts.ExecPath).
		Headless(true).
		NoSandbox(opts.NoSandbox).
		UserDataDir(profileDir).
		Leakless(false)
	for _, f := range Flags(opts.NoSandbox) {
		if f.Value == "" {
			l = l.Set(flags.Flag(f.Name))
		} else {
			l = l.Set(flags.Flag(f.Name), f.Value)
		}
	}

	p := &rodProcess{launcher: l, profileDir: profileDir}

	controlURL, err := l.Launch()
	if err != nil {
		_ = p.Close(context.Background())
		return nil, fmt.Errorf("start %s: %w", opts.ExecPath, err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		_ = p.Close(context.Background())
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	p.browser = browser

	pg, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = p.Close(context.Background())
		return nil, fmt.Errorf("open page: %w", err)
	}
	p.page = pg
	return p, nil
}

type rodProcess struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	profileDir string
}

func (p *rodProcess) PID() int { return p.launcher.PID() }

func (p *rodProcess) Load(ctx context.Context, html string, quiet time.Duration) error {
	pg := p.page.Context(ctx)
	if err := (proto.NetworkEnable{}).Call(pg); err != nil {
		return err
	}

	tracker := newIdleTracker()
	listenCtx, stopListening := context.WithCancel(ctx)
	defer stopListening()
	go p.page.Context(listenCtx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Type == proto.NetworkResourceTypeWebSocket || e.Type == proto.NetworkResourceTypeEventSource {
				return
			}
			tracker.start(string(e.RequestID))
		},
		func(e *proto.NetworkLoadingFinished) { tracker.finish(string(e.RequestID)) },
		func(e *proto.NetworkLoadingFailed) { tracker.finish(string(e.RequestID)) },
	)()

	if err := pg.SetDocumentContent(html); err != nil {
		return ctxErr(ctx, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return ctxErr(ctx, err)
	}
	return tracker.wait(ctx, quiet)
}

func (p *rodProcess) PrintPDF(ctx context.Context, opts PrintOptions) ([]byte, error) {
	width, height, margin := opts.PaperWidth, opts.PaperHeight, opts.Margin
	r, err := p.page.Context(ctx).PDF(&proto.PagePrintToPDF{
		PrintBackground:   opts.PrintBackground,
		PreferCSSPageSize: opts.PreferCSSPageSize,
		PaperWidth:        &width,
		PaperHeight:       &height,
		MarginTop:         &margin,
		MarginBottom:      &margin,
		MarginLeft:        &margin,
		MarginRight:       &margin,
	})
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	return data, nil
}

// Close asks the browser to exit and waits for the process. The process group
// is killed only when the graceful close fails or ctx expires; launcher.Kill
// is avoided because it sleeps a second before signalling.
func (p *rodProcess) Close(ctx context.Context) error {
	var errs []error
	graceful := false
	if p.browser != nil {
		if err := p.browser.Context(ctx).Close(); err != nil {
			errs = append(errs, fmt.Errorf("graceful close: %w", err))
		} else {
			graceful = true
		}
	}

	if pid := p.launcher.PID(); pid != 0 {
		exited := make(chan struct{})
		go func() {
			p.launcher.Cleanup()
			close(exited)
		}()
		if !graceful {
			killProcessGroup(pid)
		}
		select {
		case <-exited:
		case <-ctx.Done():
			// SIGKILL cannot be ignored, so the reap below is prompt.
			killProcessGroup(pid)
			<-exited
			errs = append(errs, fmt.Errorf("wait for exit: %w", ctx.Err()))
		}
	}

	if err := os.RemoveAll(p.profileDir); err != nil {
		errs = append(errs, fmt.Errorf("remove profile dir: %w", err))
	}
	return errors.Join(errs...)
}

// ctxErr prefers the context's error so deadlines surface as such.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
