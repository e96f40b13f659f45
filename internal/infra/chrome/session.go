package chrome

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"pdfrender/internal/domain"
	"pdfrender/internal/infra/ledger"
	"pdfrender/internal/infra/logging"
)

var pdfMagic = []byte("%PDF-")

// SessionOptions bounds each phase of a session.
type SessionOptions struct {
	NoSandbox      bool
	UserDataDir    string
	LaunchTimeout  time.Duration
	ContentTimeout time.Duration
	NetworkIdle    time.Duration
	ExportTimeout  time.Duration
	CloseTimeout   time.Duration
	MaxPDFBytes    int // 0 disables the size check
}

// Session owns exactly one engine process for one render. It is never reused.
type Session struct {
	ID        string
	StartedAt time.Time

	engine Engine
	ledger ledger.Ledger
	opts   SessionOptions

	mu      sync.Mutex
	state   domain.SessionState
	proc    Process
	failure *domain.RenderError

	closeOnce sync.Once
	closeErr  error
}

// NewSession returns an idle session. A nil ledger counts nothing.
func NewSession(engine Engine, l ledger.Ledger, opts SessionOptions) *Session {
	if l == nil {
		l = ledger.Nop{}
	}
	return &Session{
		ID:        xid.New().String(),
		StartedAt: time.Now(),
		engine:    engine,
		ledger:    l,
		opts:      opts,
	}
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failure is the error that moved the session to Failed, if any.
func (s *Session) Failure() *domain.RenderError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// begin moves from -> to, or reports why the call is out of order.
func (s *Session) begin(op string, from, to domain.SessionState) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.StateClosed {
		return nil, fmt.Errorf("%s: %w", op, domain.ErrSessionClosed)
	}
	if s.state != from {
		return nil, fmt.Errorf("%s in state %s: %w", op, s.state, domain.ErrInvalidTransition)
	}
	s.state = to
	return s.proc, nil
}

// advance completes a phase unless Close got there first.
func (s *Session) advance(to domain.SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateClosed {
		s.state = to
	}
}

func (s *Session) fail(kind domain.ErrorKind, op string, err error) *domain.RenderError {
	re := domain.NewError(kind, op, err)
	s.mu.Lock()
	if s.state != domain.StateClosed {
		s.state = domain.StateFailed
	}
	s.failure = re
	s.mu.Unlock()

	logging.Warn("Render session failed",
		"session", s.ID,
		"kind", string(kind),
		"interrupted", IsSessionInterrupted(err),
		"error", err,
	)
	return re
}

// Launch starts the engine process at execPath.
func (s *Session) Launch(ctx context.Context, execPath string) error {
	if _, err := s.begin("launch", domain.StateIdle, domain.StateLaunching); err != nil {
		return err
	}

	start := time.Now()
	proc, err := s.engine.Launch(ctx, LaunchOptions{
		ExecPath:    execPath,
		NoSandbox:   s.opts.NoSandbox,
		UserDataDir: s.opts.UserDataDir,
		Timeout:     s.opts.LaunchTimeout,
	})
	if err != nil {
		return s.fail(domain.KindLaunch, "launch", err)
	}
	s.ledger.Launched(ctx)

	s.mu.Lock()
	if s.state == domain.StateClosed {
		// Closed while launching: nobody else will terminate this process.
		s.mu.Unlock()
		s.terminate(proc)
		return fmt.Errorf("launch: %w", domain.ErrSessionClosed)
	}
	s.proc = proc
	s.state = domain.StateLaunched
	s.mu.Unlock()

	logging.Debug("Browser launched",
		"session", s.ID,
		"engine", s.engine.Name(),
		"pid", proc.PID(),
		"took_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// LoadContent injects html and waits for the network to go idle.
func (s *Session) LoadContent(ctx context.Context, html string) error {
	proc, err := s.begin("load", domain.StateLaunched, domain.StateLoadingContent)
	if err != nil {
		return err
	}

	loadCtx, cancel := withBound(ctx, s.opts.ContentTimeout)
	defer cancel()

	if err := proc.Load(loadCtx, html, s.opts.NetworkIdle); err != nil {
		switch {
		case errors.Is(loadCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			return s.fail(domain.KindContentTimeout, "load",
				fmt.Errorf("content did not settle within %s: %w", s.opts.ContentTimeout, err))
		case ctx.Err() != nil:
			return s.fail(domain.KindContentTimeout, "load",
				fmt.Errorf("request ended while loading content: %w", ctx.Err()))
		default:
			return s.fail(domain.KindExport, "load", err)
		}
	}
	s.advance(domain.StateContentReady)
	return nil
}

// ExportPDF prints the loaded document as A4.
func (s *Session) ExportPDF(ctx context.Context) ([]byte, error) {
	proc, err := s.begin("export", domain.StateContentReady, domain.StateExporting)
	if err != nil {
		return nil, err
	}

	exportCtx, cancel := withBound(ctx, s.opts.ExportTimeout)
	defer cancel()

	pdf, err := proc.PrintPDF(exportCtx, A4)
	if err != nil {
		if errors.Is(exportCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("export did not finish within %s: %w", s.opts.ExportTimeout, err)
		}
		return nil, s.fail(domain.KindExport, "export", err)
	}
	if !bytes.HasPrefix(pdf, pdfMagic) {
		return nil, s.fail(domain.KindExport, "export", domain.ErrNotPDF)
	}
	if limit := s.opts.MaxPDFBytes; limit > 0 && len(pdf) > limit {
		return nil, s.fail(domain.KindExport, "export",
			fmt.Errorf("%w: %d > %d bytes", domain.ErrPDFTooLarge, len(pdf), limit))
	}
	s.advance(domain.StateExported)
	return pdf, nil
}

// Close terminates the process, if any, exactly once. It is safe to call
// from any state and any number of times; the outcome recorded by earlier
// phases is left untouched. The returned error has already been logged.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		proc := s.proc
		s.proc = nil
		s.state = domain.StateClosed
		s.mu.Unlock()

		if proc == nil {
			return
		}
		if err := s.terminate(proc); err != nil {
			s.closeErr = domain.NewError(domain.KindClose, "close", err)
			logging.Error("Render session close failed",
				"session", s.ID,
				"kind", string(domain.KindClose),
				"prev_state", prev.String(),
				"error", err,
			)
			return
		}
		logging.Debug("Render session closed",
			"session", s.ID,
			"prev_state", prev.String(),
			"lifetime_ms", time.Since(s.StartedAt).Milliseconds(),
		)
	})
	return s.closeErr
}

// terminate closes proc and records it in the ledger, surviving a panic in
// the engine's close path.
func (s *Session) terminate(proc Process) (err error) {
	ctx, cancel := withBound(context.Background(), s.opts.CloseTimeout)
	defer cancel()
	defer s.ledger.Terminated(ctx)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during close: %v", r)
		}
	}()
	return proc.Close(ctx)
}
