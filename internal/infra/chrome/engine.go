// Package chrome drives a headless Chrome/Chromium process for one render:
// executable resolution, the session state machine and the two engine
// bindings (chromedp and go-rod).
package chrome

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"pdfrender/internal/config"
)

// LaunchOptions configures one engine process.
type LaunchOptions struct {
	ExecPath    string
	NoSandbox   bool
	UserDataDir string // base dir; each process gets its own subdirectory
	Timeout     time.Duration
}

// Engine starts engine processes. If Launch fails after the OS process was
// started, the engine must terminate it before returning.
type Engine interface {
	Name() string
	Launch(ctx context.Context, opts LaunchOptions) (Process, error)
}

// Process is one running browser with a single page.
type Process interface {
	PID() int
	// Load replaces the page document with html and returns once the page
	// has had no in-flight request for quiet.
	Load(ctx context.Context, html string, quiet time.Duration) error
	PrintPDF(ctx context.Context, opts PrintOptions) ([]byte, error)
	// Close terminates the process and removes its profile. The process is
	// gone when Close returns, even if an error is reported.
	Close(ctx context.Context) error
}

// NewEngine returns the engine registered under name.
func NewEngine(name string) (Engine, error) {
	switch name {
	case config.EngineChromedp, "":
		return ChromedpEngine{}, nil
	case config.EngineRod:
		return RodEngine{}, nil
	default:
		return nil, fmt.Errorf("unknown pdf engine %q", name)
	}
}

// Flag is a command line switch. An empty Value is a bare boolean switch.
type Flag struct {
	Name  string
	Value string
}

// Flags is the fixed switch set every engine process starts with, on top of
// headless mode.
func Flags(noSandbox bool) []Flag {
	flags := []Flag{
		// Software rendering avoids Vulkan/ANGLE issues in minimal containers.
		{Name: "disable-gpu"},
		{Name: "disable-gpu-compositing"},
		{Name: "disable-features", Value: "Vulkan,UseSkiaRenderer"},
		{Name: "use-gl", Value: "swiftshader"},
		{Name: "disable-dev-shm-usage"},
		{Name: "no-first-run"},
		{Name: "no-default-browser-check"},
		{Name: "disable-extensions"},
		{Name: "hide-scrollbars"},
		{Name: "mute-audio"},
	}
	if noSandbox {
		flags = append(flags, Flag{Name: "no-sandbox"}, Flag{Name: "disable-setuid-sandbox"})
	}
	return flags
}

// PrintOptions is the page setup for export. Lengths are inches.
type PrintOptions struct {
	PaperWidth        float64
	PaperHeight       float64
	Margin            float64
	PrintBackground   bool
	PreferCSSPageSize bool
}

const mmPerInch = 25.4

// A4 is the only export layout: 210x297mm, 10mm margins, backgrounds on.
var A4 = PrintOptions{
	PaperWidth:        8.27,
	PaperHeight:       11.69,
	Margin:            10 / mmPerInch,
	PrintBackground:   true,
	PreferCSSPageSize: true,
}

// createProfileDir makes a fresh user-data dir under base (or the OS temp dir).
func createProfileDir(base string) (string, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", fmt.Errorf("cannot create profile base dir: %w", err)
	}
	dir, err := os.MkdirTemp(base, "pdfrender-profile-*")
	if err != nil {
		return "", fmt.Errorf("cannot create temp profile dir: %w", err)
	}
	return dir, nil
}

// IsSessionInterrupted reports whether err means the browser or its page
// went away underneath us rather than a content problem.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"target closed", "session closed", "websocket", "browser closed", "connection reset", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withBound derives a context that expires after d; d <= 0 means unbounded.
func withBound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
