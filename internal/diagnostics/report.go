// Package diagnostics explains why the host can or cannot render: runtime,
// environment, executable resolution and an optional trial launch.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"pdfrender/internal/infra/chrome"
	"pdfrender/internal/infra/ledger"
	"pdfrender/internal/infra/logging"
)

const cacheKey = "pdfrender:diagnostics:report"

// envKeys are echoed into the report when set.
var envKeys = []string{
	"PATH", "HOME", "TMPDIR", "CHROME_BIN", "APP_ENV", "PORT",
	"AWS_REGION", "FLY_REGION", "VERCEL_REGION", "VERCEL_ENV", "K_SERVICE",
}

type LogLine struct {
	TS   time.Time `json:"ts"`
	Type string    `json:"type"`
	Msg  string    `json:"msg"`
}

type MemoryStats struct {
	AllocBytes uint64 `json:"allocBytes"`
	SysBytes   uint64 `json:"sysBytes"`
	HeapInUse  uint64 `json:"heapInUse"`
	NumGC      uint32 `json:"numGC"`
	Goroutines int    `json:"goroutines"`
}

type ExecutableInfo struct {
	Path       string   `json:"path"`
	Exists     bool     `json:"exists"`
	Error      string   `json:"error,omitempty"`
	Dir        string   `json:"dir,omitempty"`
	DirListing []string `json:"dirListing,omitempty"`
}

// Report is the JSON body served by the diagnostics endpoint.
type Report struct {
	Logs        []LogLine         `json:"logs"`
	Environment string            `json:"environment"`
	Platform    string            `json:"platform"`
	GoVersion   string            `json:"goVersion"`
	NumCPU      int               `json:"numCPU"`
	GOMAXPROCS  int               `json:"gomaxprocs"`
	Memory      MemoryStats       `json:"memory"`
	Env         map[string]string `json:"env"`
	Engine      string            `json:"engine"`
	Flags       []string          `json:"flags"`
	Executable  ExecutableInfo    `json:"executable"`
	LaunchError *string           `json:"launchError"`
	Ledger      *ledger.Counts    `json:"ledger,omitempty"`
	Cached      bool              `json:"cached"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Options configure a Reporter.
type Options struct {
	Environment string
	TrialLaunch bool
	CacheTTL    time.Duration
	Session     chrome.SessionOptions
}

// Reporter builds reports and caches them in store.
type Reporter struct {
	resolver chrome.Resolver
	engine   chrome.Engine
	ledger   ledger.Ledger
	store    fiber.Storage
	opts     Options
	now      func() time.Time
}

func NewReporter(resolver chrome.Resolver, engine chrome.Engine, l ledger.Ledger, store fiber.Storage, opts Options) *Reporter {
	if l == nil {
		l = ledger.Nop{}
	}
	return &Reporter{resolver: resolver, engine: engine, ledger: l, store: store, opts: opts, now: time.Now}
}

// Report returns a cached report when one is fresh, otherwise builds and
// caches a new one. Cache failures are logged and never fail the report.
func (r *Reporter) Report(ctx context.Context) Report {
	if cached, ok := r.cached(); ok {
		return cached
	}

	rep := r.build(ctx)
	if r.store != nil && r.opts.CacheTTL > 0 {
		if data, err := json.Marshal(rep); err == nil {
			if err := r.store.Set(cacheKey, data, r.opts.CacheTTL); err != nil {
				logging.Warn("Diagnostics cache write failed", "error", err)
			}
		}
	}
	return rep
}

func (r *Reporter) cached() (Report, bool) {
	if r.store == nil || r.opts.CacheTTL <= 0 {
		return Report{}, false
	}
	data, err := r.store.Get(cacheKey)
	if err != nil {
		logging.Warn("Diagnostics cache read failed", "error", err)
		return Report{}, false
	}
	if len(data) == 0 {
		return Report{}, false
	}
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		logging.Warn("Diagnostics cache entry unreadable", "error", err)
		return Report{}, false
	}
	rep.Cached = true
	return rep, true
}

type recorder struct {
	now   func() time.Time
	lines []LogLine
}

func (l *recorder) info(format string, args ...any)  { l.add("info", format, args...) }
func (l *recorder) error(format string, args ...any) { l.add("error", format, args...) }

func (l *recorder) add(typ, format string, args ...any) {
	l.lines = append(l.lines, LogLine{TS: l.now().UTC(), Type: typ, Msg: fmt.Sprintf(format, args...)})
}

func (r *Reporter) build(ctx context.Context) Report {
	log := &recorder{now: r.now}
	log.info("diagnostics started")

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	rep := Report{
		Environment: r.opts.Environment,
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion:   runtime.Version(),
		NumCPU:      runtime.NumCPU(),
		GOMAXPROCS:  runtime.GOMAXPROCS(0),
		Memory: MemoryStats{
			AllocBytes: ms.Alloc,
			SysBytes:   ms.Sys,
			HeapInUse:  ms.HeapInuse,
			NumGC:      ms.NumGC,
			Goroutines: runtime.NumGoroutine(),
		},
		Env:    make(map[string]string),
		Engine: r.engine.Name(),
	}
	log.info("environment: %s", rep.Environment)
	log.info("platform: %s, %s", rep.Platform, rep.GoVersion)

	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			rep.Env[k] = v
		}
	}

	rep.Flags = append(rep.Flags, "headless")
	for _, f := range chrome.Flags(r.opts.Session.NoSandbox) {
		if f.Value == "" {
			rep.Flags = append(rep.Flags, f.Name)
		} else {
			rep.Flags = append(rep.Flags, f.Name+"="+f.Value)
		}
	}
	log.info("engine %s with flags %s", rep.Engine, strings.Join(rep.Flags, " "))

	path, err := r.resolver.Resolve()
	inspected := path
	if err != nil {
		inspected = explicitPath(r.resolver)
	}
	rep.Executable = inspectExecutable(inspected, err)
	if err != nil {
		log.error("executable not resolved: %v", err)
	} else {
		log.info("executable resolved: %s", path)
	}
	if rep.Executable.Dir != "" {
		log.info("listing %s: %d entries", rep.Executable.Dir, len(rep.Executable.DirListing))
	}

	if r.opts.TrialLaunch && err == nil {
		if launchErr := r.trialLaunch(ctx, path); launchErr != nil {
			msg := launchErr.Error()
			rep.LaunchError = &msg
			log.error("trial launch failed: %v", launchErr)
		} else {
			log.info("trial launch succeeded")
		}
	}

	if counts, err := r.ledger.Snapshot(ctx); err == nil {
		rep.Ledger = &counts
	} else {
		log.error("ledger unavailable: %v", err)
	}

	rep.Logs = log.lines
	rep.Timestamp = r.now().UTC()
	return rep
}

// trialLaunch starts and stops one process through a regular session so it
// is counted like any other.
func (r *Reporter) trialLaunch(ctx context.Context, path string) error {
	sess := chrome.NewSession(r.engine, r.ledger, r.opts.Session)
	defer sess.Close()
	return sess.Launch(ctx, path)
}

// inspectExecutable describes the resolved path, or the explicit path that
// failed, listing its directory when the file is missing.
func inspectExecutable(path string, resolveErr error) ExecutableInfo {
	info := ExecutableInfo{Path: path}
	if resolveErr != nil {
		info.Error = resolveErr.Error()
	}
	if path == "" {
		return info
	}
	if _, err := os.Stat(path); err == nil {
		info.Exists = true
		return info
	}

	info.Dir = filepath.Dir(path)
	entries, err := os.ReadDir(info.Dir)
	if err != nil {
		if info.Error != "" {
			info.Error += "; "
		}
		info.Error += "read dir: " + err.Error()
		return info
	}
	for _, e := range entries {
		info.DirListing = append(info.DirListing, e.Name())
	}
	return info
}

// explicitPath is the configured path to inspect when resolution fails.
func explicitPath(r chrome.Resolver) string {
	if pr, ok := r.(*chrome.PathResolver); ok {
		return pr.Explicit
	}
	return ""
}
