package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"

	"pdfrender/internal/config"
	"pdfrender/internal/diagnostics"
	"pdfrender/internal/http/server"
	"pdfrender/internal/infra/chrome"
	"pdfrender/internal/infra/ledger"
	"pdfrender/internal/infra/logging"
	"pdfrender/internal/render"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		logging.Error("Startup failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := pflag.NewFlagSet("html2pdf", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to the YAML config file (overrides CONFIG_PATH)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var cfg config.Config
	if *configPath != "" {
		cfg = config.LoadFrom(*configPath)
	} else {
		cfg = config.Load()
	}

	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	// Error ignored: maxprocs.Set only fails if GOMAXPROCS env is invalid,
	// in which case the runtime default stays.
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logging.Debug(fmt.Sprintf(format, args...))
	}))

	engine, err := chrome.NewEngine(cfg.PDF.Engine)
	if err != nil {
		return err
	}
	resolver := chrome.NewPathResolver(cfg.PDF.ChromePath, cfg.PDF.CandidatePaths)
	if path, err := resolver.Resolve(); err != nil {
		logging.Warn("Browser executable not found at startup", "error", err)
	} else {
		logging.Info("Browser executable resolved", "path", path, "engine", engine.Name())
	}

	led, closeLedger := newLedger(cfg.Ledger)
	defer closeLedger()

	store := diagnostics.NewStorage(cfg.Diagnostics)
	defer store.Close()

	opts := render.OptionsFromConfig(cfg)
	reporter := diagnostics.NewReporter(resolver, engine, led, store, diagnostics.Options{
		Environment: cfg.Server.Environment,
		TrialLaunch: cfg.Diagnostics.TrialLaunch,
		CacheTTL:    cfg.Diagnostics.CacheTTL,
		Session:     opts.Session,
	})

	app := server.New(server.Deps{
		Config:     cfg,
		Renderer:   render.New(resolver, engine, led, opts),
		Ledger:     led,
		Reporter:   reporter,
		EngineName: engine.Name(),
		Ready: func() bool {
			_, err := resolver.Resolve()
			return err == nil
		},
	})

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
	return nil
}

// newLedger builds the process ledger. The Redis client is only pinged to
// report reachability; counting still degrades to logged warnings.
func newLedger(cfg config.LedgerConfig) (ledger.Ledger, func()) {
	if cfg.Backend != config.BackendRedis {
		return ledger.NewMemory(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logging.Warn("Redis ledger unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	} else {
		logging.Info("Using Redis for process ledger", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	}
	return ledger.NewRedis(rdb), func() { _ = rdb.Close() }
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		logging.Info("Server listening", "addr", cfg.Server.Host+cfg.Server.Port, "env", cfg.Server.Environment)
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	// Waits for in-flight requests up to shutdownTimeout.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
