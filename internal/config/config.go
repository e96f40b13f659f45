package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration of the renderer service.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Limits      LimitsConfig      `yaml:"limits"`
	PDF         PDFConfig         `yaml:"pdf"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            string   `yaml:"port"`
	Prefork         bool     `yaml:"prefork"`
	Environment     string   `yaml:"environment"`
	BodyLimitBytes  int      `yaml:"body_limit_bytes"`
	PDFPaths        []string `yaml:"pdf_paths"`
	DiagnosticsPath string   `yaml:"diagnostics_path"`
	StatsPath       string   `yaml:"stats_path"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type LimitsConfig struct {
	MaxHTMLBytes int `yaml:"max_html_bytes"`
	MaxPDFBytes  int `yaml:"max_pdf_bytes"`
}

// PDFConfig drives executable resolution and the render session timeouts.
type PDFConfig struct {
	Engine          string        `yaml:"engine"`
	ChromePath      string        `yaml:"chrome_path"`
	CandidatePaths  []string      `yaml:"candidate_paths"`
	ChromeNoSandbox bool          `yaml:"chrome_no_sandbox"`
	UserDataDir     string        `yaml:"user_data_dir"`
	LaunchTimeout   time.Duration `yaml:"launch_timeout"`
	ContentTimeout  time.Duration `yaml:"content_timeout"`
	NetworkIdle     time.Duration `yaml:"network_idle"`
	ExportTimeout   time.Duration `yaml:"export_timeout"`
	CloseTimeout    time.Duration `yaml:"close_timeout"`
	Filename        string        `yaml:"filename"`
}

// LedgerConfig selects where launched/terminated process counters live.
type LedgerConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

type DiagnosticsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	TrialLaunch  bool          `yaml:"trial_launch"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheBackend string        `yaml:"cache_backend"`
	RedisAddr    string        `yaml:"redis_addr"`
	RedisDB      int           `yaml:"redis_db"`
}

const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"

	BackendMemory = "memory"
	BackendRedis  = "redis"

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            ":3000",
			Environment:     EnvProduction,
			BodyLimitBytes:  10 * 1024 * 1024,
			PDFPaths:        []string{"/", "/api/pdf"},
			DiagnosticsPath: "/api/diagnostics",
			StatsPath:       "/api/stats",
		},
		Logger: LoggerConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Limits: LimitsConfig{
			MaxHTMLBytes: 10 * 1024 * 1024,
			MaxPDFBytes:  50 * 1024 * 1024,
		},
		PDF: PDFConfig{
			Engine:          EngineChromedp,
			ChromeNoSandbox: true,
			LaunchTimeout:   20 * time.Second,
			ContentTimeout:  30 * time.Second,
			NetworkIdle:     500 * time.Millisecond,
			ExportTimeout:   60 * time.Second,
			CloseTimeout:    5 * time.Second,
			Filename:        "generated.pdf",
		},
		Ledger: LedgerConfig{
			Backend: BackendMemory,
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:      true,
			TrialLaunch:  true,
			CacheTTL:     30 * time.Second,
			CacheBackend: BackendMemory,
		},
	}
}

var (
	// AppConfig holds the configuration loaded by Load.
	AppConfig Config

	errMissingFile = errors.New("config file not found")
)

// Load reads the file named by CONFIG_PATH (default config.yaml).
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads, defaults and validates the configuration at path. A missing
// file yields the defaults. Invalid values panic.
func LoadFrom(path string) Config {
	cfg, err := read(path)
	if err != nil && !errors.Is(err, errMissingFile) {
		panic(fmt.Sprintf("config: %v", err))
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	AppConfig = cfg
	return cfg
}

func read(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, errMissingFile
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	// Allow common container env var to override chrome_path.
	if cfg.PDF.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.PDF.ChromePath = v
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = ":" + strings.TrimPrefix(v, ":")
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Server.Environment = v
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Port == "" {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = def.Server.Environment
	}
	if cfg.Server.BodyLimitBytes == 0 {
		cfg.Server.BodyLimitBytes = def.Server.BodyLimitBytes
	}
	if len(cfg.Server.PDFPaths) == 0 {
		cfg.Server.PDFPaths = def.Server.PDFPaths
	}
	if cfg.Server.DiagnosticsPath == "" {
		cfg.Server.DiagnosticsPath = def.Server.DiagnosticsPath
	}
	if cfg.Server.StatsPath == "" {
		cfg.Server.StatsPath = def.Server.StatsPath
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = def.Logger.Level
	}
	if cfg.Limits.MaxHTMLBytes == 0 {
		cfg.Limits.MaxHTMLBytes = def.Limits.MaxHTMLBytes
	}
	if cfg.Limits.MaxPDFBytes == 0 {
		cfg.Limits.MaxPDFBytes = def.Limits.MaxPDFBytes
	}
	if cfg.PDF.Engine == "" {
		cfg.PDF.Engine = def.PDF.Engine
	}
	if cfg.PDF.LaunchTimeout == 0 {
		cfg.PDF.LaunchTimeout = def.PDF.LaunchTimeout
	}
	if cfg.PDF.ContentTimeout == 0 {
		cfg.PDF.ContentTimeout = def.PDF.ContentTimeout
	}
	if cfg.PDF.NetworkIdle == 0 {
		cfg.PDF.NetworkIdle = def.PDF.NetworkIdle
	}
	if cfg.PDF.ExportTimeout == 0 {
		cfg.PDF.ExportTimeout = def.PDF.ExportTimeout
	}
	if cfg.PDF.CloseTimeout == 0 {
		cfg.PDF.CloseTimeout = def.PDF.CloseTimeout
	}
	if cfg.PDF.Filename == "" {
		cfg.PDF.Filename = def.PDF.Filename
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = def.Ledger.Backend
	}
	if cfg.Diagnostics.CacheBackend == "" {
		cfg.Diagnostics.CacheBackend = def.Diagnostics.CacheBackend
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.PDF.Engine {
	case EngineChromedp, EngineRod:
	default:
		return fmt.Errorf("pdf.engine must be %q or %q, got %q", EngineChromedp, EngineRod, c.PDF.Engine)
	}
	if c.PDF.LaunchTimeout < 0 || c.PDF.ContentTimeout < 0 || c.PDF.ExportTimeout < 0 || c.PDF.CloseTimeout < 0 {
		return errors.New("pdf timeouts must be positive")
	}
	if c.PDF.NetworkIdle < 0 || c.PDF.NetworkIdle >= c.PDF.ContentTimeout {
		return errors.New("pdf.network_idle must be positive and shorter than pdf.content_timeout")
	}
	if !strings.HasSuffix(c.PDF.Filename, ".pdf") {
		return errors.New("pdf.filename must end with .pdf")
	}
	if c.Limits.MaxHTMLBytes < 0 || c.Limits.MaxPDFBytes < 0 {
		return errors.New("limits must not be negative")
	}
	if c.Server.BodyLimitBytes < 0 {
		return errors.New("server.body_limit_bytes must not be negative")
	}
	for _, p := range c.Server.PDFPaths {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("server.pdf_paths entry %q must start with /", p)
		}
	}
	if err := validateBackend("ledger.backend", c.Ledger.Backend, c.Ledger.RedisAddr); err != nil {
		return err
	}
	if c.Diagnostics.CacheTTL < 0 {
		return errors.New("diagnostics.cache_ttl must not be negative")
	}
	return validateBackend("diagnostics.cache_backend", c.Diagnostics.CacheBackend, c.Diagnostics.RedisAddr)
}

func validateBackend(name, backend, addr string) error {
	switch backend {
	case BackendMemory:
		return nil
	case BackendRedis:
		if addr == "" {
			return fmt.Errorf("%s is redis but no redis_addr is set", name)
		}
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", name, BackendMemory, BackendRedis, backend)
	}
}

// IsDevelopment reports whether error responses may carry internal detail.
func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Environment, EnvDevelopment)
}
