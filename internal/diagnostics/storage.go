package diagnostics

import (
	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"

	"pdfrender/internal/config"
	"pdfrender/internal/infra/logging"
)

// NewStorage returns the report cache for cfg. A Redis backend that cannot
// be reached at startup falls back to memory.
func NewStorage(cfg config.DiagnosticsConfig) (store fiber.Storage) {
	store = memoryStorage.New() // safe default
	if cfg.CacheBackend != config.BackendRedis {
		return store
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Redis diagnostics cache init panicked, falling back to memory", "panic", r)
		}
	}()
	rs := redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.RedisAddr},
		Database: cfg.RedisDB,
	})
	_ = store.Close()
	store = rs
	logging.Info("Using Redis for diagnostics cache", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	return store
}
