package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"pdfrender/internal/infra/logging"
)

// RequestIDKey is the fiber Locals key holding the request id.
const RequestIDKey = "request_id"

const (
	allowOrigin  = "*"
	allowMethods = "POST, OPTIONS"
	allowHeaders = "Content-Type"
)

// Register attaches the global middleware chain to app. ready backs the
// readiness probe; nil means always ready.
func Register(app *fiber.App, ready func() bool) {
	app.Use(CORS())

	app.Use(requestid.New(requestid.Config{
		Header:     fiber.HeaderXRequestID,
		ContextKey: RequestIDKey,
		Generator: func() string {
			return xid.New().String()
		},
	}))

	hc := healthcheck.Config{
		LivenessEndpoint:  "/ops/health",
		ReadinessEndpoint: "/ops/ready",
	}
	if ready != nil {
		hc.ReadinessProbe = func(*fiber.Ctx) bool { return ready() }
	}
	app.Use(healthcheck.New(hc))

	app.Use(RequestLogger())
}

// CORS sets the same permissive headers on every response, with or without
// an Origin header. Preflight handling is left to the routes.
func CORS() fiber.Handler {
	return func(c *fiber.Ctx) error {
		SetCORSHeaders(c)
		return c.Next()
	}
}

// SetCORSHeaders writes the CORS headers. The app error handler calls it too,
// since requests rejected by the server itself never reach the middleware.
func SetCORSHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderAccessControlAllowOrigin, allowOrigin)
	c.Set(fiber.HeaderAccessControlAllowMethods, allowMethods)
	c.Set(fiber.HeaderAccessControlAllowHeaders, allowHeaders)
}

// RequestID returns the id assigned by the requestid middleware.
func RequestID(c *fiber.Ctx) string {
	id, _ := c.Locals(RequestIDKey).(string)
	return id
}

// RequestLogger logs one line per request once the handler chain returns.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		kv := []any{
			"request_id", RequestID(c),
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"took_ms", time.Since(start).Milliseconds(),
		}
		if strings.HasPrefix(c.Path(), "/ops/") {
			logging.Debug("Request handled", kv...)
		} else {
			logging.Info("Request handled", kv...)
		}
		return err
	}
}
