package server

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"pdfrender/internal/config"
	"pdfrender/internal/http/handlers"
	"pdfrender/internal/http/middleware"
	"pdfrender/internal/infra/ledger"
	"pdfrender/internal/infra/logging"
)

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Config     config.Config
	Renderer   handlers.Renderer
	Ledger     ledger.Ledger
	Reporter   handlers.Reporter // nil disables the diagnostics route
	EngineName string
	Ready      func() bool
}

// New creates the Fiber app with middleware and routes mounted.
func New(d Deps) *fiber.App {
	cfg := d.Config
	if d.Ledger == nil {
		d.Ledger = ledger.Nop{}
	}

	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             cfg.Server.BodyLimitBytes,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app, d.Ready)
	registerRoutes(app, d)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func registerRoutes(app *fiber.App, d Deps) {
	cfg := d.Config

	svc := handlers.NewPDFService(d.Renderer, cfg)
	for _, p := range cfg.Server.PDFPaths {
		app.All(p, svc.HandleConversion)
	}

	app.Get(cfg.Server.StatsPath, handlers.HandleStats(d.Ledger, d.EngineName))
	if d.Reporter != nil && cfg.Diagnostics.Enabled {
		app.Get(cfg.Server.DiagnosticsPath, handlers.HandleDiagnostics(d.Reporter))
	}

	app.Get("/ops/monitor", monitor.New(monitor.Config{Title: "pdfrender"}))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		msg = e.Message
	}

	logging.Warn("Request failed",
		"request_id", middleware.RequestID(c),
		"path", c.Path(),
		"status", code,
		"message", msg,
	)

	middleware.SetCORSHeaders(c)
	return c.Status(code).JSON(fiber.Map{
		"error":   http.StatusText(code),
		"message": msg,
	})
}
