package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"pdfrender/internal/diagnostics"
	"pdfrender/internal/infra/ledger"
	"pdfrender/internal/infra/logging"
)

// HandleStats exposes the process ledger. active stays 0 while the service
// is idle unless a browser leaked.
func HandleStats(l ledger.Ledger, engine string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		counts, err := l.Snapshot(c.UserContext())
		if err != nil {
			logging.Warn("Ledger snapshot failed", "error", err)
			return fiber.NewError(fiber.StatusServiceUnavailable, "ledger unavailable: "+err.Error())
		}
		return c.JSON(fiber.Map{
			"engine":     engine,
			"launched":   counts.Launched,
			"terminated": counts.Terminated,
			"active":     counts.Active(),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// Reporter builds diagnostics reports.
type Reporter interface {
	Report(ctx context.Context) diagnostics.Report
}

// HandleDiagnostics serves the diagnostics report. It always answers 200;
// problems are described in the body.
func HandleDiagnostics(r Reporter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(r.Report(c.UserContext()))
	}
}
