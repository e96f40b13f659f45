package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"pdfrender/internal/config"
	"pdfrender/internal/domain"
	"pdfrender/internal/http/middleware"
	"pdfrender/internal/infra/logging"
)

const (
	HeaderRenderSession = "X-Render-Session"
	HeaderPDFPages      = "X-PDF-Pages"

	msgInvalidHTML  = `The "html" field is required and must be a non-empty string`
	msgRenderFailed = "Failed to generate the PDF"
)

// AllowedMethods is reported on 405 responses.
var AllowedMethods = []string{fiber.MethodPost, fiber.MethodOptions}

// Renderer turns one request into one result.
type Renderer interface {
	Render(ctx context.Context, req domain.RenderRequest) domain.RenderResult
}

// PDFService is the request gate in front of the render pipeline.
type PDFService struct {
	renderer    Renderer
	filename    string
	development bool
	now         func() time.Time
}

func NewPDFService(r Renderer, cfg config.Config) *PDFService {
	filename := cfg.PDF.Filename
	if filename == "" {
		filename = "generated.pdf"
	}
	return &PDFService{
		renderer:    r,
		filename:    filename,
		development: cfg.IsDevelopment(),
		now:         time.Now,
	}
}

// HandleConversion serves every method on a conversion path: OPTIONS is a
// bare preflight, POST converts, anything else is refused.
func (svc *PDFService) HandleConversion(c *fiber.Ctx) error {
	switch c.Method() {
	case fiber.MethodOptions:
		// SendStatus would fill the empty body with "OK".
		c.Status(fiber.StatusOK)
		return nil
	case fiber.MethodPost:
		return svc.convert(c)
	default:
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
			"error":          "Method Not Allowed",
			"kind":           domain.KindMethodNotAllowed,
			"message":        "This endpoint only accepts POST requests",
			"allowedMethods": AllowedMethods,
		})
	}
}

func (svc *PDFService) convert(c *fiber.Ctx) error {
	field := parseHTMLField(c)
	if field.Type != "string" {
		logging.Warn("Invalid html field", "request_id", middleware.RequestID(c), "received_type", field.Type)
		return svc.badRequest(c, fiber.StatusBadRequest, msgInvalidHTML, field)
	}

	res := svc.renderer.Render(c.UserContext(), domain.RenderRequest{HTML: field.Value})
	if !res.OK() {
		return svc.renderFailed(c, res, field)
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, svc.filename))
	c.Set(HeaderRenderSession, res.SessionID)
	c.Set(HeaderPDFPages, strconv.Itoa(res.PageCount))
	return c.Status(fiber.StatusOK).Send(res.PDF)
}

func (svc *PDFService) renderFailed(c *fiber.Ctx, res domain.RenderResult, field htmlField) error {
	if res.Kind() == domain.KindValidation {
		if errors.Is(res.Err, domain.ErrHTMLTooLarge) {
			return svc.badRequest(c, fiber.StatusRequestEntityTooLarge, res.Message(), field)
		}
		return svc.badRequest(c, fiber.StatusBadRequest, msgInvalidHTML, field)
	}

	logging.Error("PDF conversion failed",
		"request_id", middleware.RequestID(c),
		"session_id", res.SessionID,
		"kind", string(res.Kind()),
		"error", res.Err,
	)

	if res.SessionID != "" {
		c.Set(HeaderRenderSession, res.SessionID)
	}
	body := fiber.Map{
		"error":     "Internal Server Error",
		"kind":      res.Kind(),
		"message":   msgRenderFailed,
		"details":   res.Message(),
		"timestamp": svc.now().UTC().Format(time.RFC3339Nano),
	}
	if svc.development {
		body["stack"] = domain.Chain(res.Err)
	}
	return c.Status(domain.HTTPStatus(res.Kind())).JSON(body)
}

func (svc *PDFService) badRequest(c *fiber.Ctx, status int, msg string, field htmlField) error {
	errLabel := "Bad Request"
	if status == fiber.StatusRequestEntityTooLarge {
		errLabel = "Payload Too Large"
	}
	return c.Status(status).JSON(fiber.Map{
		"error":          errLabel,
		"kind":           domain.KindValidation,
		"message":        msg,
		"receivedType":   field.Type,
		"receivedLength": field.Length,
	})
}

// htmlField describes the "html" member of the request body using
// JavaScript typeof names, so clients see the same vocabulary whatever
// they sent.
type htmlField struct {
	Type   string
	Value  string
	Length int
}

func parseHTMLField(c *fiber.Ctx) htmlField {
	var body map[string]any
	if err := c.App().Config().JSONDecoder(c.Body(), &body); err != nil || body == nil {
		return htmlField{Type: "undefined"}
	}
	raw, ok := body["html"]
	if !ok {
		return htmlField{Type: "undefined"}
	}
	switch v := raw.(type) {
	case string:
		return htmlField{Type: "string", Value: v, Length: utf8.RuneCountInString(v)}
	case float64:
		return htmlField{Type: "number"}
	case bool:
		return htmlField{Type: "boolean"}
	case []any:
		return htmlField{Type: "object", Length: len(v)}
	default:
		// null and objects
		return htmlField{Type: "object"}
	}
}
