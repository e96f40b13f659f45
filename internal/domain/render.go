// Package domain contains the core business concepts for the renderer service.
// It stays free of transport (HTTP) and infrastructure (Chrome/Redis) concerns.
package domain

import (
	"strings"
	"time"
)

// RenderRequest is one conversion request.
type RenderRequest struct {
	HTML string
}

// Validate checks that the HTML carries more than whitespace.
func (r RenderRequest) Validate() error {
	if strings.TrimSpace(r.HTML) == "" {
		return NewError(KindValidation, "validate", ErrEmptyHTML)
	}
	return nil
}

// RenderResult is the outcome of one pipeline run. Exactly one of PDF and Err
// is meaningful.
type RenderResult struct {
	PDF       []byte
	SizeBytes int
	PageCount int
	SessionID string
	Duration  time.Duration
	Err       *RenderError
}

func (r RenderResult) OK() bool { return r.Err == nil }

// Kind is empty for successful results.
func (r RenderResult) Kind() ErrorKind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}

// Message is empty for successful results.
func (r RenderResult) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Message()
}

// Succeeded builds a success result.
func Succeeded(pdf []byte, pages int) RenderResult {
	return RenderResult{PDF: pdf, SizeBytes: len(pdf), PageCount: pages}
}

// Failed builds a failure result.
func Failed(err *RenderError) RenderResult {
	return RenderResult{Err: err}
}
