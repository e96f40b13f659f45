package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the stable discriminator reported to clients.
type ErrorKind string

const (
	KindValidation       ErrorKind = "ValidationError"
	KindMethodNotAllowed ErrorKind = "MethodNotAllowed"
	KindResolution       ErrorKind = "ResolutionError"
	KindLaunch           ErrorKind = "LaunchError"
	KindContentTimeout   ErrorKind = "ContentTimeoutError"
	KindExport           ErrorKind = "ExportError"
	KindClose            ErrorKind = "CloseError"
	KindUnknown          ErrorKind = "InternalError"
)

var (
	ErrEmptyHTML             = errors.New("html must be a non-empty string")
	ErrHTMLTooLarge          = errors.New("html exceeds the configured size limit")
	ErrExecutableNotFound    = errors.New("renderer executable not found")
	ErrExecutableNotRunnable = errors.New("renderer executable is not a runnable file")
	ErrInvalidTransition     = errors.New("invalid render session transition")
	ErrSessionClosed         = errors.New("render session already closed")
	ErrNotPDF                = errors.New("exported artifact is not a PDF")
	ErrPDFTooLarge           = errors.New("exported PDF exceeds the configured size limit")
)

// RenderError carries the kind of a failed operation along with its cause.
type RenderError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *RenderError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Message is the cause without the kind prefix.
func (e *RenderError) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// NewError wraps err with kind and op. A nil err yields nil.
func NewError(kind ErrorKind, op string, err error) *RenderError {
	if err == nil {
		return nil
	}
	return &RenderError{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost RenderError in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var re *RenderError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// HTTPStatus maps an error kind to the response status.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// Chain lists the messages of every error wrapped in err, outermost first.
func Chain(err error) []string {
	var out []string
	for err != nil {
		out = append(out, err.Error())
		err = errors.Unwrap(err)
	}
	return out
}
