package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderError_IsAndAs(t *testing.T) {
	err := NewError(KindLaunch, "launch", fmt.Errorf("exec: %w", ErrExecutableNotRunnable))
	wrapped := fmt.Errorf("render: %w", err)

	assert.True(t, errors.Is(wrapped, ErrExecutableNotRunnable))
	assert.Equal(t, KindLaunch, KindOf(wrapped))
	assert.Equal(t, "exec: renderer executable is not a runnable file", err.Message())
	assert.Equal(t, "LaunchError: launch: exec: renderer executable is not a runnable file", err.Error())
}

func TestNewError_NilCause(t *testing.T) {
	assert.Nil(t, NewError(KindExport, "export", nil))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(context.Canceled))
	assert.Equal(t, KindContentTimeout, KindOf(NewError(KindContentTimeout, "load", context.DeadlineExceeded)))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindMethodNotAllowed, http.StatusMethodNotAllowed},
		{KindResolution, http.StatusInternalServerError},
		{KindLaunch, http.StatusInternalServerError},
		{KindContentTimeout, http.StatusInternalServerError},
		{KindExport, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.kind))
		})
	}
}

func TestChain(t *testing.T) {
	err := NewError(KindExport, "export", fmt.Errorf("print: %w", ErrNotPDF))
	assert.Equal(t, []string{
		"ExportError: export: print: exported artifact is not a PDF",
		"print: exported artifact is not a PDF",
		"exported artifact is not a PDF",
	}, Chain(err))
}

func TestRenderRequestValidate(t *testing.T) {
	for _, html := range []string{"", "   ", "\n\t "} {
		err := RenderRequest{HTML: html}.Validate()
		assert.ErrorIs(t, err, ErrEmptyHTML)
		assert.Equal(t, KindValidation, KindOf(err))
	}
	assert.NoError(t, RenderRequest{HTML: "<h1>Hello</h1>"}.Validate())
}

func TestRenderResult(t *testing.T) {
	ok := Succeeded([]byte("%PDF-1.7"), 1)
	assert.True(t, ok.OK())
	assert.Equal(t, 8, ok.SizeBytes)
	assert.Empty(t, ok.Kind())

	bad := Failed(NewError(KindLaunch, "launch", errors.New("boom")))
	assert.False(t, bad.OK())
	assert.Equal(t, KindLaunch, bad.Kind())
	assert.Equal(t, "boom", bad.Message())
}

func TestSessionStateStrings(t *testing.T) {
	assert.Equal(t, "ContentReady", StateContentReady.String())
	assert.Equal(t, "Unknown", SessionState(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateLaunched.Terminal())
}
