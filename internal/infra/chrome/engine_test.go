package chrome

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrender/internal/config"
)

func TestCreateProfileDir_DefaultAndCustomBase(t *testing.T) {
	dir1, err := createProfileDir("")
	require.NoError(t, err)
	defer os.RemoveAll(dir1)
	_, err = os.Stat(dir1)
	require.NoError(t, err)

	base := filepath.Join(t.TempDir(), "nested", "profiles")
	dir2, err := createProfileDir(base)
	require.NoError(t, err)
	assert.Equal(t, base, filepath.Dir(dir2))

	dir3, err := createProfileDir(base)
	require.NoError(t, err)
	assert.NotEqual(t, dir2, dir3, "each process gets its own profile")
}

func TestCreateProfileDir_InvalidBase(t *testing.T) {
	_, err := createProfileDir("/dev/null/x")
	assert.Error(t, err)
}

func TestFlags(t *testing.T) {
	names := func(fs []Flag) map[string]string {
		m := make(map[string]string, len(fs))
		for _, f := range fs {
			m[f.Name] = f.Value
		}
		return m
	}

	sandboxed := names(Flags(false))
	assert.Contains(t, sandboxed, "disable-gpu")
	assert.Contains(t, sandboxed, "disable-dev-shm-usage")
	assert.NotContains(t, sandboxed, "no-sandbox")

	open := names(Flags(true))
	assert.Contains(t, open, "no-sandbox")
	assert.Equal(t, "swiftshader", open["use-gl"])
}

func TestA4Layout(t *testing.T) {
	assert.InDelta(t, 8.27, A4.PaperWidth, 1e-9)
	assert.InDelta(t, 11.69, A4.PaperHeight, 1e-9)
	assert.InDelta(t, 10.0, A4.Margin*mmPerInch, 1e-9)
	assert.True(t, A4.PrintBackground)
	assert.True(t, A4.PreferCSSPageSize)
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine(config.EngineChromedp)
	require.NoError(t, err)
	assert.Equal(t, "chromedp", e.Name())

	e, err = NewEngine(config.EngineRod)
	require.NoError(t, err)
	assert.Equal(t, "rod", e.Name())

	_, err = NewEngine("netscape")
	assert.Error(t, err)
}

func TestIsSessionInterrupted(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "context canceled", err: context.Canceled, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "target closed", err: errors.New("target closed"), want: true},
		{name: "websocket", err: errors.New("websocket: close 1006"), want: true},
		{name: "normal error", err: errors.New("validation failed"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsSessionInterrupted(tc.err))
		})
	}
}

func TestWithBound(t *testing.T) {
	ctx, cancel := withBound(context.Background(), 0)
	defer cancel()
	_, ok := ctx.Deadline()
	assert.False(t, ok)

	ctx2, cancel2 := withBound(context.Background(), time.Minute)
	defer cancel2()
	_, ok = ctx2.Deadline()
	assert.True(t, ok)
}
