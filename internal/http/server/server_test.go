package server

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdfrender/internal/config"
	"pdfrender/internal/diagnostics"
	"pdfrender/internal/infra/chrome"
	"pdfrender/internal/infra/chrome/chrometest"
	"pdfrender/internal/infra/ledger"
	"pdfrender/internal/render"
)

type staticResolver string

func (r staticResolver) Resolve() (string, error) { return string(r), nil }

func testDeps(eng chrome.Engine) Deps {
	cfg := config.Default()
	led := ledger.NewMemory()
	opts := render.OptionsFromConfig(cfg)
	opts.Session.NetworkIdle = time.Millisecond
	resolver := staticResolver("/usr/bin/chromium")
	return Deps{
		Config:     cfg,
		Renderer:   render.New(resolver, eng, led, opts),
		Ledger:     led,
		Reporter:   diagnostics.NewReporter(resolver, eng, led, nil, diagnostics.Options{Session: opts.Session}),
		EngineName: eng.Name(),
	}
}

func TestNew_RoutesAndJSON404(t *testing.T) {
	app := New(testDeps(&chrometest.Engine{}))

	for _, path := range []string{"/api/stats", "/api/diagnostics", "/ops/health", "/ops/ready", "/ops/monitor"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req)
		require.NoError(t, err, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	req404, _ := http.NewRequest(http.MethodGet, "/does-not-exist", nil)
	resp404, err := app.Test(req404)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp404.StatusCode)
	assert.Contains(t, resp404.Header.Get("Content-Type"), "application/json")

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp404.Body).Decode(&body))
	assert.Equal(t, "Not Found", body["error"])
	assert.Equal(t, "*", resp404.Header.Get("Access-Control-Allow-Origin"))
}

func TestNew_EndToEndHello(t *testing.T) {
	eng := &chrometest.Engine{}
	deps := testDeps(eng)
	app := New(deps)

	req, _ := http.NewRequest(http.MethodPost, "/", strings.NewReader(`{"html":"<h1>Hello</h1>"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pdf, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF-"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	statsReq, _ := http.NewRequest(http.MethodGet, "/api/stats", nil)
	statsResp, err := app.Test(statsReq)
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, float64(1), stats["launched"])
	assert.Equal(t, float64(0), stats["active"])
}

func TestNew_DiagnosticsDisabled(t *testing.T) {
	deps := testDeps(&chrometest.Engine{})
	deps.Config.Diagnostics.Enabled = false
	app := New(deps)

	req, _ := http.NewRequest(http.MethodGet, "/api/diagnostics", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// The body limit is enforced by the server before any handler runs, which
// app.Test cannot exercise, so this one goes through a real listener.
func TestNew_BodyLimitKeepsCORS(t *testing.T) {
	eng := &chrometest.Engine{}
	deps := testDeps(eng)
	deps.Config.Server.BodyLimitBytes = 64
	app := New(deps)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	defer func() { _ = app.Shutdown() }()

	resp, err := http.Post("http://"+ln.Addr().String()+"/", "application/json",
		strings.NewReader(`{"html":"`+strings.Repeat("x", 200)+`"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Request Entity Too Large", body["error"])
	assert.Zero(t, eng.Launches())
}

func TestNew_PreflightHasEmptyBody(t *testing.T) {
	app := New(testDeps(&chrometest.Engine{}))

	for _, path := range []string{"/", "/api/pdf"} {
		req, _ := http.NewRequest(http.MethodOptions, path, nil)
		resp, err := app.Test(req)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Empty(t, body, path)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"), path)
	}
}

func TestNew_NilLedgerServesZeroStats(t *testing.T) {
	deps := testDeps(&chrometest.Engine{})
	deps.Ledger = nil
	app := New(deps)

	req, _ := http.NewRequest(http.MethodGet, "/api/stats", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
