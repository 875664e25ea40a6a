package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// logLines decodes each JSON line the logger emitted.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestRequestIDGeneratesWhenAbsent(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	var seen string
	e.GET("/", func(c echo.Context) error {
		seen, _ = c.Get("request_id").(string)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("request id not set in context")
	}
	if _, err := uuid.Parse(seen); err != nil {
		t.Errorf("generated id is not a uuid: %q", seen)
	}
	if got := rec.Header().Get(RequestIDHeader); got != seen {
		t.Errorf("response header %q does not match context id %q", got, seen)
	}
}

func TestRequestIDPreservesIncoming(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-abc-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != "upstream-abc-123" {
		t.Errorf("incoming request id not preserved, got %q", got)
	}
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	e := echo.New()
	e.Use(Recovery(zerolog.Nop()))
	e.GET("/boom", func(c echo.Context) error { panic("nil dereference") })
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("panic: status = %d, want 500", rec.Code)
	}

	// The server keeps serving after a recovered panic.
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("follow-up: status = %d, want 200", rec.Code)
	}
}

func TestLoggerPassesThrough(t *testing.T) {
	e := echo.New()
	e.Use(RequestID(), Logger(zerolog.Nop()))
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusTeapot, "short and stout") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
	if rec.Body.String() != "short and stout" {
		t.Errorf("body altered: %q", rec.Body.String())
	}
}

func TestLoggerSeverityFollowsStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestID(), Logger(zerolog.New(&buf)))
	e.GET("/ok", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/missing", func(c echo.Context) error { return c.NoContent(http.StatusNotFound) })
	e.GET("/broken", func(c echo.Context) error { return c.NoContent(http.StatusBadGateway) })

	for _, path := range []string{"/ok", "/missing", "/broken"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	lines := logLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d", len(lines))
	}
	wantLevels := map[string]string{"/ok": "info", "/missing": "warn", "/broken": "error"}
	for _, line := range lines {
		path, _ := line["path"].(string)
		if got := line["level"]; got != wantLevels[path] {
			t.Errorf("%s logged at %v, want %s", path, got, wantLevels[path])
		}
		if _, ok := line["request_id"].(string); !ok {
			t.Errorf("%s line missing request_id", path)
		}
	}
}

func TestLoggerSkipsHealthProbes(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestID(), Logger(zerolog.New(&buf)))
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/db", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/api/v1/queues/stats", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, path := range []string{"/health", "/health/db", "/api/v1/queues/stats"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	if lines[0]["path"] != "/api/v1/queues/stats" {
		t.Errorf("unexpected logged path: %v", lines[0]["path"])
	}
}

func TestLoggerRecordsOperator(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestID(), Logger(zerolog.New(&buf)))
	e.POST("/recheck", func(c echo.Context) error { return c.NoContent(http.StatusAccepted) })

	req := httptest.NewRequest(http.MethodPost, "/recheck", nil)
	req.Header.Set("X-Operator", "dr.smith")
	e.ServeHTTP(httptest.NewRecorder(), req)
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/recheck", nil))

	lines := logLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}
	if lines[0]["operator"] != "dr.smith" {
		t.Errorf("operator not recorded: %v", lines[0]["operator"])
	}
	if _, present := lines[1]["operator"]; present {
		t.Error("operator field must be absent when no header was sent")
	}
}

func TestRecoveryLogsPanicWithRequestContext(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	e.Use(RequestID(), Recovery(zerolog.New(&buf)))
	e.GET("/boom", func(c echo.Context) error { panic("nil dereference") })

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d", len(lines))
	}
	line := lines[0]
	if line["panic"] != "nil dereference" {
		t.Errorf("panic value not logged: %v", line["panic"])
	}
	if line["path"] != "/boom" || line["method"] != http.MethodGet {
		t.Errorf("request context not logged: %+v", line)
	}
	if stack, _ := line["stack"].(string); !strings.Contains(stack, "goroutine") {
		t.Error("stack trace not logged")
	}
}
