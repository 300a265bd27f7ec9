package log

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestWithComponentReplacesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Output: &buf})

	logger.WithComponent(ComponentAPI).Info("hello")

	out := buf.String()
	if !strings.Contains(out, "component=api") {
		t.Errorf("output %q missing component=api", out)
	}
	if strings.Contains(out, "component=app") {
		t.Errorf("output %q still carries the parent component", out)
	}
	if n := strings.Count(out, "component="); n != 1 {
		t.Errorf("output %q has %d component attributes, want 1", out, n)
	}

	buf.Reset()
	logger.With("k", "v").WithComponent(ComponentAPI).WithComponent(ComponentStore).Info("again")
	out = buf.String()
	if n := strings.Count(out, "component="); n != 1 || !strings.Contains(out, "component=store") {
		t.Errorf("chained output %q, want exactly component=store", out)
	}
}

func TestWithContextFieldsAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Output: &buf})

	ctx := WithRequestID(context.Background(), "req-1")
	logger.WithContextFields(ctx).Info("hello")
	if !strings.Contains(buf.String(), "request_id=req-1") {
		t.Errorf("output %q missing request id", buf.String())
	}

	buf.Reset()
	logger.WithContextFields(context.Background()).Info("hello")
	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("output %q has a request id without one in ctx", buf.String())
	}
}

func TestMiddlewareStoresLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelInfo, Output: &buf})

	h := Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("inside")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-2"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), "request_id=req-2") {
		t.Errorf("output %q missing request id", buf.String())
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if got := FromContext(context.Background()); got == nil || got.Component() != "unknown" {
		t.Errorf("FromContext without logger = %+v", got)
	}
}
