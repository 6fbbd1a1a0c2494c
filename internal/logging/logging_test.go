package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInitLevels(t *testing.T) {
	if err := Init(Config{Level: "debug", Format: "console", OutputPath: "stderr"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !L().Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled")
	}

	SetLevel("warn")
	if L().Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled after SetLevel(warn)")
	}

	SetLevel("nonsense")
	if !L().Core().Enabled(zapcore.WarnLevel) {
		t.Error("invalid level should leave the current level alone")
	}

	if err := Init(Config{Level: "bogus", Format: "json", OutputPath: "stderr"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !L().Core().Enabled(zapcore.InfoLevel) || L().Core().Enabled(zapcore.DebugLevel) {
		t.Error("unknown level should fall back to info")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("expected empty request id, got %q", got)
	}
	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("RequestID = %q, want req-123", got)
	}
	if WithContext(ctx) == L() {
		t.Error("context logger should carry the request id field")
	}

	ctx = WithUserID(ctx, "user-42")
	if got := UserID(ctx); got != "user-42" {
		t.Errorf("UserID = %q, want user-42", got)
	}
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("request id lost after WithUserID: %q", got)
	}
	if got := UserID(context.Background()); got != "" {
		t.Errorf("expected empty user id, got %q", got)
	}
}

func TestMiddlewareRequestID(t *testing.T) {
	InitDefault()

	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "abc" || rec.Header().Get("X-Request-ID") != "abc" {
		t.Errorf("incoming request id not propagated: ctx=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get("X-Request-ID") == "" || seen == "" {
		t.Error("expected a generated request id")
	}
}
