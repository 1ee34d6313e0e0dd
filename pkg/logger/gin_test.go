package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"inventory-platform/internal/reqctx"
)

func TestMiddlewarePropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := slog.New(slog.NewJSONHandler(io.Discard, nil))

	var seen string
	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		seen = reqctx.RequestID(c.Request.Context())
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "abc")
	r.ServeHTTP(w, req)

	if seen != "abc" {
		t.Fatalf("expected request id abc in context, got %q", seen)
	}
	if got := w.Header().Get(headerRequestID); got != "abc" {
		t.Fatalf("expected echoed header abc, got %q", got)
	}
}

func TestMiddlewareGeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := slog.New(slog.NewJSONHandler(io.Discard, nil))

	var seen string
	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		seen = reqctx.RequestID(c.Request.Context())
		c.Status(200)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if seen == "" || seen != w.Header().Get(headerRequestID) {
		t.Fatalf("expected generated id in context and header, got %q / %q", seen, w.Header().Get(headerRequestID))
	}
}

func TestLocale(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"de-DE,de;q=0.9,en;q=0.8", "de"},
		{"fr;q=0.7", "fr"},
		{"*", "en"},
	}
	for _, tc := range cases {
		var seen string
		r := gin.New()
		r.Use(Locale("en"))
		r.GET("/x", func(c *gin.Context) {
			seen = reqctx.Locale(c.Request.Context())
			c.Status(200)
		})
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if tc.header != "" {
			req.Header.Set("Accept-Language", tc.header)
		}
		r.ServeHTTP(httptest.NewRecorder(), req)
		if seen != tc.want {
			t.Fatalf("Accept-Language %q: expected %q, got %q", tc.header, tc.want, seen)
		}
	}
}

func TestMiddlewareLogsSummaryAtStatusLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/sites/:id", func(c *gin.Context) {
		c.Set("user_id", "7")
		c.Status(http.StatusNotFound)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sites/42", nil))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["level"] != "WARN" || rec["route"] != "/sites/:id" || rec["status"] != float64(404) || rec["user_id"] != "7" {
		t.Fatalf("unexpected summary: %v", rec)
	}
}

func TestStatusLevel(t *testing.T) {
	cases := []struct {
		status int
		failed bool
		want   slog.Level
	}{
		{200, false, slog.LevelInfo},
		{201, true, slog.LevelError},
		{403, false, slog.LevelWarn},
		{503, false, slog.LevelError},
	}
	for _, tc := range cases {
		if got := statusLevel(tc.status, tc.failed); got != tc.want {
			t.Fatalf("statusLevel(%d, %v) = %v, want %v", tc.status, tc.failed, got, tc.want)
		}
	}
}
