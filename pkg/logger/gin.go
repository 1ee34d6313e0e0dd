package logger

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"inventory-platform/internal/reqctx"
)

const (
	headerRequestID = "X-Request-Id"
	ginLoggerKey    = "logger"
)

// Middleware tags each request with an id (taken from X-Request-Id or
// generated) and logs one summary line when it completes. The id and a
// logger carrying it are put on the request context for code below the
// transport.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header(headerRequestID, rid)

		reqLog := l.With("request_id", rid)
		c.Set(ginLoggerKey, reqLog)
		ctx := reqctx.WithRequestID(c.Request.Context(), rid)
		c.Request = c.Request.WithContext(With(ctx, reqLog))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Int("bytes", max(c.Writer.Size(), 0)),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			slog.String("client_ip", c.ClientIP()),
		}
		if uid := c.GetString("user_id"); uid != "" {
			attrs = append(attrs, slog.String("user_id", uid))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		reqLog.LogAttrs(c.Request.Context(), statusLevel(status, len(c.Errors) > 0), "request", attrs...)
	}
}

func statusLevel(status int, failed bool) slog.Level {
	switch {
	case status >= 500 || failed:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Locale stores the primary language subtag of the first Accept-Language
// entry on the request context, or fallback when the header is absent.
func Locale(fallback string) gin.HandlerFunc {
	return func(c *gin.Context) {
		loc := fallback
		if h := c.GetHeader("Accept-Language"); h != "" {
			tag := strings.TrimSpace(strings.SplitN(strings.SplitN(h, ",", 2)[0], ";", 2)[0])
			tag = strings.SplitN(tag, "-", 2)[0]
			if tag != "" && tag != "*" {
				loc = strings.ToLower(tag)
			}
		}
		if loc != "" {
			c.Request = c.Request.WithContext(reqctx.WithLocale(c.Request.Context(), loc))
		}
		c.Next()
	}
}

// FromGin returns the request logger set by Middleware, or slog.Default.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginLoggerKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}
