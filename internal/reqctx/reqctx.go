// Package reqctx carries request-scoped identifiers that are not part of the
// authenticated identity.
package reqctx

import "context"

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxLocale
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

// RequestID returns the request id, or "" outside a request.
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(ctxRequestID).(string)
	return s
}

func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, ctxLocale, locale)
}

// Locale returns the negotiated locale, or "".
func Locale(ctx context.Context) string {
	s, _ := ctx.Value(ctxLocale).(string)
	return s
}
