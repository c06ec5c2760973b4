package core

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	ctxKeyClientAddr contextKey = "client_addr"
	ctxKeyUserAgent  contextKey = "user_agent"
)

// ContextWithClient records where a batch came from. Ingest adds the values
// to its log entries.
func ContextWithClient(ctx context.Context, addr, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyClientAddr, addr)
	return context.WithValue(ctx, ctxKeyUserAgent, userAgent)
}

// ClientFromContext returns the values stored by ContextWithClient.
func ClientFromContext(ctx context.Context) (addr, userAgent string) {
	addr, _ = ctx.Value(ctxKeyClientAddr).(string)
	userAgent, _ = ctx.Value(ctxKeyUserAgent).(string)
	return addr, userAgent
}

// clientAttrs returns log attributes for a recorded client, if any.
func clientAttrs(ctx context.Context) []any {
	addr, ua := ClientFromContext(ctx)
	var attrs []any
	if addr != "" {
		attrs = append(attrs, slog.String("client", addr))
	}
	if ua != "" {
		attrs = append(attrs, slog.String("user_agent", ua))
	}
	return attrs
}
