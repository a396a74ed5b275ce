package accessgate

import (
	"context"
	"net/netip"
)

type contextKey uint8

const (
	ctxKeyClientIP contextKey = iota
)

// WithClientIP attaches the caller's network address to the context. The
// engine uses it for login throttling and for network-origin policy
// predicates. When absent, origin-scoped predicates fail closed.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}

func originFromContext(ctx context.Context) netip.Addr {
	raw := clientIPFromContext(ctx)
	if raw == "" {
		return netip.Addr{}
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}
