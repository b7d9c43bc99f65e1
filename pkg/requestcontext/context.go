// Package requestcontext carries request-scoped values (correlation id, clock,
// caller identity) through context.Context so services never touch net/http.
//
// The HTTP middleware populates it; the CLI and tests set values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"
)

type key uint8

const (
	keyRequestID key = iota
	keyRequestTime
	keyActor
	keySource
	keyClientIP
	keyUserAgent
)

// AnonymousActor is reported when no caller identity was recorded.
const AnonymousActor = "anonymous"

func value[T any](ctx context.Context, k key) (T, bool) {
	v, ok := ctx.Value(k).(T)
	return v, ok
}

func str(ctx context.Context, k key) string {
	s, _ := value[string](ctx, k)
	return s
}

// RequestID is the correlation id of the current request, or "".
func RequestID(ctx context.Context) string { return str(ctx, keyRequestID) }

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// Now returns the time the request was received, falling back to the wall clock
// outside a request.
func Now(ctx context.Context) time.Time {
	if t, ok := value[time.Time](ctx, keyRequestTime); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyRequestTime, t)
}

// Actor is whoever triggered the request: the X-Actor header, a webhook
// sender, or the CLI operator.
func Actor(ctx context.Context) string {
	if a := str(ctx, keyActor); a != "" {
		return a
	}
	return AnonymousActor
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, keyActor, actor)
}

// Source is the submission origin tag, e.g. "web:chrome" or "api".
func Source(ctx context.Context) string { return str(ctx, keySource) }

func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, keySource, source)
}

func ClientIP(ctx context.Context) string  { return str(ctx, keyClientIP) }
func UserAgent(ctx context.Context) string { return str(ctx, keyUserAgent) }

// WithClientMetadata records the caller's address and user agent.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, keyClientIP, clientIP)
	return context.WithValue(ctx, keyUserAgent, userAgent)
}
