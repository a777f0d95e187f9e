package andyweb

import "context"

type requestKey uint8

const (
	clientIPKey requestKey = iota
	userAgentKey
)

// WithClientIP attaches the caller's IP address to ctx. The Engine records it
// on new sessions and activity rows.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. It is stored for
// audit only and never used to bind sessions.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentKey, userAgent)
}

// ClientIPFromContext returns the IP attached by WithClientIP.
func ClientIPFromContext(ctx context.Context) string {
	return clientIPFromContext(ctx)
}

func clientIPFromContext(ctx context.Context) string { return requestValue(ctx, clientIPKey) }

func userAgentFromContext(ctx context.Context) string { return requestValue(ctx, userAgentKey) }

func requestValue(ctx context.Context, key requestKey) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
