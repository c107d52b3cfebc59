package goIdP

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type localeContextKey struct{}

// WithClientIP attaches the caller’s IP address to ctx. Providers use it for
// per-IP reset throttling and audit logging.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithLocale attaches the preferred language used to render notifications.
// When absent, "en" is used.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeContextKey{}, locale)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func localeFromContext(ctx context.Context) string {
	if ctx == nil {
		return "en"
	}

	locale, _ := ctx.Value(localeContextKey{}).(string)
	if locale == "" {
		return "en"
	}

	return locale
}
