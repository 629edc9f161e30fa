package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type callerKey struct{}

// Identity returns the caller a request is limited and logged as: the
// X-User-ID header when present, otherwise the client address. Behind a
// proxy the first X-Forwarded-For hop is used.
func Identity(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
		return "user:" + id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// WithCaller stores the caller identity in the request context.
func WithCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), callerKey{}, Identity(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext returns the identity stored by WithCaller.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(callerKey{}).(string)
	return caller
}
