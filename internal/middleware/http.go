// Package middleware holds the HTTP middleware of the action API: access
// logging, CORS, caller identity and rate limiting.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// CORS returns middleware allowing the given origins. "*" allows any
// origin; an entry such as "https://*.run.app" matches by scheme and domain
// suffix.
func CORS(origins []string) func(http.Handler) http.Handler {
	exact := make(map[string]bool, len(origins))
	var wildcards [][2]string // scheme, domain suffix
	allowAll := len(origins) == 0
	for _, o := range origins {
		switch {
		case o == "*":
			allowAll = true
		case strings.Contains(o, "*"):
			scheme, rest, found := strings.Cut(strings.Replace(o, "*", "", 1), "//")
			if found {
				wildcards = append(wildcards, [2]string{scheme + "//", rest})
			} else {
				wildcards = append(wildcards, [2]string{"", scheme})
			}
		default:
			exact[o] = true
		}
	}

	allowed := func(origin string) bool {
		if exact[origin] {
			return true
		}
		for _, wc := range wildcards {
			if strings.HasPrefix(origin, wc[0]) && strings.HasSuffix(origin, wc[1]) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && allowed(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working behind the logger.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

// Logging writes one access log line per request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"caller", CallerFromContext(r.Context()),
		)
	})
}
