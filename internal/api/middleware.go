package api

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Middleware is a function that wraps an HTTP handler
type Middleware func(http.Handler) http.Handler

// loggingMiddleware logs every request and feeds the request metrics. The
// metric endpoint label is the chi route pattern, not the raw path, so
// /v1/rules/{id} stays one series.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		endpoint := chi.RouteContext(r.Context()).RoutePattern()
		if endpoint == "" {
			endpoint = r.URL.Path
		}

		if s.collector != nil {
			s.collector.RecordRequest(r.Method, endpoint, ww.Status(), elapsed)
		}
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", elapsed),
			zap.String("remote", r.RemoteAddr))
	})
}

// RateLimitMiddleware creates middleware that enforces per-client rate
// limits, keyed by X-Client-ID with a remote-IP fallback.
func RateLimitMiddleware(limiter *RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := r.Header.Get("X-Client-ID")
			if client == "" {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				client = host
			}

			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", limiter.Limit()))
			if !limiter.Allow(client) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("rate limit exceeded"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
