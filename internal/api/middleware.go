package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/auth"
	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

type contextKey string

const agentContextKey contextKey = "agent"

// AgentFrom returns the authenticated agent placed in the context by
// requireAgent, or nil on unauthenticated routes.
func AgentFrom(ctx context.Context) *models.Agent {
	a, _ := ctx.Value(agentContextKey).(*models.Agent)
	return a
}

// requireAgent resolves the bearer token and stores the agent in the
// request context. Missing, unknown and revoked tokens are all 401.
func (s *Server) requireAgent(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent, err := s.deps.Verifier.VerifyBearer(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if errors.Is(err, auth.ErrNoToken) {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid or revoked token")
			return
		}
		ctx := context.WithValue(r.Context(), agentContextKey, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// limited applies the per-digest token bucket. Must run inside
// requireAgent so the context carries the caller's digest.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	h := s.deps.Limiter.Middleware(func(r *http.Request) string {
		if a := AgentFrom(r.Context()); a != nil {
			return a.TokenDigest
		}
		return ""
	}, next)
	return h.ServeHTTP
}

// recoveryMiddleware turns handler panics into 500s instead of dropped
// connections.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Printf("❌ Panic serving %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf(`{"method":"%s","path":"%s","duration_ms":%d}`,
			r.Method,
			r.URL.Path,
			time.Since(start).Milliseconds(),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
