package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nerrad567/devmgr/internal/auth"
)

// requestInfo is what the middleware chain learns about a request. It is
// stored once by requestIDMiddleware and filled in by inner middleware, so
// the access log sees the tenant resolved further down the chain.
type requestInfo struct {
	id     string
	tenant string
}

type requestInfoKey struct{}

func infoFrom(ctx context.Context) *requestInfo {
	if ri, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		return ri
	}
	return &requestInfo{}
}

// requestIDFrom returns the request id, or "" outside the router.
func requestIDFrom(ctx context.Context) string { return infoFrom(ctx).id }

// tenantFrom returns the tenant resolved by tenantMiddleware.
func tenantFrom(ctx context.Context) string { return infoFrom(ctx).tenant }

// requestIDMiddleware tags each request with the caller's X-Request-ID, or a
// fresh UUID, and echoes it on the response.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ri := &requestInfo{id: r.Header.Get("X-Request-ID")}
		if ri.id == "" {
			ri.id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", ri.id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, ri)))
	})
}

// loggingMiddleware writes one access log line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			// Handler wrote nothing, or hijacked the connection.
			status = http.StatusOK
		}
		ri := infoFrom(r.Context())
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", ri.id,
			"tenant", ri.tenant,
		)
	})
}

// recoveryMiddleware turns a handler panic into a logged 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("panic in HTTP handler",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestIDFrom(r.Context()),
			)
			writeInternalError(w, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// corsPolicy holds the precomputed CORS response headers.
type corsPolicy struct {
	origins []string // empty allows any origin
	methods string
	headers string
}

func newCORSPolicy(origins, methods, headers []string) corsPolicy {
	join := func(values []string, def string) string {
		if len(values) == 0 {
			return def
		}
		return strings.Join(values, ", ")
	}
	return corsPolicy{
		origins: origins,
		methods: join(methods, "GET, POST, PUT, DELETE, OPTIONS"),
		headers: join(headers, "Authorization, Content-Type, X-Request-ID"),
	}
}

func (p corsPolicy) allows(origin string) bool {
	return len(p.origins) == 0 || slices.Contains(p.origins, "*") || slices.Contains(p.origins, origin)
}

// corsMiddleware answers preflight requests and decorates allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	policy := newCORSPolicy(s.cfg.CORS.AllowedOrigins, s.cfg.CORS.AllowedMethods, s.cfg.CORS.AllowedHeaders)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && policy.allows(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", policy.methods)
			h.Set("Access-Control-Allow-Headers", policy.headers)
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize caps request bodies at 4 MB. Import payloads carry a
// tenant's whole dataset.
const maxRequestBodySize = 4 << 20

func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// tenantMiddleware resolves the bearer token to the tenant every registry
// call is scoped to. Requests without a usable token get 401.
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant, err := s.resolver.Resolve(auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			writeUnauthorized(w, tenantErrorMessage(err))
			return
		}
		ri := infoFrom(r.Context())
		if ri.id == "" {
			// Mounted without requestIDMiddleware; keep the tenant anyway.
			r = r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, ri))
		}
		ri.tenant = tenant
		next.ServeHTTP(w, r)
	})
}

func tenantErrorMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenMissing):
		return "authorization header is required"
	case errors.Is(err, auth.ErrNoTenant):
		return "token does not name a service"
	default:
		return "invalid access token"
	}
}
