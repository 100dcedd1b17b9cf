package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	loggerpkg "AgentPay-Guard/pkg/logger"
)

// MiddlewareConfig declares what a protected payment route demands from the
// caller before the handler runs.
type MiddlewareConfig struct {
	// RequiredPermissions maps an HTTP method to the permissions the
	// principal must hold; the "*" key applies to any method not listed.
	RequiredPermissions map[string][]string
	// AuditEvent names the route in audit entries; the URL path is used
	// when empty.
	AuditEvent string
}

// Middleware authenticates the bearer token, enforces the route's required
// permissions and writes an audit entry for every request. With authentication
// disabled the chain passes through untouched and the principal is resolved by
// the transport layer instead.
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				status := deniedStatus(err)
				http.Error(w, http.StatusText(status), status)
				s.auditLogger().Warn("access_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", status,
					"error", err.Error(),
				)
				return
			}

			perms := cfg.RequiredPermissions[r.Method]
			if len(perms) == 0 {
				perms = cfg.RequiredPermissions["*"]
			}
			if err := subject.Authorize(perms...); err != nil {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				s.auditLogger().Warn("permission_denied",
					"path", r.URL.Path,
					"method", r.Method,
					"status", http.StatusForbidden,
					"error", err.Error(),
					"principal", subject.Username,
				)
				return
			}

			start := time.Now()
			recorder := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(WithSubject(r.Context(), subject)))

			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.auditLogger().Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", recorder.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"principal", subject.Username,
			)
		})
	}
}

// deniedStatus maps authentication failures onto HTTP statuses: revoked
// subjects and missing permissions are 403, everything else is a credential
// problem and stays 401.
func deniedStatus(err error) int {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrSubjectRevoked) {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}

func (s *Service) auditLogger() *slog.Logger {
	if s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}

// auditWriter captures the status code written by the wrapped handler.
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
