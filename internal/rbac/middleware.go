package rbac

import (
	"log/slog"
	"net/http"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Middleware wires authorization checks into HTTP handlers. The edge
// proxy has already authenticated the caller; the identity middleware
// in internal/app puts the trusted ids in context.
type Middleware struct {
	Engine *Service
	Logger *slog.Logger
}

// Require allows the request through only when the caller holds the
// permission code. Every evaluation is audited by the engine with the
// request's network context attached.
func (m Middleware) Require(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			decision := m.Engine.CheckPermission(r.Context(), CheckRequest{
				UserID:    identity.UserID,
				Code:      code,
				IP:        r.RemoteAddr,
				UserAgent: r.UserAgent(),
				Endpoint:  r.Method + " " + r.URL.Path,
			})
			if !decision.Allowed {
				if m.Logger != nil {
					m.Logger.Debug("request denied",
						slog.String("user_id", identity.UserID.String()),
						slog.String("code", code),
						slog.String("reason", decision.Reason))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny allows the request through when the caller holds at least
// one of the permission codes.
func (m Middleware) RequireAny(codes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			for _, code := range codes {
				decision := m.Engine.CheckPermission(r.Context(), CheckRequest{
					UserID:    identity.UserID,
					Code:      code,
					IP:        r.RemoteAddr,
					UserAgent: r.UserAgent(),
					Endpoint:  r.Method + " " + r.URL.Path,
				})
				if decision.Allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}
