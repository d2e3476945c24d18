package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	audithttp "github.com/meridian-erp/meridian-erp/internal/audit/http"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/rbac"
	"github.com/meridian-erp/meridian-erp/internal/users"
	"github.com/meridian-erp/meridian-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Pool           *pgxpool.Pool
	RBACHandler    *rbac.Handler
	RBACMiddleware rbac.Middleware
	UsersHandler   *users.Handler
	AuditHandler   *audithttp.Handler
	JobsHandler    *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("readiness ping failed", slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.RBACHandler != nil {
			params.RBACHandler.MountRoutes(r)
		}
		if params.UsersHandler != nil {
			r.Route("/accounts", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(params.RBACMiddleware.Require(rbac.PermUsersView))
					r.Get("/", params.UsersHandler.List)
					r.Get("/{id}", params.UsersHandler.Get)
				})
				r.Group(func(r chi.Router) {
					r.Use(params.RBACMiddleware.Require(rbac.PermUsersManage))
					r.Post("/", params.UsersHandler.Create)
					r.Post("/{id}/block", params.UsersHandler.Block)
					r.Post("/{id}/unblock", params.UsersHandler.Unblock)
				})
			})
		}
		if params.AuditHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.Require(rbac.PermAuditView))
				params.AuditHandler.MountRoutes(r)
			})
		}
	})

	if params.JobsHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			params.JobsHandler.MountRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.Require(rbac.PermJobsManage))
				params.JobsHandler.MountAdminRoutes(r)
			})
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
