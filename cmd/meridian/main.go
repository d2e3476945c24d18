package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/audit"
	audithttp "github.com/meridian-erp/meridian-erp/internal/audit/http"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/rbac"
	"github.com/meridian-erp/meridian-erp/internal/users"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	metrics := observability.NewMetrics()

	permCache, cacheCleanup, err := app.NewPermissionCache(ctx, cfg, logger)
	if err != nil {
		logger.Error("build permission cache", slog.Any("error", err))
		os.Exit(1)
	}
	defer cacheCleanup()

	usersRepo := users.NewRepository(dbpool)
	usersService := users.NewService(usersRepo)

	repos := rbac.NewPGRepositories(dbpool)

	engine := rbac.NewService(rbac.ServiceDeps{
		Users:      usersRepo,
		Groups:     repos.Groups,
		GroupPerms: repos.GroupPerms,
		UserGroups: repos.UserGroups,
		Audit:      repos.Audit,
		Cache:      permCache,
		Logger:     logger,
		Metrics:    metrics,
	})
	guard := rbac.Middleware{Engine: engine, Logger: logger}

	groupService := rbac.NewGroupService(repos.Groups, repos.GroupPerms, repos.UserGroups, permCache, logger)
	grantService := rbac.NewGrantService(rbac.GrantServiceDeps{
		Users:      usersRepo,
		Groups:     repos.Groups,
		Perms:      repos.Perms,
		GroupPerms: repos.GroupPerms,
		UserGroups: repos.UserGroups,
		Cache:      permCache,
		Logger:     logger,
	})
	catalogService := rbac.NewCatalogService(repos.Perms, repos.GroupPerms, permCache, logger)
	rbacHandler := rbac.NewHandler(logger, engine, groupService, grantService, catalogService, guard)

	usersHandler := users.NewHandler(logger, usersService, engine)

	timelineService := audit.NewService(audit.NewPGRepository(dbpool))
	auditHandler := audithttp.NewHandler(logger, timelineService, audit.CSVExporter{})

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("build jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, jobsClient, cfg.AuditRetention, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Pool:           dbpool,
		RBACHandler:    rbacHandler,
		RBACMiddleware: guard,
		UsersHandler:   usersHandler,
		AuditHandler:   auditHandler,
		JobsHandler:    jobsHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
