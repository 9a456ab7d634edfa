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

	"github.com/ciec-now/ciecnow/internal/access"
	"github.com/ciec-now/ciecnow/internal/app"
	"github.com/ciec-now/ciecnow/internal/auth"
	"github.com/ciec-now/ciecnow/internal/fiscal"
	"github.com/ciec-now/ciecnow/internal/observability"
	"github.com/ciec-now/ciecnow/internal/platform/cache"
	"github.com/ciec-now/ciecnow/internal/platform/db"
	"github.com/ciec-now/ciecnow/internal/platform/token"
	"github.com/ciec-now/ciecnow/internal/prefs"
	"github.com/ciec-now/ciecnow/internal/roles"
	"github.com/ciec-now/ciecnow/internal/session"
	"github.com/ciec-now/ciecnow/internal/shared"
	"github.com/ciec-now/ciecnow/internal/users"
	"github.com/ciec-now/ciecnow/jobs"
)

const (
	tokenIssuer   = "ciecnow"
	sessionCookie = "ciecnow_session"
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

	location, err := cfg.Location()
	if err != nil {
		logger.Error("load timezone", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, ApplicationName: "ciecnow-api"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, sessionCookie, cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	tokens := token.NewManager(cfg.EdgeJWTSecret, tokenIssuer)
	metrics := observability.NewMetrics()

	accessRepo := access.NewRepository(dbpool)
	var remote access.Remote
	if cfg.EdgeURL != "" {
		remote = access.NewEdgeClient(cfg.EdgeURL, tokens, cfg.EdgeTimeout)
	} else {
		logger.Warn("edge url not set, permissions resolve from the database only")
	}
	resolver := access.NewResolver(remote, accessRepo, logger, metrics.Registerer())
	guard := access.Middleware{Logger: logger}

	usersService := users.NewService(users.NewRepository(dbpool))
	rolesService := roles.NewService(roles.NewRepository(dbpool))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)

	authService := auth.NewService(auth.NewRepository(dbpool), tokens, jobClient, cfg.AppBaseURL, logger)

	registry := session.NewRegistry(session.Deps{
		Identities:  session.NewSessionStore(sessionManager),
		Profiles:    usersService,
		Authorizer:  resolver,
		Logger:      logger,
		IdleTimeout: cfg.SessionIdleTimeout,
		OnSignOut:   auth.NewSessionCloser(authService, auditLogger, logger),
	})
	metrics.TrackSessions(registry.Len)
	go registry.Run(ctx, cfg.SessionPruneEvery, cfg.SessionRetention)

	prefsStore := prefs.NewStore(redisClient)
	calendar := fiscal.Calendar{
		StartMonth: time.Month(cfg.FiscalStartMonth),
		FloorYear:  cfg.FiscalFloorYear,
		Location:   location,
	}
	selector := fiscal.NewSelector(calendar, prefsStore, logger)

	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager, registry, auditLogger)
	sessionHandler := session.NewHandler(logger, registry, sessionManager)
	periodHandler := fiscal.NewHandler(logger, selector)
	prefsHandler := prefs.NewHandler(logger, prefsStore)
	usersHandler := users.NewHandler(logger, usersService, guard, registry, auditLogger)
	rolesHandler := roles.NewHandler(logger, rolesService, guard, registry, auditLogger)
	edgeHandler := access.NewEdgeHandler(accessRepo, tokens, logger)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: sessionManager,
		CSRFManager:    csrfManager,
		Metrics:        metrics,
		AuthHandler:    authHandler,
		SessionHandler: sessionHandler,
		PeriodHandler:  periodHandler,
		PrefsHandler:   prefsHandler,
		RolesHandler:   rolesHandler,
		UsersHandler:   usersHandler,
		EdgeHandler:    edgeHandler,
		JobHandler:     jobHandler,
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
