package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hugin-munin/hm-api/internal/app"
	"github.com/hugin-munin/hm-api/internal/auth"
	"github.com/hugin-munin/hm-api/internal/rbac"
	"github.com/hugin-munin/hm-api/internal/token"
	"github.com/hugin-munin/hm-api/internal/users"
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

	dbpool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	tokenService := token.NewService(token.Config{
		Secret:           []byte(cfg.JWTSecret),
		Issuer:           cfg.TokenIssuer,
		TTL:              cfg.TokenTTL,
		RefreshThreshold: cfg.TokenRefreshThreshold,
	}, token.NewRedisRegistry(redisClient), nil)

	rbacRepo := rbac.NewRepository(dbpool)
	rbacService := rbac.NewService(rbacRepo)

	userRepo := users.NewRepository(dbpool)
	userService := users.NewService(userRepo)

	authService := auth.NewService(logger, userService, userService, rbacService, tokenService)

	authMiddleware := auth.NewMiddleware(
		logger,
		tokenService,
		rbacService,
		auth.NewPolicyTable(auth.DefaultPolicies()),
		cfg.AdminRole,
		cfg.AdminPermission,
	)

	authHandler := auth.NewHandler(logger, authService)
	rbacHandler := rbac.NewHandler(logger, rbacService, authMiddleware.RequireAdmin)
	usersHandler := users.NewHandler(logger, userService)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthMiddleware: authMiddleware,
		AuthHandler:    authHandler,
		RBACHandler:    rbacHandler,
		UsersHandler:   usersHandler,
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
