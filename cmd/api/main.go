package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/credential"
	"rollcall/internal/handler"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/logger"
	"rollcall/internal/metrics"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	logger.Configure(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty && !cfg.Production()})

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		logger.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	db, err := store.NewDB(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	creds, err := credential.NewStore(db, cfg.BcryptCost)
	if err != nil {
		return err
	}
	created, err := creds.EnsureBootstrap(ctx, cfg.BootstrapAdminUser, cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		logger.Warn().Str("admin", cfg.BootstrapAdminUser).Msg("bootstrap admin created; change its password")
	}

	var redisClient *store.Redis
	var sessionStore auth.SessionStore
	switch cfg.SessionBackend {
	case "redis":
		redisClient, err = store.NewRedis(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			logger.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet")
		}
		sessionStore = auth.NewRedisStore(redisClient.Client)
	default:
		sessionStore = auth.NewMemoryStore()
	}

	students := roster.NewRepository(db)
	repo := attendance.NewRepository(db)
	manager := attendance.NewManager(repo)

	if active, err := manager.ActiveSession(ctx); err == nil {
		metrics.SetActive(active != nil)
	}
	if n, err := students.Count(ctx); err == nil && n == 0 {
		logger.Warn().Msg("roster is empty; import students with cmd/import")
	}

	h := handler.New(handler.Options{
		Sections:     cfg.Sections,
		PublicURL:    cfg.PublicURL,
		CookieSecure: cfg.CookieSecure,
	}, handler.Deps{
		Health: func(ctx context.Context) bool {
			return db.Healthy(ctx) && (redisClient == nil || redisClient.Healthy(ctx))
		},
		Manager:  manager,
		Recorder: attendance.NewRecorder(manager, students, repo),
		Reporter: attendance.NewReporter(manager, students, repo),
		Creds:    creds,
		Sessions: auth.NewSessions(sessionStore, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AdminSessionTTL),
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger.Get(), "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Register(r, handler.Limits{
		CheckIn: httpmiddleware.NewTokenBucket("checkin", cfg.RateLimitPerMin, cfg.RateLimitPerMin).Middleware(),
		Login:   httpmiddleware.NewTokenBucket("login", 10, 10).Middleware(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("db", cfg.DatabaseDriver).Str("sessions", cfg.SessionBackend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced shutdown")
	}
	logger.Info().Msg("server exited")
	return nil
}
