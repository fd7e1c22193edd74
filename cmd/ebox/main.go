package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/eboxsecure/ebox/api"
	"github.com/eboxsecure/ebox/core/audit"
	"github.com/eboxsecure/ebox/core/compliance"
	"github.com/eboxsecure/ebox/core/config"
	"github.com/eboxsecure/ebox/core/device"
	"github.com/eboxsecure/ebox/core/health"
	"github.com/eboxsecure/ebox/core/logger"
	"github.com/eboxsecure/ebox/core/pickup"
	"github.com/eboxsecure/ebox/core/ratelimit"
	"github.com/eboxsecure/ebox/core/session"
	"github.com/eboxsecure/ebox/core/telemetry"
	"github.com/eboxsecure/ebox/kgorm"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.InitLogger(cfg.LogLevel)
	defer logger.Log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Log.Info("Starting ebox pickup service",
		zap.Int("port", cfg.Port),
		zap.String("db_type", cfg.DBType),
	)

	repo, err := kgorm.NewStorage(cfg.DBType, cfg.DSN, &kgorm.Options{SkipMigrate: cfg.SkipAutoMigrate})
	if err != nil {
		logger.Log.Fatal("failed to initialize repository", zap.Error(err))
	}

	tel, err := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "ebox",
		ServiceVersion: cfg.ServiceVersion,
		Environment:    "production",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplingRate:   1.0,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		logger.Log.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Log.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	auditLog := audit.NewLogger(repo, audit.Hooks{
		IDGenerator: uuid.NewString,
		AlertOnRisk: func(ctx context.Context, e *audit.AuditEvent) {
			logger.Log.Warn("high risk audit event",
				zap.String("type", e.Type),
				zap.String("risk", string(e.Risk)),
				zap.String("session_id", e.SessionID),
				zap.String("message", e.Message),
			)
		},
	})

	retention := compliance.NewRetentionManager(repo, &compliance.RetentionPolicy{
		AuditLog:       cfg.AuditRetention,
		SessionHistory: cfg.SessionRetention,
	})
	go retention.Run(ctx, cfg.RetentionInterval)

	checks := health.NewManager(cfg.ServiceVersion, health.WithTimeout(2*time.Second))
	checks.Register(health.NewPingChecker("database", repo.Ping))

	sessionManager := session.NewManager(session.NewDatabaseStrategy(repo))

	key, err := pickup.DecodeSecret(cfg.PickupSecret)
	if err != nil {
		// Issuance fails and verification rejects until the secret is
		// fixed; readiness reports it.
		logger.Log.Error("pickup secret is not usable; pickup tokens are disabled",
			zap.String("setting", pickup.SecretSetting),
			zap.Error(err),
		)
		key = nil
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		checks.Register(health.NewPingChecker("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
	}

	opts := []pickup.Option{
		pickup.WithLookupTimeout(cfg.PickupLookupTimeout),
		pickup.WithAuditLogger(auditLog),
		pickup.WithTelemetry(tel),
	}
	if cfg.PickupSingleUse {
		var replay pickup.ReplayStore = pickup.NewMemoryReplayStore()
		if rdb != nil {
			replay = pickup.NewRedisReplayStore(rdb, "")
		}
		opts = append(opts, pickup.WithReplayStore(replay))
		logger.Log.Info("single-use pickup tokens enabled", zap.Bool("redis", rdb != nil))
	}

	svc := pickup.NewService(key, sessionManager, repo, opts...)
	checks.Register(health.NewErrorChecker("pickup_secret", svc.ConfigErr))

	h := api.NewHandler(svc, sessionManager, repo, repo)
	h.SetTelemetry(tel)
	if cfg.DeviceSigningKey != "" {
		devices, err := device.NewAuthenticator([]byte(cfg.DeviceSigningKey), cfg.DeviceTokenTTL)
		if err != nil {
			logger.Log.Fatal("failed to initialize device authenticator", zap.Error(err))
		}
		h.SetDeviceAuthenticator(devices)
	} else {
		logger.Log.Warn("DEVICE_SIGNING_KEY is empty; pickup verification accepts unauthenticated callers")
	}
	if cfg.VerifyRateLimit > 0 {
		var limiter ratelimit.RateLimiter = ratelimit.NewMemoryRateLimiter()
		if rdb != nil {
			limiter = ratelimit.NewRedisRateLimiter(rdb, "")
		}
		h.SetVerifyLimiter(limiter, cfg.VerifyRateLimit, cfg.VerifyRateWindow)
	}

	e := echo.New()
	e.HideBanner = true
	e.IPExtractor, err = api.NewIPExtractor(cfg.TrustedProxies)
	if err != nil {
		logger.Log.Fatal("invalid TRUSTED_PROXIES", zap.Error(err))
	}

	// Middleware
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(echo.WrapMiddleware(compliance.SecurityHeadersMiddleware(nil)))

	// Routes
	e.GET("/healthz", checks.LiveHandler)
	e.GET("/ready", checks.ReadyHandler)
	e.GET("/health", checks.FullHandler)
	e.GET("/metrics", echo.WrapHandler(tel.MetricsHandler()))
	h.RegisterRoutes(e.Group("/api/v1"))

	go func() {
		logger.Log.Info("Server is starting", zap.Int("port", cfg.Port))
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Log.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("server shutdown failed", zap.Error(err))
	}
}
