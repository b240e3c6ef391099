package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/crystals/internal/auth"
	"github.com/BradenHooton/crystals/internal/background"
	"github.com/BradenHooton/crystals/internal/config"
	"github.com/BradenHooton/crystals/internal/database"
	"github.com/BradenHooton/crystals/internal/handlers"
	"github.com/BradenHooton/crystals/internal/metrics"
	middlewareCustom "github.com/BradenHooton/crystals/internal/middleware"
	"github.com/BradenHooton/crystals/internal/repositories"
	"github.com/BradenHooton/crystals/internal/routes"
	"github.com/BradenHooton/crystals/internal/security"
	"github.com/BradenHooton/crystals/internal/services"
	"github.com/BradenHooton/crystals/internal/store"
	pkghttp "github.com/BradenHooton/crystals/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		logger.Warn("unknown log level, using info", slog.String("level", cfg.Server.LogLevel))
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	startCtx, startCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer startCancel()

	// Initialize database
	db, err := database.NewConnection(startCtx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Shared counters and event buckets
	var (
		st      store.Store
		sweeper *store.MemoryStore
	)
	if cfg.Redis.Addr != "" {
		rs, err := store.NewRedis(startCtx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Timeout:  cfg.Redis.Timeout,
		})
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		st = rs
		logger.Info("using redis store", slog.String("addr", cfg.Redis.Addr))
	} else {
		sweeper = store.NewMemory()
		st = sweeper
		logger.Warn("REDIS_ADDR not set, using in-process store; counters are not shared between instances")
	}
	defer st.Close()

	// Initialize repositories
	principalRepo := repositories.NewPrincipalRepository(db)
	blacklistRepo := repositories.NewTokenBlacklistRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)
	resourceRepo := repositories.NewResourceRepository(db)

	// Security monitoring
	recorder := security.NewRecorder(st, logger, security.RecorderConfig{
		Retention: cfg.Security.EventRetention,
		BucketCap: cfg.Security.EventBucketCap,
	})
	recorder.SetArchive(eventRepo)

	failed := security.NewFailedLoginCounter(st, cfg.Security.BruteForceThreshold, cfg.Security.FailedLoginTTL, logger)
	blocks := security.NewBlockRegistry(st, recorder, failed, time.Now, logger)

	var notifier security.Notifier = security.NewLogNotifier(logger)
	if len(cfg.Email.AlertRecipients) > 0 && cfg.Email.FromAddress != "" {
		ses, err := security.NewSESNotifier(startCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.AlertRecipients, logger)
		if err != nil {
			logger.Error("failed to initialize alert email, falling back to log notifier", slog.Any("error", err))
		} else {
			notifier = ses
		}
	}

	alerts := security.NewAlertEngine(st, notifier, blocks, logger, security.AlertConfig{
		Thresholds: map[string]int{
			security.CategoryFailedLogins:       cfg.Security.Alerts.FailedLogins,
			security.CategorySuspiciousRequests: cfg.Security.Alerts.SuspiciousRequests,
			security.CategoryRateLimitHits:      cfg.Security.Alerts.RateLimitHits,
			security.CategoryServerErrors:       cfg.Security.Alerts.ServerErrors,
		},
		AutoBlock:         cfg.Security.Alerts.AutoBlock,
		AutoBlockDuration: cfg.Security.Alerts.AutoBlockDuration,
		NotifyTimeout:     cfg.Email.NotifyTimeout,
		NotifyInterval:    cfg.Email.NotifyInterval,
		NotifyBurst:       cfg.Email.NotifyBurst,
	})
	recorder.AddSink(alerts)

	limiter := func(scope string, limit int) *security.RateLimiter {
		return security.NewRateLimiter(st, scope, limit, cfg.Security.RateLimitWindow, nil, logger)
	}

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	var totpManager *auth.TOTPManager
	if cfg.Auth.MFAEncryptionKey != nil {
		totpManager, err = auth.NewTOTPManager(cfg.Auth.MFAEncryptionKey, cfg.Auth.MFAIssuer)
		if err != nil {
			logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
			os.Exit(1)
		}
	}

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		Base:   time.Duration(cfg.Auth.TimingBaseMs) * time.Millisecond,
		Jitter: time.Duration(cfg.Auth.TimingJitterMs) * time.Millisecond,
	})

	gate := auth.NewGate(tokenManager, blacklistRepo, principalRepo, logger)

	authService := services.NewAuthService(principalRepo, blacklistRepo, tokenManager, totpManager, timingDelay, recorder, logger)
	resourceService := services.NewResourceService(resourceRepo, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureSuperuser(ctx, authService, cfg.Security.DefaultFactoryID, logger); err != nil {
		logger.Error("failed to ensure superuser", slog.Any("error", err))
	}
	cancel()

	ips, err := pkghttp.NewIPResolver(&pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies})
	if err != nil {
		logger.Error("invalid trusted proxy configuration", slog.Any("error", err))
		os.Exit(1)
	}

	// Global pipeline stages, in order
	loginPaths := middlewareCustom.LoginPathMatcher(cfg.Security.LoginPaths)
	admin := cfg.Security.AdminPathPrefixes
	var stages []middlewareCustom.Stage
	if cfg.Server.IsProduction() && len(cfg.Security.IPWhitelist) > 0 {
		stages = append(stages, middlewareCustom.Whitelist(security.NewWhitelist(cfg.Security.IPWhitelist)))
	}
	stages = append(stages,
		middlewareCustom.BlockedIP(blocks, admin, nil),
		middlewareCustom.ThreatScan(),
		middlewareCustom.BlockedIP(blocks, nil, admin),
		middlewareCustom.RequestSize(cfg.Security.MaxRequestBytes),
		middlewareCustom.BruteForce(failed, loginPaths),
		middlewareCustom.DirectoryTraversal(),
		middlewareCustom.SQLInjection(),
		middlewareCustom.RateLimit(limiter(security.ScopeGeneral, cfg.Security.GeneralRateLimit)),
	)

	pipeline := middlewareCustom.NewPipeline(
		security.NewClientResolver(ips, cfg.Security.DefaultFactoryID),
		recorder,
		failed,
		logger,
		middlewareCustom.PipelineConfig{
			Env:                  cfg.Server.Env,
			LoginPaths:           cfg.Security.LoginPaths,
			SlowRequestThreshold: cfg.Security.SlowRequestThreshold,
		},
		stages...,
	)

	metrics.Register()

	corsConfig := middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.StripSlashes)
	router.Use(middlewareCustom.SecureLogger(logger, ips))
	router.Use(metrics.Instrument)
	router.Use(middlewareCustom.CORS(corsConfig))
	router.Use(middleware.Timeout(cfg.Server.HandlerTimeout))

	routes.RegisterRoutes(router, routes.Dependencies{
		Pipeline: pipeline,
		Gate:     gate,
		Recorder: recorder,
		Limiters: routes.Limiters{
			Login:       limiter(security.ScopeLogin, cfg.Security.LoginRateLimit),
			Refresh:     limiter(security.ScopeRefresh, cfg.Security.RefreshRateLimit),
			Sensitive:   limiter(security.ScopeSensitive, cfg.Security.SensitiveRateLimit),
			AdminWrite:  limiter(security.ScopeAdminWrite, cfg.Security.AdminWriteRateLimit),
			Destructive: limiter(security.ScopeDestructive, cfg.Security.DestructiveRateLimit),
		},
		Auth:         handlers.NewAuthHandler(authService, logger),
		MFA:          handlers.NewMFAHandler(authService, logger),
		Security:     handlers.NewSecurityHandler(security.NewMonitor(recorder, blocks, logger), blocks, logger),
		Resources:    handlers.NewResourceHandler(resourceService, recorder, logger),
		Health:       healthHandler(db, st),
		IPs:          ips,
		OpsRateLimit: cfg.Server.OpsRateLimit,
		Env:          cfg.Server.Env,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Initialize cleanup manager
	tasks := []background.Task{
		background.BlacklistTask(blacklistRepo),
		background.ArchiveRetentionTask(eventRepo, 30*24*time.Hour),
	}
	if sweeper != nil {
		tasks = append(tasks, background.StoreSweepTask(sweeper))
	}
	cleanupManager := background.NewCleanupManager(logger, cfg.Auth.CleanupInterval, tasks...)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}
	alerts.Wait()

	logger.Info("server stopped gracefully")
}

func healthHandler(db *database.DB, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "healthy", "database": "up", "store": "up"}
		if err := db.HealthCheck(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"], body["database"] = "unhealthy", "down"
		}
		if err := st.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"], body["store"] = "unhealthy", "down"
		}
		pkghttp.WriteJSON(w, status, body)
	}
}

func ensureSuperuser(ctx context.Context, svc *services.AuthService, factoryID int64, logger *slog.Logger) error {
	username := os.Getenv("ADMIN_USERNAME")
	password := os.Getenv("ADMIN_PASSWORD")

	if username == "" || password == "" {
		logger.Info("no ADMIN_USERNAME or ADMIN_PASSWORD set, skipping superuser creation")
		return nil
	}
	return svc.BootstrapSuperuser(ctx, username, password, factoryID)
}
