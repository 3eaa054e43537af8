package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/muniportal/portal-auth/internal/core/domain"
	"github.com/muniportal/portal-auth/internal/core/port"
	"github.com/muniportal/portal-auth/internal/infra/config"
	"github.com/muniportal/portal-auth/internal/infra/database"
	kafkainfra "github.com/muniportal/portal-auth/internal/infra/kafka"
	"github.com/muniportal/portal-auth/internal/infra/logger"
	redisinfra "github.com/muniportal/portal-auth/internal/infra/redis"
	"github.com/muniportal/portal-auth/internal/infra/security"
	"github.com/muniportal/portal-auth/internal/infra/telemetry"
	postgresrepo "github.com/muniportal/portal-auth/internal/repository/postgres"
	redisrepo "github.com/muniportal/portal-auth/internal/repository/redis"
	"github.com/muniportal/portal-auth/internal/transport/http/middleware"
	"github.com/muniportal/portal-auth/internal/transport/http/routes"
	"github.com/muniportal/portal-auth/internal/usecase"
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	tracer   *telemetry.TracerProvider
	pruner   *usecase.SessionPruner
}

func New(ctx context.Context, cfg *config.AppConfig) (_ *Application, err error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &Application{cfg: cfg, logger: log}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	if cfg.Telemetry.TracingEnabled {
		a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	a.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	authMetrics := telemetry.NewAuthMetrics(registry)
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: registry})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	events := a.newEventPublisher()

	keyProvider, err := security.NewKeyProvider(cfg.App.Env, cfg.JWT.KeyDirectory)
	if err != nil {
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	jwtManager := security.NewJWTManager(keyProvider, security.JWTOptions{
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	hasher, err := security.NewPasswordHasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	encryptor, err := newFieldEncryptor(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init field encryptor: %w", err)
	}

	totpEngine := security.NewTOTPEngine(security.TOTPConfig{
		Issuer: cfg.MFA.Issuer,
		Period: cfg.MFA.Period,
		Skew:   cfg.MFA.Skew,
		Digits: cfg.MFA.Digits,
	})
	fingerprints := security.NewFingerprintEngine()

	repos := postgresrepo.NewRepositories(a.pool)

	guardCfg := redisrepo.MFAGuardConfig{
		KeyPrefix:     a.redis.Key("mfa"),
		AttemptLimit:  cfg.MFA.AttemptLimit,
		AttemptWindow: cfg.MFA.AttemptWindow,
	}
	if cfg.MFA.ReplayGuard {
		guardCfg.CodeTTL = totpEngine.Window()
	}
	mfaGuard := redisrepo.NewMFAGuard(a.redis.Client(), guardCfg)
	revocations := redisrepo.NewSessionRevocationStore(a.redis.Client(), a.redis.RevokedPrefix())

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(a.redis.Client(), redisrepo.SlidingWindowConfig{
		KeyPrefix: a.redis.Key("ratelimit"),
		TTL:       rateLimitWindow * 2,
	})
	degradation := domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.Auth.DegradationMode))
	rateLimiter := middleware.NewRateLimiter(rateLimitStore, log).WithDegradationPolicy(degradation)

	verifier := usecase.NewCredentialVerifier(repos.Accounts, hasher, usecase.CredentialPolicy{
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutDuration:  cfg.Auth.LockoutDuration,
		ReadRetryBackoff: cfg.Auth.ReadRetryBackoff,
	}, log).
		WithEvents(events).
		WithMetrics(authMetrics)

	mfaService := usecase.NewMFAService(repos.Accounts, totpEngine, encryptor, verifier, log).
		WithGuard(mfaGuard).
		WithDegradationPolicy(degradation).
		WithEvents(events).
		WithMetrics(authMetrics).
		WithReadRetry(cfg.Auth.ReadRetryBackoff)

	sessionService := usecase.NewSessionService(repos.Sessions, verifier, encryptor, log).
		WithRevocationStore(revocations, cfg.JWT.AccessTokenTTL).
		WithTokenVerifier(jwtManager).
		WithEvents(events).
		WithMetrics(authMetrics).
		WithTouchInterval(cfg.Auth.SessionTouchInterval).
		WithReadRetry(cfg.Auth.ReadRetryBackoff)

	loginService := usecase.NewLoginService(verifier, mfaService, fingerprints, repos.Sessions, jwtManager, encryptor, usecase.LoginPolicy{
		DeviceLimit:      cfg.Auth.DeviceLimit,
		MFAOnlyEnabled:   cfg.Auth.MFAOnlyLoginEnabled,
		TokenTTL:         cfg.JWT.AccessTokenTTL,
		ReadRetryBackoff: cfg.Auth.ReadRetryBackoff,
	}, log).
		WithEvents(events).
		WithMetrics(authMetrics)

	if cfg.Pruner.Enabled {
		a.pruner = usecase.NewSessionPruner(repos.Sessions, usecase.PrunerPolicy{
			Interval:       cfg.Pruner.Interval,
			RetentionDays:  cfg.Pruner.RetentionDays,
			PurgeAfterDays: cfg.Pruner.PurgeAfterDays,
		}, log).
			WithEvents(events).
			WithMetrics(authMetrics)
	}

	a.engine = routes.Register(routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: rateLimiter,
		Metrics:     httpMetrics,
		Gatherer:    registry,
		Keys:        jwtManager,
		Database:    a.pool,
		Cache:       a.redis,
		Services: routes.ServiceSet{
			Login:    loginService,
			Sessions: sessionService,
			MFA:      mfaService,
		},
	})

	return a, nil
}

func (a *Application) newEventPublisher() port.EventPublisher {
	if len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka brokers not configured, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}

	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	a.producer = producer
	a.logger.Info("kafka event publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

func newFieldEncryptor(appCfg *config.AppConfig, log *zap.Logger) (*security.FieldEncryptor, error) {
	cfg := appCfg.Encryption
	if cfg.CurrentKey == "" && appCfg.App.IsDevelopment() {
		log.Warn("encryption key not configured, using an ephemeral key")
		key, err := security.NewEphemeralEncryptionKey("dev-ephemeral")
		if err != nil {
			return nil, err
		}
		return security.NewFieldEncryptor(key, nil)
	}

	current, err := security.ParseEncryptionKey(cfg.CurrentKeyID, cfg.CurrentKey)
	if err != nil {
		return nil, err
	}
	if cfg.PreviousKeyID == "" {
		return security.NewFieldEncryptor(current, nil)
	}
	previous, err := security.ParseEncryptionKey(cfg.PreviousKeyID, cfg.PreviousKey)
	if err != nil {
		return nil, fmt.Errorf("previous key: %w", err)
	}
	return security.NewFieldEncryptor(current, &previous)
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.release(context.Background())

	var wg sync.WaitGroup
	pruneCtx, stopPruner := context.WithCancel(ctx)
	defer func() {
		stopPruner()
		wg.Wait()
	}()
	if a.pruner != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.pruner.Run(pruneCtx)
		}()
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.App.Host, strconv.Itoa(a.cfg.App.Port)),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting portal auth API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.Bool("pruner_enabled", a.pruner != nil),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		timeout := a.cfg.App.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		a.logger.Info("shutting down portal auth API")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// release closes every acquired resource. Safe on a partially built Application.
func (a *Application) release(ctx context.Context) {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
		a.producer = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer provider", zap.Error(err))
		}
		a.tracer = nil
	}
}
