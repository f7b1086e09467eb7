package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/promptbase/internal/auth"
	"github.com/utafrali/promptbase/internal/config"
	"github.com/utafrali/promptbase/internal/device"
	"github.com/utafrali/promptbase/internal/event"
	handler "github.com/utafrali/promptbase/internal/handler/http"
	"github.com/utafrali/promptbase/internal/mailer"
	"github.com/utafrali/promptbase/internal/ratelimit"
	"github.com/utafrali/promptbase/internal/repository/postgres"
	"github.com/utafrali/promptbase/internal/service"
	"github.com/utafrali/promptbase/internal/session"
	"github.com/utafrali/promptbase/migrations"
	"github.com/utafrali/promptbase/pkg/database"
	"github.com/utafrali/promptbase/pkg/health"
	"github.com/utafrali/promptbase/pkg/httpclient"
	pkgkafka "github.com/utafrali/promptbase/pkg/kafka"
	"github.com/utafrali/promptbase/pkg/middleware"
	"github.com/utafrali/promptbase/pkg/tracing"
)

const serviceName = "identity"

// App wires together all dependencies and runs the identity service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	events         *event.Producer
	geo            *device.GeoIP
	registry       *session.Registry
	localLimiters  []*ratelimit.Local
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Optional backends (Redis, Kafka, GeoIP, mail relay) are only connected when
// configured.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	if err := a.initPostgres(ctx); err != nil {
		a.closeBackends()
		return nil, err
	}
	if err := a.initOptional(ctx); err != nil {
		a.closeBackends()
		return nil, err
	}

	router, err := a.buildRouter(ctx)
	if err != nil {
		a.closeBackends()
		return nil, err
	}

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) initPostgres(ctx context.Context) error {
	cfg := a.cfg
	pgCfg := database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLifetime,
		MaxConnIdleTime: cfg.DBMaxConnIdleTime,
	}

	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		return fmt.Errorf("register pool metrics: %w", err)
	}
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if cfg.SlowQueryThreshold > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold, a.logger)
	}
	return nil
}

func (a *App) initOptional(ctx context.Context) error {
	cfg := a.cfg

	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, database.RedisConfig{URL: cfg.RedisURL})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		a.logger.Info("connected to Redis, rate limits are shared")
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), a.logger)
		a.logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	if cfg.GeoIPDBPath != "" {
		geo, err := device.OpenGeoIP(cfg.GeoIPDBPath)
		if err != nil {
			return fmt.Errorf("open geoip database: %w", err)
		}
		a.geo = geo
	}
	return nil
}

// limiter returns the Redis-backed limiter when Redis is configured, falling
// back to an in-process one when the shared store is unreachable.
func (a *App) limiter(p ratelimit.Policy) ratelimit.Limiter {
	local := ratelimit.NewLocal(p)
	a.localLimiters = append(a.localLimiters, local)
	if a.redis == nil {
		return local
	}
	return ratelimit.NewRedis(a.redis, p, local, a.logger)
}

func (a *App) buildRouter(ctx context.Context) (http.Handler, error) {
	cfg := a.cfg

	var events event.Publisher = event.NewLogPublisher(a.logger)
	if a.producer != nil {
		a.events = event.NewProducer(a.producer, a.logger)
		events = a.events
	}

	var sender mailer.Sender = mailer.NewLogSender(a.logger)
	var relay *httpclient.CircuitBreakerClient
	if cfg.MailRelayURL != "" {
		relay = httpclient.NewCircuitBreakerClient(
			httpclient.New(httpclient.DefaultConfig()),
			httpclient.DefaultCircuitBreakerConfig("mail-relay"),
			a.logger,
		)
		sender = mailer.NewHTTPSender(relay, cfg.MailRelayURL)
	}
	mail := mailer.New(sender, cfg.MailFrom, cfg.AppBaseURL)

	var geo device.GeoResolver = device.UnknownLocation{}
	if a.geo != nil {
		geo = a.geo
	}
	devices := device.NewResolver(geo, cfg.TrustProxyHeaders)

	creds, err := auth.NewCredentials(cfg.BcryptCost, cfg.BcryptWorkers)
	if err != nil {
		return nil, fmt.Errorf("init credentials: %w", err)
	}
	tokens := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		Issuer:        cfg.JWTIssuer,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})

	userRepo := postgres.NewUserRepository(a.pool)
	sessionRepo := postgres.NewSessionRepository(a.pool)
	codeRepo := postgres.NewTwoFactorRepository(a.pool)
	totp := auth.NewTOTPManager(cfg.TOTPIssuer, codeRepo)

	a.registry = session.NewRegistry(sessionRepo, session.Config{
		TouchQueueSize: cfg.SessionTouchQueue,
		ReapInterval:   cfg.SessionReapInterval,
	}, a.logger)

	authService := service.NewAuthService(userRepo, creds, tokens, totp, a.registry, mail, events,
		service.AuthConfig{RevokeSessionsOnReset: cfg.RevokeSessionsOnReset}, a.logger)
	twoFactorService := service.NewTwoFactorService(userRepo, codeRepo, totp, events, a.logger)
	sessionService := service.NewSessionService(a.registry, events, a.logger)
	userService := service.NewUserService(userRepo, creds, events, a.logger)

	if err := userService.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})
	if a.redis != nil {
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	}
	if relay != nil {
		healthHandler.RegisterNonCritical("mail_relay", relay.Ping)
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins

	deps := handler.RouterDeps{
		Auth:          authService,
		TwoFactor:     twoFactorService,
		Sessions:      sessionService,
		Users:         userService,
		Devices:       devices,
		Tokens:        tokens,
		Touch:         a.registry.Touch,
		AuthLimiter:   a.limiter(ratelimit.Policy{Name: "auth", Limit: cfg.AuthRateLimit, Window: cfg.AuthRateWindow}),
		ResendLimiter: a.limiter(ratelimit.Policy{Name: "resend_verification", Limit: cfg.ResendRateLimit, Window: cfg.ResendRateWindow}),
		Health:        healthHandler,
		Cookies: handler.CookieConfig{
			Secure:     cfg.IsProduction(),
			AccessTTL:  cfg.AccessTokenTTL,
			RefreshTTL: cfg.RefreshTokenTTL,
		},
		CORS:       cors,
		TrustProxy: cfg.TrustProxyHeaders,
		PprofCIDRs: cfg.PprofAllowedCIDRs,
		Logger:     a.logger,
	}
	if cfg.SessionStrictAccess {
		deps.SessionCheck = a.registry.Exists
	}
	return handler.NewRouter(deps), nil
}

// Run starts the HTTP server and the background workers and blocks until the
// context is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.registry.Run(gctx)
	})
	for _, l := range a.localLimiters {
		g.Go(func() error {
			l.Run(gctx)
			return nil
		})
	}
	if a.events != nil {
		g.Go(func() error {
			a.events.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown signal received")
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops all components in order: drain HTTP, flush queued
// events and spans, then close Kafka, Redis, GeoIP and PostgreSQL.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.events != nil {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		if left := a.events.Flush(flushCtx); left > 0 {
			a.logger.Warn("events not published before shutdown", slog.Int("count", left))
		}
		flushCancel()
	}

	if err := a.closeBackends(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeBackends() error {
	var errs []error

	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.geo != nil {
		if err := a.geo.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
