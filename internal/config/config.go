package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/promptbase/pkg/config"
)

const (
	defaultAccessSecret  = "change-this-access-secret"
	defaultRefreshSecret = "change-this-refresh-secret"
	minSecretLength      = 32
)

// Config holds all configuration for the identity service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort        int           `env:"HTTP_PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// PostgreSQL
	PostgresHost       string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort       int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser       string        `env:"POSTGRES_USER" envDefault:"promptbase"`
	PostgresPass       string        `env:"POSTGRES_PASSWORD" envDefault:"promptbase"`
	PostgresDB         string        `env:"POSTGRES_DB" envDefault:"promptbase"`
	PostgresSSL        string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns         int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetime  time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"30m"`
	DBMaxConnIdleTime  time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"5m"`
	SlowQueryThreshold time.Duration `env:"SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Redis backs the shared rate limiter. Empty means in-process limiting.
	RedisURL string `env:"REDIS_URL"`

	// Kafka. Empty means events are only logged.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// Tokens
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET" envDefault:"change-this-access-secret"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET" envDefault:"change-this-refresh-secret"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"promptbase"`
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	// Credentials
	BcryptCost    int    `env:"BCRYPT_COST" envDefault:"12"`
	BcryptWorkers int    `env:"BCRYPT_WORKERS" envDefault:"0"`
	TOTPIssuer    string `env:"TOTP_ISSUER" envDefault:"Prompt-Base"`

	// Sessions
	SessionReapInterval   time.Duration `env:"SESSION_REAP_INTERVAL" envDefault:"10m"`
	SessionTouchQueue     int           `env:"SESSION_TOUCH_QUEUE" envDefault:"1024"`
	SessionStrictAccess   bool          `env:"SESSION_STRICT_ACCESS" envDefault:"false"`
	RevokeSessionsOnReset bool          `env:"REVOKE_SESSIONS_ON_RESET" envDefault:"true"`

	// Rate limits
	AuthRateLimit    int           `env:"AUTH_RATE_LIMIT" envDefault:"20"`
	AuthRateWindow   time.Duration `env:"AUTH_RATE_WINDOW" envDefault:"15m"`
	ResendRateLimit  int           `env:"RESEND_RATE_LIMIT" envDefault:"1"`
	ResendRateWindow time.Duration `env:"RESEND_RATE_WINDOW" envDefault:"1m"`

	// Request context
	TrustProxyHeaders bool   `env:"TRUST_PROXY_HEADERS" envDefault:"false"`
	GeoIPDBPath       string `env:"GEOIP_DB_PATH"`

	// Mail. Empty relay URL means emails are written to the log.
	MailRelayURL string `env:"MAIL_RELAY_URL"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"Prompt-Base <no-reply@promptbase.local>"`
	AppBaseURL   string `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`

	// Admin bootstrap
	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD"`
	AdminName     string `env:"ADMIN_NAME" envDefault:"Administrator"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// pprof is mounted only when at least one CIDR is listed.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load identity config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.SessionTouchQueue < 1 {
		return fmt.Errorf("SESSION_TOUCH_QUEUE must be at least 1, got %d", c.SessionTouchQueue)
	}

	// Development and test runs may use cheaper hashing and the default secrets.
	if c.Environment == "development" || c.Environment == "test" {
		return nil
	}

	if c.BcryptCost < 10 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 10 and 31, got %d", c.BcryptCost)
	}
	if err := checkSecret("JWT_ACCESS_SECRET", c.JWTAccessSecret, defaultAccessSecret, c.Environment); err != nil {
		return err
	}
	if err := checkSecret("JWT_REFRESH_SECRET", c.JWTRefreshSecret, defaultRefreshSecret, c.Environment); err != nil {
		return err
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	return nil
}

func checkSecret(name, value, def, env string) error {
	if value == def {
		return fmt.Errorf("%s must be explicitly set via environment variable in %q mode", name, env)
	}
	if len(value) < minSecretLength {
		return fmt.Errorf("%s must be at least %d characters long, got %d", name, minSecretLength, len(value))
	}
	return nil
}

// IsProduction reports whether cookies must be Secure and SameSite=None.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
