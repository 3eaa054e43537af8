package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "PORTAL"

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	JWT        JWTSettings        `mapstructure:"jwt"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
	Argon2     Argon2Settings     `mapstructure:"argon2"`
	Auth       AuthSettings       `mapstructure:"auth"`
	MFA        MFASettings        `mapstructure:"mfa"`
	Encryption EncryptionSettings `mapstructure:"encryption"`
	Pruner     PrunerSettings     `mapstructure:"pruner"`
	CORS       CORSSettings       `mapstructure:"cors"`
}

type AppSettings struct {
	Name            string        `mapstructure:"name"`
	Env             string        `mapstructure:"env"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// IsDevelopment reports whether the service runs in a local or test environment.
func (s AppSettings) IsDevelopment() bool {
	return s.Env == "development" || s.Env == "test"
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection and key namespaces.
type RedisSettings struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	DB            int    `mapstructure:"db"`
	Password      string `mapstructure:"password"`
	TLSEnabled    bool   `mapstructure:"tls_enabled"`
	KeyPrefix     string `mapstructure:"key_prefix"`
	RevokedPrefix string `mapstructure:"revoked_prefix"`
}

// KafkaSettings configures the event producer. Empty brokers select the logging publisher.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	ClientID    string   `mapstructure:"client_id"`
}

// RateLimitSettings configures sliding windows for unauthenticated endpoints.
type RateLimitSettings struct {
	WindowDuration              time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts            int           `mapstructure:"login_max_attempts"`
	SessionListMaxAttempts      int           `mapstructure:"session_list_max_attempts"`
	CredentialLogoutMaxAttempts int           `mapstructure:"credential_logout_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters.
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type JWTSettings struct {
	KeyDirectory   string        `mapstructure:"key_directory"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Issuer         string        `mapstructure:"issuer"`
	Audience       []string      `mapstructure:"audience"`
}

type TelemetrySettings struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// AuthSettings configures lockout and the login orchestrator.
type AuthSettings struct {
	LockoutThreshold     int           `mapstructure:"lockout_threshold"`
	LockoutDuration      time.Duration `mapstructure:"lockout_duration"`
	DeviceLimit          int           `mapstructure:"device_limit"`
	MFAOnlyLoginEnabled  bool          `mapstructure:"mfa_only_login_enabled"`
	ReadRetryBackoff     time.Duration `mapstructure:"read_retry_backoff"`
	SessionTouchInterval time.Duration `mapstructure:"session_touch_interval"`
	// DegradationMode is "lenient" or "strict" and governs Redis guard outages.
	DegradationMode string `mapstructure:"degradation_mode"`
}

// MFASettings configures TOTP enrollment and the attempt guard.
type MFASettings struct {
	Issuer        string        `mapstructure:"issuer"`
	Period        uint          `mapstructure:"period"`
	Skew          uint          `mapstructure:"skew"`
	Digits        int           `mapstructure:"digits"`
	AttemptLimit  int           `mapstructure:"attempt_limit"`
	AttemptWindow time.Duration `mapstructure:"attempt_window"`
	ReplayGuard   bool          `mapstructure:"replay_guard"`
}

// EncryptionSettings carries base64 keys for session field encryption.
type EncryptionSettings struct {
	CurrentKeyID  string `mapstructure:"current_key_id"`
	CurrentKey    string `mapstructure:"current_key"`
	PreviousKeyID string `mapstructure:"previous_key_id"`
	PreviousKey   string `mapstructure:"previous_key"`
}

type PrunerSettings struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	RetentionDays  int           `mapstructure:"retention_days"`
	PurgeAfterDays int           `mapstructure:"purge_after_days"`
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

var envKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.shutdown_timeout",
	"postgres.host",
	"postgres.port",
	"postgres.user",
	"postgres.password",
	"postgres.database",
	"postgres.ssl_mode",
	"postgres.max_conns",
	"postgres.min_conns",
	"postgres.max_conn_lifetime",
	"postgres.max_conn_idle_time",
	"postgres.health_check_period",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.key_prefix",
	"redis.revoked_prefix",
	"kafka.brokers",
	"kafka.topic_prefix",
	"kafka.client_id",
	"jwt.key_directory",
	"jwt.access_token_ttl",
	"jwt.issuer",
	"jwt.audience",
	"telemetry.tracing_enabled",
	"telemetry.otlp_endpoint",
	"telemetry.service_name",
	"telemetry.service_version",
	"telemetry.sampling_rate",
	"rate_limit.window_duration",
	"rate_limit.login_max_attempts",
	"rate_limit.session_list_max_attempts",
	"rate_limit.credential_logout_max_attempts",
	"argon2.memory",
	"argon2.iterations",
	"argon2.parallelism",
	"argon2.salt_length",
	"argon2.key_length",
	"auth.lockout_threshold",
	"auth.lockout_duration",
	"auth.device_limit",
	"auth.mfa_only_login_enabled",
	"auth.read_retry_backoff",
	"auth.session_touch_interval",
	"auth.degradation_mode",
	"mfa.issuer",
	"mfa.period",
	"mfa.skew",
	"mfa.digits",
	"mfa.attempt_limit",
	"mfa.attempt_window",
	"mfa.replay_guard",
	"encryption.current_key_id",
	"encryption.current_key",
	"encryption.previous_key_id",
	"encryption.previous_key",
	"pruner.enabled",
	"pruner.interval",
	"pruner.retention_days",
	"pruner.purge_after_days",
	"cors.allowed_origins",
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, envKeys); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("app.port out of range: %d", c.App.Port))
	}
	if c.Auth.DeviceLimit < 1 {
		errs = append(errs, fmt.Errorf("auth.device_limit must be at least 1, got %d", c.Auth.DeviceLimit))
	}
	if c.Auth.LockoutThreshold < 1 {
		errs = append(errs, fmt.Errorf("auth.lockout_threshold must be at least 1, got %d", c.Auth.LockoutThreshold))
	}
	if c.Auth.LockoutDuration <= 0 {
		errs = append(errs, errors.New("auth.lockout_duration must be positive"))
	}
	if mode := strings.ToLower(strings.TrimSpace(c.Auth.DegradationMode)); mode != "" && mode != "lenient" && mode != "strict" {
		errs = append(errs, fmt.Errorf("auth.degradation_mode must be lenient or strict, got %q", c.Auth.DegradationMode))
	}
	if c.JWT.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("jwt.access_token_ttl must be positive"))
	}
	if c.MFA.Digits != 6 && c.MFA.Digits != 8 {
		errs = append(errs, fmt.Errorf("mfa.digits must be 6 or 8, got %d", c.MFA.Digits))
	}
	if c.MFA.Period == 0 {
		errs = append(errs, errors.New("mfa.period must be positive"))
	}
	if c.Pruner.Enabled {
		if c.Pruner.RetentionDays < 1 {
			errs = append(errs, fmt.Errorf("pruner.retention_days must be at least 1, got %d", c.Pruner.RetentionDays))
		}
		if c.Pruner.PurgeAfterDays != 0 && c.Pruner.PurgeAfterDays < c.Pruner.RetentionDays {
			errs = append(errs, errors.New("pruner.purge_after_days must not be shorter than retention_days"))
		}
	}
	if strings.TrimSpace(c.Encryption.CurrentKey) == "" && !c.App.IsDevelopment() {
		errs = append(errs, errors.New("encryption.current_key is required outside development"))
	}
	if (c.Encryption.PreviousKey == "") != (c.Encryption.PreviousKeyID == "") {
		errs = append(errs, errors.New("encryption.previous_key and previous_key_id must be set together"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "muniportal-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.shutdown_timeout", "15s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "portal")
	v.SetDefault("postgres.password", "portal_password")
	v.SetDefault("postgres.database", "portal")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "portal")
	v.SetDefault("redis.revoked_prefix", "portal:revoked_session")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "portal")
	v.SetDefault("kafka.client_id", "muniportal-auth")

	v.SetDefault("jwt.key_directory", "./secrets")
	v.SetDefault("jwt.access_token_ttl", "15m")
	v.SetDefault("jwt.issuer", "muniportal-auth")
	v.SetDefault("jwt.audience", []string{"muniportal"})

	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "muniportal-auth")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 10)
	v.SetDefault("rate_limit.session_list_max_attempts", 10)
	v.SetDefault("rate_limit.credential_logout_max_attempts", 10)

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("auth.lockout_threshold", 5)
	v.SetDefault("auth.lockout_duration", "15m")
	v.SetDefault("auth.device_limit", 3)
	v.SetDefault("auth.mfa_only_login_enabled", true)
	v.SetDefault("auth.read_retry_backoff", "50ms")
	v.SetDefault("auth.session_touch_interval", "1m")
	v.SetDefault("auth.degradation_mode", "lenient")

	v.SetDefault("mfa.issuer", "Municipal Portal")
	v.SetDefault("mfa.period", 30)
	v.SetDefault("mfa.skew", 1)
	v.SetDefault("mfa.digits", 6)
	v.SetDefault("mfa.attempt_limit", 5)
	v.SetDefault("mfa.attempt_window", "5m")
	v.SetDefault("mfa.replay_guard", true)

	v.SetDefault("encryption.current_key_id", "k1")
	v.SetDefault("encryption.current_key", "")
	v.SetDefault("encryption.previous_key_id", "")
	v.SetDefault("encryption.previous_key", "")

	v.SetDefault("pruner.enabled", true)
	v.SetDefault("pruner.interval", "24h")
	v.SetDefault("pruner.retention_days", 30)
	v.SetDefault("pruner.purge_after_days", 0)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
