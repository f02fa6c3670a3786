package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	Session    SessionSettings    `mapstructure:"session"`
	Tokens     TokenSettings      `mapstructure:"tokens"`
	Identity   IdentitySettings   `mapstructure:"identity"`
	Revocation RevocationSettings `mapstructure:"revocation"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	InstanceID     string   `mapstructure:"instance_id"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SessionSettings drives the session manager.
type SessionSettings struct {
	Issuer               string        `mapstructure:"issuer"`
	Audience             string        `mapstructure:"audience"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `mapstructure:"refresh_token_ttl"`
	SessionTTL           time.Duration `mapstructure:"session_ttl"`
	MaxSessionsPerUser   int           `mapstructure:"max_sessions_per_user"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	ProviderTimeout      time.Duration `mapstructure:"provider_timeout"`
	RequireVerifiedEmail bool          `mapstructure:"require_verified_email"`
	MaxDevicesPerUser    int           `mapstructure:"max_devices_per_user"`
	BlacklistMaxEntries  int           `mapstructure:"blacklist_max_entries"`
}

// TokenSettings holds signing secrets. When the per-kind secrets are blank they are derived from MasterSecret.
type TokenSettings struct {
	AccessSecret   string `mapstructure:"access_secret"`
	RefreshSecret  string `mapstructure:"refresh_secret"`
	MasterSecret   string `mapstructure:"master_secret"`
	DerivationSalt string `mapstructure:"derivation_salt"`
}

type IdentitySettings struct {
	Issuer       string        `mapstructure:"issuer"`
	Audience     string        `mapstructure:"audience"`
	KeyDirectory string        `mapstructure:"key_directory"`
	Leeway       time.Duration `mapstructure:"leeway"`
	UseDirectory bool          `mapstructure:"use_directory"`
}

// RevocationSettings selects the blacklist backend and its replication knobs.
type RevocationSettings struct {
	Backend          string        `mapstructure:"backend"`
	Broadcast        bool          `mapstructure:"broadcast"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	SnapshotTTL      time.Duration `mapstructure:"snapshot_ttl"`
	MaxEventLag      time.Duration `mapstructure:"max_event_lag"`
}

type PostgresSettings struct {
	Enabled           bool          `mapstructure:"enabled"`
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

// RedisSettings configures Redis connection, TLS and key prefixes.
type RedisSettings struct {
	Enabled         bool   `mapstructure:"enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	BlacklistPrefix string `mapstructure:"blacklist_prefix"`
	RefreshPrefix   string `mapstructure:"refresh_prefix"`
	SnapshotKey     string `mapstructure:"snapshot_key"`
}

// KafkaSettings configures the audit producer and the revocation consumer group.
type KafkaSettings struct {
	Brokers       []string `mapstructure:"brokers"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

// RateLimitSettings configures the sliding window for the token endpoints.
type RateLimitSettings struct {
	WindowDuration      time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts    int           `mapstructure:"login_max_attempts"`
	RefreshMaxAttempts  int           `mapstructure:"refresh_max_attempts"`
	ValidateMaxAttempts int           `mapstructure:"validate_max_attempts"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// Revocation backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

var envKeys = []string{
	"app.name",
	"app.env",
	"app.host",
	"app.port",
	"app.instance_id",
	"app.allowed_origins",
	"session.issuer",
	"session.audience",
	"session.access_token_ttl",
	"session.refresh_token_ttl",
	"session.session_ttl",
	"session.max_sessions_per_user",
	"session.cleanup_interval",
	"session.provider_timeout",
	"session.require_verified_email",
	"session.max_devices_per_user",
	"session.blacklist_max_entries",
	"tokens.access_secret",
	"tokens.refresh_secret",
	"tokens.master_secret",
	"tokens.derivation_salt",
	"identity.issuer",
	"identity.audience",
	"identity.key_directory",
	"identity.leeway",
	"identity.use_directory",
	"revocation.backend",
	"revocation.broadcast",
	"revocation.snapshot_interval",
	"revocation.snapshot_ttl",
	"revocation.max_event_lag",
	"postgres.enabled",
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
	"redis.enabled",
	"redis.host",
	"redis.port",
	"redis.db",
	"redis.password",
	"redis.tls_enabled",
	"redis.blacklist_prefix",
	"redis.refresh_prefix",
	"redis.snapshot_key",
	"kafka.brokers",
	"kafka.topic_prefix",
	"kafka.consumer_group",
	"telemetry.otlp_endpoint",
	"telemetry.service_name",
	"telemetry.sampling_rate",
	"rate_limit.window_duration",
	"rate_limit.login_max_attempts",
	"rate_limit.refresh_max_attempts",
	"rate_limit.validate_max_attempts",
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SESSIONS")

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

// Validate rejects configurations the session core cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Tokens.MasterSecret == "" && (c.Tokens.AccessSecret == "" || c.Tokens.RefreshSecret == "") {
		errs = append(errs, errors.New("tokens: access and refresh secrets or a master secret are required"))
	}
	if c.Tokens.AccessSecret != "" && c.Tokens.AccessSecret == c.Tokens.RefreshSecret {
		errs = append(errs, errors.New("tokens: access and refresh secrets must differ"))
	}
	if c.Session.Issuer == "" || c.Session.Audience == "" {
		errs = append(errs, errors.New("session: issuer and audience are required"))
	}
	if c.Session.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("session: access_token_ttl must be positive"))
	}
	if c.Session.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("session: refresh_token_ttl must be positive"))
	}
	if c.Session.SessionTTL <= 0 {
		errs = append(errs, errors.New("session: session_ttl must be positive"))
	}
	if c.Session.CleanupInterval <= 0 {
		errs = append(errs, errors.New("session: cleanup_interval must be positive"))
	}
	if c.Session.MaxSessionsPerUser < 1 {
		errs = append(errs, errors.New("session: max_sessions_per_user must be at least 1"))
	}

	switch c.Revocation.Backend {
	case BackendMemory:
	case BackendRedis:
		if !c.Redis.Enabled {
			errs = append(errs, errors.New("revocation: redis backend requires redis.enabled"))
		}
	case BackendPostgres:
		if !c.Postgres.Enabled {
			errs = append(errs, errors.New("revocation: postgres backend requires postgres.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("revocation: unknown backend %q", c.Revocation.Backend))
	}

	if c.Identity.UseDirectory && !c.Postgres.Enabled {
		errs = append(errs, errors.New("identity: use_directory requires postgres.enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// KafkaEnabled reports whether brokers were configured.
func (c *AppConfig) KafkaEnabled() bool {
	for _, broker := range c.Kafka.Brokers {
		if strings.TrimSpace(broker) != "" {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "academy-sessions")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.instance_id", "")
	v.SetDefault("app.allowed_origins", []string{"*"})

	v.SetDefault("session.issuer", "academy-sessions")
	v.SetDefault("session.audience", "academy-api")
	v.SetDefault("session.access_token_ttl", "15m")
	v.SetDefault("session.refresh_token_ttl", "168h")
	v.SetDefault("session.session_ttl", "168h")
	v.SetDefault("session.max_sessions_per_user", 5)
	v.SetDefault("session.cleanup_interval", "5m")
	v.SetDefault("session.provider_timeout", "3s")
	v.SetDefault("session.require_verified_email", false)
	v.SetDefault("session.max_devices_per_user", 50)
	v.SetDefault("session.blacklist_max_entries", 100000)

	v.SetDefault("tokens.derivation_salt", "academy-sessions")

	v.SetDefault("identity.issuer", "academy-identity")
	v.SetDefault("identity.audience", "academy-sessions")
	v.SetDefault("identity.key_directory", "./secrets/identity")
	v.SetDefault("identity.leeway", "30s")
	v.SetDefault("identity.use_directory", false)

	v.SetDefault("revocation.backend", BackendMemory)
	v.SetDefault("revocation.broadcast", true)
	v.SetDefault("revocation.snapshot_interval", "30s")
	v.SetDefault("revocation.snapshot_ttl", "168h")
	v.SetDefault("revocation.max_event_lag", "2s")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "sessions")
	v.SetDefault("postgres.password", "sessions_password")
	v.SetDefault("postgres.database", "academy")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.blacklist_prefix", "sessions:blacklist")
	v.SetDefault("redis.refresh_prefix", "sessions:refresh")
	v.SetDefault("redis.snapshot_key", "sessions:blacklist:snapshot")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "academy")
	v.SetDefault("kafka.consumer_group", "academy-sessions")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "academy-sessions")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 10)
	v.SetDefault("rate_limit.refresh_max_attempts", 30)
	v.SetDefault("rate_limit.validate_max_attempts", 120)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "SESSIONS_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
