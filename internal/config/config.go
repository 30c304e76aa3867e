package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/medisecure/clinic/internal/domain/scheduling"
)

// MinJWTSecretLength is the shortest HS256 secret the server accepts.
const MinJWTSecretLength = 32

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	JWTSecret     string `mapstructure:"JWT_SECRET"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTTTLMinutes int    `mapstructure:"JWT_TTL_MINUTES"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout int     `mapstructure:"REQUEST_TIMEOUT_SECONDS"`

	RabbitMQURL      string `mapstructure:"RABBITMQ_URL"`
	RabbitMQExchange string `mapstructure:"RABBITMQ_EXCHANGE"`

	OTLPEndpoint    string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelServiceName string  `mapstructure:"OTEL_SERVICE_NAME"`
	OTelSampleRatio float64 `mapstructure:"OTEL_TRACES_SAMPLE_RATIO"`

	SlotDurationMinutes int `mapstructure:"SLOT_DURATION_MINUTES"`
	BusinessDayStart    int `mapstructure:"BUSINESS_DAY_START_HOUR"`
	BusinessDayEnd      int `mapstructure:"BUSINESS_DAY_END_HOUR"`
	DoctorSnapshotLimit int `mapstructure:"DOCTOR_SNAPSHOT_LIMIT"`

	MissedSweepSchedule string `mapstructure:"MISSED_SWEEP_SCHEDULE"`
	MissedGraceMinutes  int    `mapstructure:"MISSED_GRACE_MINUTES"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"JWT_SECRET", "JWT_ISSUER", "JWT_TTL_MINUTES",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT_SECONDS",
	"RABBITMQ_URL", "RABBITMQ_EXCHANGE",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_SERVICE_NAME", "OTEL_TRACES_SAMPLE_RATIO",
	"SLOT_DURATION_MINUTES", "BUSINESS_DAY_START_HOUR", "BUSINESS_DAY_END_HOUR",
	"DOCTOR_SNAPSHOT_LIMIT", "MISSED_SWEEP_SCHEDULE", "MISSED_GRACE_MINUTES",
}

// Load reads .env (optional) and the environment. It checks only that a
// database is configured; call Validate before serving traffic.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_ISSUER", "clinic")
	v.SetDefault("JWT_TTL_MINUTES", 60)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 30)
	v.SetDefault("RABBITMQ_EXCHANGE", "clinic.events")
	v.SetDefault("OTEL_SERVICE_NAME", "clinic-server")
	v.SetDefault("OTEL_TRACES_SAMPLE_RATIO", 1.0)
	v.SetDefault("SLOT_DURATION_MINUTES", 30)
	v.SetDefault("BUSINESS_DAY_START_HOUR", 8)
	v.SetDefault("BUSINESS_DAY_END_HOUR", 18)
	v.SetDefault("DOCTOR_SNAPSHOT_LIMIT", 1000)
	v.SetDefault("MISSED_SWEEP_SCHEDULE", "*/5 * * * *")
	v.SetDefault("MISSED_GRACE_MINUTES", 15)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = splitList(cfg.CORSOrigins[0])
	} else if cfg.CORSOrigins == nil {
		cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to serve with. There is no
// built-in signing secret in any environment.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters, got %d", MinJWTSecretLength, len(c.JWTSecret))
	}
	if c.JWTTTLMinutes <= 0 {
		return fmt.Errorf("JWT_TTL_MINUTES must be positive, got %d", c.JWTTTLMinutes)
	}
	if c.SlotDurationMinutes <= 0 {
		return fmt.Errorf("SLOT_DURATION_MINUTES must be positive, got %d", c.SlotDurationMinutes)
	}
	if c.BusinessDayStart < 0 || c.BusinessDayEnd > 24 || c.BusinessDayStart >= c.BusinessDayEnd {
		return fmt.Errorf("business hours must satisfy 0 <= start < end <= 24, got %d-%d",
			c.BusinessDayStart, c.BusinessDayEnd)
	}
	if c.DoctorSnapshotLimit <= 0 {
		return fmt.Errorf("DOCTOR_SNAPSHOT_LIMIT must be positive, got %d", c.DoctorSnapshotLimit)
	}
	if c.MissedGraceMinutes < 0 {
		return fmt.Errorf("MISSED_GRACE_MINUTES must not be negative, got %d", c.MissedGraceMinutes)
	}
	return nil
}

func (c *Config) SlotConfig() scheduling.SlotConfig {
	return scheduling.SlotConfig{
		SlotMinutes:  c.SlotDurationMinutes,
		DayStartHour: c.BusinessDayStart,
		DayEndHour:   c.BusinessDayEnd,
	}
}

func (c *Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLMinutes) * time.Minute
}

func (c *Config) MissedGrace() time.Duration {
	return time.Duration(c.MissedGraceMinutes) * time.Minute
}

func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}
