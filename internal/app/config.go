package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/JulianCR82/agenda-backend/internal/auth"
	"github.com/JulianCR82/agenda-backend/internal/database"
)

// Config represents the runtime configuration for the agenda backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Reminders  RemindersConfig  `mapstructure:"reminders"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// RemindersConfig controls the background reminder scheduler.
//
// PollInterval doubles as the width of each reminder window: the scan matches
// events whose remaining minutes fall in (threshold-interval, threshold] for
// the 30m/1h/24h thresholds, so the two settings must move together or events
// can be silently skipped between passes.
type RemindersConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ScanSchedule  string        `mapstructure:"scan_schedule"`
	ResetSchedule string        `mapstructure:"reset_schedule"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// JWTServiceConfig converts configured settings into auth service configuration.
func (a AuthConfig) JWTServiceConfig() auth.JWTConfig {
	return auth.JWTConfig{
		Secret:         a.JWT.Secret,
		Issuer:         a.JWT.Issuer,
		AccessTokenTTL: a.JWT.TTL,
	}
}

// DatabaseConfig converts configured settings into database connection options.
func (d DatabaseConfig) DatabaseConfig() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(d.Driver)),
		Path:   strings.TrimSpace(d.Path),
		DSN:    strings.TrimSpace(d.DSN),
	}

	switch cfg.Driver {
	case "", "sqlite":
		cfg.Driver = "sqlite"
	case "postgres", "postgresql":
		cfg.Driver = "postgres"
		cfg.Host = strings.TrimSpace(d.Postgres.Host)
		cfg.Port = d.Postgres.Port
		cfg.Name = strings.TrimSpace(d.Postgres.Database)
		cfg.User = strings.TrimSpace(d.Postgres.Username)
		cfg.Password = d.Postgres.Password
	case "mysql", "mariadb":
		cfg.Driver = "mysql"
		cfg.Host = strings.TrimSpace(d.MySQL.Host)
		cfg.Port = d.MySQL.Port
		cfg.Name = strings.TrimSpace(d.MySQL.Database)
		cfg.User = strings.TrimSpace(d.MySQL.Username)
		cfg.Password = d.MySQL.Password
	}

	return cfg
}

// Validate checks invariants that cannot be expressed as simple defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	if c.Reminders.Enabled && c.Reminders.PollInterval <= 0 {
		return errors.New("reminders.poll_interval must be positive")
	}

	return nil
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("AGENDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/agenda.sqlite")

	v.SetDefault("auth.jwt.issuer", "agenda-backend")
	v.SetDefault("auth.jwt.access_token_ttl", "168h") // 7 days

	v.SetDefault("reminders.enabled", true)
	v.SetDefault("reminders.poll_interval", "5m")
	v.SetDefault("reminders.scan_schedule", "*/5 * * * *")
	v.SetDefault("reminders.reset_schedule", "0 2 * * *")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
