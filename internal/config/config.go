// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	League   LeagueConfig   `mapstructure:"league"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// LeagueConfig holds the league rules.
type LeagueConfig struct {
	// RoomCapacity is the fixed room size. Must be even; the team balancer
	// enumerates C(n, n/2) subsets, so keep it small.
	RoomCapacity int `mapstructure:"room_capacity"`
	// WinThreshold is the per-room win count that finishes a session.
	WinThreshold int `mapstructure:"win_threshold"`
	// RatingK is the spread factor of the rating model.
	RatingK float64 `mapstructure:"rating_k"`
}

// AuditConfig holds the periodic ledger audit settings.
type AuditConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the given directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Enable environment variable override
	// Environment variables use underscore separator and uppercase
	// e.g., DATABASE_HOST, LEAGUE_ROOM_CAPACITY
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional - env vars can provide all config)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK - we can use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.League.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects league rules the engine cannot run with.
func (l *LeagueConfig) Validate() error {
	if l.RoomCapacity <= 0 || l.RoomCapacity%2 != 0 {
		return fmt.Errorf("league.room_capacity must be a positive even number, got %d", l.RoomCapacity)
	}
	if l.WinThreshold < 1 {
		return fmt.Errorf("league.win_threshold must be at least 1, got %d", l.WinThreshold)
	}
	if l.RatingK <= 0 {
		return fmt.Errorf("league.rating_k must be positive, got %v", l.RatingK)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "league")
	v.SetDefault("database.name", "league")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// League rule defaults
	v.SetDefault("league.room_capacity", 8)
	v.SetDefault("league.win_threshold", 10)
	v.SetDefault("league.rating_k", 20.0)

	// Audit defaults
	v.SetDefault("audit.interval", "10m")

	// Log defaults
	v.SetDefault("log.level", "info")
}
