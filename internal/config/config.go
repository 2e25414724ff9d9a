package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig   `mapstructure:"server"`
	Database  DatabaseConfig `mapstructure:"database"`
	Security  SecurityConfig `mapstructure:"security"`
	JWTSecret string         `mapstructure:"jwt_secret"`

	// CatalogPath points at the JSON table definitions loaded on startup.
	CatalogPath string `mapstructure:"catalog_path"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// SecurityConfig tunes the permission resolver and the cascade engine.
type SecurityConfig struct {
	// PropagationWindowS: a user created within this many seconds that has no
	// roles and no teams is assumed to still be propagating from a peer
	// instance sharing the same database.
	PropagationWindowS int `mapstructure:"propagation_window_s"`
	// RetrySleepS: how long to wait before the single re-fetch. Zero disables
	// the retry entirely; tests rely on this.
	RetrySleepS     int `mapstructure:"retry_sleep_s"`
	MaxCascadeDepth int `mapstructure:"max_cascade_depth"`
}

// PropagationWindow returns the configured window as a duration.
func (s SecurityConfig) PropagationWindow() time.Duration {
	return time.Duration(s.PropagationWindowS) * time.Second
}

// RetrySleep returns the configured retry sleep as a duration.
func (s SecurityConfig) RetrySleep() time.Duration {
	return time.Duration(s.RetrySleepS) * time.Second
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.IsSQLite() {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("database.path", "./data")
	viper.SetDefault("jwt_secret", "changeme-secret")
	viper.SetDefault("catalog_path", "./catalog.json")
	viper.SetDefault("security.propagation_window_s", 5)
	viper.SetDefault("security.retry_sleep_s", 3)
	viper.SetDefault("security.max_cascade_depth", 32)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
