package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"VERSION" default:"dev"`

	// StoreDriver selects the record store backend: "file", "sqlite" or "postgres".
	StoreDriver  string `envconfig:"STORE_DRIVER" default:"file"`
	DataDir      string `envconfig:"DATA_DIR" default:"./data"`
	SQLitePath   string `envconfig:"SQLITE_PATH" default:"./data/prettydl.db"`
	DatabaseURL  string `envconfig:"DATABASE_URL" default:""`
	SettingsPath string `envconfig:"SETTINGS_PATH" default:"./data/settings.yaml"`

	// RefreshStore selects where refresh tokens live: "memory" or "redis".
	RefreshStore  string `envconfig:"REFRESH_STORE" default:"memory"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	JWTSecret               string `envconfig:"JWT_SECRET_KEY" default:""`
	AccessTokenExpiry       int    `envconfig:"ACCESS_TOKEN_EXPIRY" default:"900"`
	RefreshTokenExpiry      int    `envconfig:"REFRESH_TOKEN_EXPIRY" default:"2592000"`
	ShortRefreshTokenExpiry int    `envconfig:"SHORT_REFRESH_TOKEN_EXPIRY" default:"86400"`
	TokenSweepInterval      int    `envconfig:"TOKEN_SWEEP_INTERVAL" default:"300"`

	DefaultDailyQuota   int `envconfig:"DEFAULT_DAILY_QUOTA" default:"0"`
	DefaultWeeklyQuota  int `envconfig:"DEFAULT_WEEKLY_QUOTA" default:"0"`
	DefaultMonthlyQuota int `envconfig:"DEFAULT_MONTHLY_QUOTA" default:"0"`

	RPID     string `envconfig:"RP_ID" default:"localhost"`
	RPName   string `envconfig:"RP_NAME" default:"PrettyDownloader"`
	RPOrigin string `envconfig:"RP_ORIGIN" default:"http://localhost"`

	BcryptCost         int    `envconfig:"BCRYPT_COST" default:"12"`
	BootstrapUsername  string `envconfig:"BOOTSTRAP_ADMIN_USERNAME" default:"admin"`
	BootstrapPassword  string `envconfig:"BOOTSTRAP_ADMIN_PASSWORD" default:""`
	EventRetentionDays int    `envconfig:"EVENT_RETENTION_DAYS" default:"7"`

	// DownloadsEnabled hands accepted downloads to the download client. When
	// false the download endpoint answers 503.
	DownloadsEnabled bool `envconfig:"DOWNLOADS_ENABLED" default:"false"`
}

// Load reads configuration from environment variables into a Config struct.
// A .env file in the working directory is applied first when present; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	switch cfg.StoreDriver {
	case "file", "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	switch cfg.RefreshStore {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("unsupported REFRESH_STORE %q", cfg.RefreshStore)
	}

	return &cfg, nil
}
