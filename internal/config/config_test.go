package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prettydl/prettydl/internal/config"
)

func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "VERSION", "STORE_DRIVER", "DATA_DIR", "DATABASE_URL",
		"REFRESH_STORE", "ACCESS_TOKEN_EXPIRY", "RP_ID", "RP_ORIGIN", "BCRYPT_COST",
		"DOWNLOADS_ENABLED", "EVENT_RETENTION_DAYS",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnvVars(t)

	cfg, err := config.Load()

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "file", cfg.StoreDriver)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "memory", cfg.RefreshStore)
	assert.Equal(t, 900, cfg.AccessTokenExpiry)
	assert.Equal(t, 2592000, cfg.RefreshTokenExpiry)
	assert.Equal(t, 86400, cfg.ShortRefreshTokenExpiry)
	assert.Equal(t, "localhost", cfg.RPID)
	assert.Equal(t, "PrettyDownloader", cfg.RPName)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.Equal(t, "admin", cfg.BootstrapUsername)
	assert.Equal(t, 7, cfg.EventRetentionDays)
	assert.False(t, cfg.DownloadsEnabled)
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		assertFn func(t *testing.T, cfg *config.Config)
	}{
		{
			name:    "custom port",
			envVars: map[string]string{"PORT": "3000"},
			assertFn: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 3000, cfg.Port)
			},
		},
		{
			name:    "sqlite driver",
			envVars: map[string]string{"STORE_DRIVER": "sqlite"},
			assertFn: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "sqlite", cfg.StoreDriver)
			},
		},
		{
			name: "postgres driver with url",
			envVars: map[string]string{
				"STORE_DRIVER": "postgres",
				"DATABASE_URL": "postgres://u:p@localhost:5432/pdl?sslmode=disable",
			},
			assertFn: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "postgres", cfg.StoreDriver)
				assert.NotEmpty(t, cfg.DatabaseURL)
			},
		},
		{
			name: "passkey relying party",
			envVars: map[string]string{
				"RP_ID":     "media.example.com",
				"RP_ORIGIN": "https://media.example.com",
			},
			assertFn: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "media.example.com", cfg.RPID)
				assert.Equal(t, "https://media.example.com", cfg.RPOrigin)
			},
		},
		{
			name:    "redis refresh store",
			envVars: map[string]string{"REFRESH_STORE": "redis"},
			assertFn: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "redis", cfg.RefreshStore)
			},
		},
		{
			name:    "downloads enabled",
			envVars: map[string]string{"DOWNLOADS_ENABLED": "true"},
			assertFn: func(t *testing.T, cfg *config.Config) {
				assert.True(t, cfg.DownloadsEnabled)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg, err := config.Load()

			require.NoError(t, err)
			tt.assertFn(t, cfg)
		})
	}
}

func TestLoad_PostgresWithoutURL(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("STORE_DRIVER", "postgres")

	cfg, err := config.Load()

	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_UnknownDrivers(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("STORE_DRIVER", "mongo")

	cfg, err := config.Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)

	clearEnvVars(t)
	t.Setenv("REFRESH_STORE", "etcd")

	cfg, err = config.Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_InvalidPort(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("PORT", "not-a-number")

	cfg, err := config.Load()

	assert.Error(t, err)
	assert.Nil(t, cfg)
}
