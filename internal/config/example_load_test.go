package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadExampleConfigs(t *testing.T) {
	// Get the project root (config package is at internal/config)
	wd, err := os.Getwd()
	require.NoError(t, err)
	projectRoot := filepath.Join(wd, "..", "..")

	examples := []struct {
		name     string
		path     string
		validate func(t *testing.T, cfg Config)
	}{
		{
			name: "dashboard",
			path: "examples/configs/dashboard.yaml",
			validate: func(t *testing.T, cfg Config) {
				require.Equal(t, "127.0.0.1", cfg.Server.Listen.Address)
				require.Equal(t, BackendSQLite, cfg.Cache.Durable.NormalizedBackend())
				require.Equal(t, "summary", cfg.Dashboard.DefaultReport)
				require.Contains(t, cfg.Dashboard.Labels.ComponentDone, "{{ .Completed }}")
				require.Equal(t, "Reactivation by consultant", cfg.Reports["reactivation"].Title)
			},
		},
		{
			name: "redis-cache",
			path: "examples/configs/redis-cache.toml",
			validate: func(t *testing.T, cfg Config) {
				require.Equal(t, BackendRedis, cfg.Cache.Durable.NormalizedBackend())
				require.Equal(t, "redis:6379", cfg.Cache.Durable.Redis.Address)
				require.Equal(t, 2, cfg.Cache.Durable.Redis.DB)
				require.Equal(t, 15*time.Minute, cfg.Cache.TTL())
				require.Equal(t, 5*time.Minute, cfg.RefreshInterval())
			},
		},
	}

	for _, tc := range examples {
		t.Run(tc.name, func(t *testing.T) {
			configPath := filepath.Join(projectRoot, tc.path)

			loader := NewLoader("DASHFEED", configPath)
			cfg, err := loader.Load(context.Background())
			require.NoError(t, err, "Failed to load %s", tc.path)

			tc.validate(t, cfg)
		})
	}
}
