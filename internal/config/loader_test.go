package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr string
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name: "returns defaults when only the base url is set",
			setup: func(t *testing.T) []string {
				t.Setenv("DASHFEED_API__BASEURL", "https://api.example.com")
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, "https://api.example.com", cfg.API.BaseURL)
				require.Equal(t, 30*time.Minute, cfg.Cache.TTL())
				require.Empty(t, cfg.Sources)
			},
		},
		{
			name: "merges yaml overrides",
			setup: func(t *testing.T) []string {
				path := writeFile(t, t.TempDir(), "dashfeed.yaml", "api:\n  baseURL: https://yaml.example.com\nserver:\n  listen:\n    port: 9090\ncache:\n  ttlSeconds: 60\n")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, time.Minute, cfg.Cache.TTL())
				require.Equal(t, "dashfeed_", cfg.Cache.KeyPrefix, "unset keys keep defaults")
				require.Len(t, cfg.Sources, 1)
			},
		},
		{
			name: "reads json and toml",
			setup: func(t *testing.T) []string {
				dir := t.TempDir()
				jsonPath := writeFile(t, dir, "base.json", `{"api":{"baseURL":"https://json.example.com","params":{"month":"month"}}}`)
				tomlPath := writeFile(t, dir, "override.toml", "[dashboard]\ndebounceMillis = 50\n")
				return []string{jsonPath, tomlPath}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "https://json.example.com", cfg.API.BaseURL)
				require.Equal(t, "month", cfg.API.Params.Month)
				require.Equal(t, "ano", cfg.API.Params.Year)
				require.Equal(t, 50*time.Millisecond, cfg.Dashboard.Debounce())
				require.Len(t, cfg.Sources, 2)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := writeFile(t, t.TempDir(), "dashfeed.yaml", "api:\n  baseURL: https://yaml.example.com\nserver:\n  listen:\n    port: 9090\n")
				t.Setenv("DASHFEED_SERVER__LISTEN__PORT", "9091")
				t.Setenv("DASHFEED_API__BASEURL", "https://env.example.com")
				t.Setenv("DASHFEED_CACHE__KEYPREFIX", "env_")
				t.Setenv("DASHFEED_CACHE__DURABLE__BACKEND", "redis")
				t.Setenv("DASHFEED_CACHE__DURABLE__REDIS__ADDRESS", "127.0.0.1:6379")
				t.Setenv("DASHFEED_DASHBOARD__LABELS__SUMMARYSTART", "Go")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
				require.Equal(t, "https://env.example.com", cfg.API.BaseURL)
				require.Equal(t, "env_", cfg.Cache.KeyPrefix)
				require.Equal(t, BackendRedis, cfg.Cache.Durable.NormalizedBackend())
				require.Equal(t, "127.0.0.1:6379", cfg.Cache.Durable.Redis.Address)
				require.Equal(t, "Go", cfg.Dashboard.Labels.SummaryStart)
			},
		},
		{
			name: "reads report overrides",
			setup: func(t *testing.T) []string {
				contents := "api:\n  baseURL: https://api.example.com\nreports:\n  churn:\n    title: Churn\n    periodSensitive: true\n    require: has(data.rate)\n"
				return []string{writeFile(t, t.TempDir(), "dashfeed.yaml", contents)}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Contains(t, cfg.Reports, "churn")
				require.NotNil(t, cfg.Reports["churn"].PeriodSensitive)
				require.True(t, *cfg.Reports["churn"].PeriodSensitive)
			},
		},
		{
			name: "rejects a broken guard",
			setup: func(t *testing.T) []string {
				contents := "api:\n  baseURL: https://api.example.com\nreports:\n  sales:\n    require: \"data.(\"\n"
				return []string{writeFile(t, t.TempDir(), "dashfeed.yaml", contents)}
			},
			wantErr: "sales guard",
		},
		{
			name: "rejects a broken label template",
			setup: func(t *testing.T) []string {
				contents := "api:\n  baseURL: https://api.example.com\ndashboard:\n  labels:\n    loading: \"{{ .Title\"\n"
				return []string{writeFile(t, t.TempDir(), "dashfeed.yaml", contents)}
			},
			wantErr: "dashboard.labels",
		},
		{
			name: "rejects a missing file",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: "not found",
		},
		{
			name: "rejects unknown extensions",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, t.TempDir(), "dashfeed.ini", "port=1")}
			},
			wantErr: "unsupported config file extension",
		},
		{
			name: "rejects invalid values",
			setup: func(t *testing.T) []string {
				t.Setenv("DASHFEED_API__BASEURL", "https://api.example.com")
				t.Setenv("DASHFEED_CACHE__TTLSECONDS", "0")
				return nil
			},
			wantErr: "ttlSeconds",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args := tc.setup(t)
			loader := NewLoader("DASHFEED", args...)

			cfg, err := loader.Load(context.Background())
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			tc.assert(t, cfg)
		})
	}
}

func TestLoaderHonorsCancellation(t *testing.T) {
	path := writeFile(t, t.TempDir(), "dashfeed.yaml", "api:\n  baseURL: https://api.example.com\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader("DASHFEED", path).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
