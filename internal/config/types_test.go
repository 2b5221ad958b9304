package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/dashfeed/internal/expr"
	"github.com/l0p7/dashfeed/internal/report"
	"github.com/l0p7/dashfeed/internal/templates"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.API.BaseURL = "https://api.example.com/dashboard"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	valid := validConfig()
	require.NoError(t, valid.Validate())
	defaults := DefaultConfig()
	require.Error(t, defaults.Validate(), "baseURL has no default")

	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{name: "port", mutate: func(cfg *Config) { cfg.Server.Listen.Port = -1 }},
		{name: "base url scheme", mutate: func(cfg *Config) { cfg.API.BaseURL = "ftp://example.com" }},
		{name: "timeout", mutate: func(cfg *Config) { cfg.API.TimeoutSeconds = -1 }},
		{name: "ttl", mutate: func(cfg *Config) { cfg.Cache.TTLSeconds = 0 }},
		{name: "backend", mutate: func(cfg *Config) { cfg.Cache.Durable.Backend = "memcached" }},
		{name: "sqlite path", mutate: func(cfg *Config) { cfg.Cache.Durable.SQLite.Path = " " }},
		{name: "redis address", mutate: func(cfg *Config) { cfg.Cache.Durable.Backend = BackendRedis }},
		{name: "debounce", mutate: func(cfg *Config) { cfg.Dashboard.DebounceMillis = -5 }},
		{name: "refresh", mutate: func(cfg *Config) { cfg.Dashboard.RefreshSeconds = -5 }},
		{name: "default report", mutate: func(cfg *Config) { cfg.Dashboard.DefaultReport = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}

	t.Run("none backend needs nothing", func(t *testing.T) {
		cfg := validConfig()
		cfg.Cache.Durable.Backend = ""
		cfg.Cache.Durable.SQLite.Path = ""
		require.NoError(t, cfg.Validate())
		require.Equal(t, BackendNone, cfg.Cache.Durable.NormalizedBackend())
	})
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
	require.Equal(t, 8080, cfg.Server.Listen.Port)
	require.Equal(t, 30*time.Minute, cfg.Cache.TTL())
	require.Equal(t, "dashfeed_", cfg.Cache.KeyPrefix)
	require.Equal(t, BackendSQLite, cfg.Cache.Durable.NormalizedBackend())
	require.Equal(t, 30*time.Second, cfg.API.Timeout())
	require.Equal(t, 300*time.Millisecond, cfg.Dashboard.Debounce())
	require.Equal(t, 30*time.Minute, cfg.RefreshInterval(), "refresh falls back to the ttl")
	require.Equal(t, templates.DefaultLoadingLabel, cfg.Dashboard.LabelSources().Loading)

	cfg.Dashboard.RefreshSeconds = 60
	require.Equal(t, time.Minute, cfg.RefreshInterval())
}

func TestReportSpecsMergeOverrides(t *testing.T) {
	periodless := false
	cfg := validConfig()
	cfg.Reports = map[string]ReportConfig{
		"sales":   {Title: "Vendas", PeriodSensitive: &periodless},
		"churn":   {Title: "Churn", Require: "has(data.rate)"},
		"backlog": {},
		"summary": {Components: []string{"sales", "churn"}, Primary: "churn"},
	}

	specs := cfg.ReportSpecs()
	byID := map[report.Type]report.Spec{}
	for _, spec := range specs {
		byID[spec.ID] = spec
	}
	require.Equal(t, "Vendas", byID[report.Sales].Title)
	require.False(t, byID[report.Sales].PeriodSensitive)
	require.Equal(t, "has(data.rate)", byID["churn"].Require)
	require.Equal(t, []report.Type{report.Sales, "churn"}, byID[report.Summary].Components)
	require.Equal(t, report.Type("churn"), byID[report.Summary].Primary)

	require.Len(t, specs, len(report.DefaultSpecs())+2)
	require.Equal(t, report.Type("backlog"), specs[len(specs)-2].ID, "new ids are appended in name order")
	require.Equal(t, report.Type("churn"), specs[len(specs)-1].ID)

	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	cat, err := cfg.Catalogue(env)
	require.NoError(t, err)
	def, ok := cat.Lookup("backlog")
	require.True(t, ok)
	require.Equal(t, "backlog", def.Title)
}

func TestCatalogueRejectsUnknownDefault(t *testing.T) {
	cfg := validConfig()
	cfg.Dashboard.DefaultReport = "missing"
	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	_, err = cfg.Catalogue(env)
	require.ErrorContains(t, err, "defaultReport")

	cfg = validConfig()
	cfg.Reports = map[string]ReportConfig{"sales": {Require: "data.("}}
	_, err = cfg.Catalogue(env)
	require.ErrorContains(t, err, "sales guard")
}
