package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/l0p7/dashfeed/internal/expr"
	"github.com/l0p7/dashfeed/internal/templates"
)

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Files returns the config files the loader reads, in load order.
func (l *Loader) Files() []string {
	out := make([]string, 0, len(l.files))
	for _, path := range l.files {
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

// Load assembles the effective snapshot so the lifecycle agent can make decisions using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	var sources []string
	for _, path := range l.Files() {
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
		sources = append(sources, path)
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"api.baseurl":                    "api.baseURL",
			"api.timeoutseconds":             "api.timeoutSeconds",
			"cache.ttlseconds":               "cache.ttlSeconds",
			"cache.keyprefix":                "cache.keyPrefix",
			"cache.durable.redis.tls.cafile": "cache.durable.redis.tls.caFile",
			"dashboard.defaultreport":        "dashboard.defaultReport",
			"dashboard.debouncemillis":       "dashboard.debounceMillis",
			"dashboard.refreshseconds":       "dashboard.refreshSeconds",
			"dashboard.labels.summarystart":  "dashboard.labels.summaryStart",
			"dashboard.labels.componentdone": "dashboard.labels.componentDone",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (CACHE__DURABLE__BACKEND -> cache.durable.backend).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so TTL_SECONDS collapses into ttlseconds when callers
			// choose not to use double underscores for object nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	// Compile guards now so a bad expression fails the load instead of the
	// first request.
	exprEnv, err := expr.NewEnvironment()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.Catalogue(exprEnv); err != nil {
		return Config{}, err
	}
	if _, err := templates.NewLabels(nil, cfg.Dashboard.LabelSources()); err != nil {
		return Config{}, fmt.Errorf("config: dashboard.labels: %w", err)
	}

	cfg.Sources = sources
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported config file extension %s", ext)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
		},
		"api": map[string]any{
			"baseURL":        cfg.API.BaseURL,
			"timeoutSeconds": cfg.API.TimeoutSeconds,
			"params": map[string]any{
				"endpoint": cfg.API.Params.Endpoint,
				"month":    cfg.API.Params.Month,
				"year":     cfg.API.Params.Year,
			},
		},
		"cache": map[string]any{
			"ttlSeconds": cfg.Cache.TTLSeconds,
			"keyPrefix":  cfg.Cache.KeyPrefix,
			"durable": map[string]any{
				"backend": cfg.Cache.Durable.Backend,
				"sqlite": map[string]any{
					"path": cfg.Cache.Durable.SQLite.Path,
				},
				"redis": map[string]any{
					"address":  cfg.Cache.Durable.Redis.Address,
					"username": cfg.Cache.Durable.Redis.Username,
					"password": cfg.Cache.Durable.Redis.Password,
					"db":       cfg.Cache.Durable.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Cache.Durable.Redis.TLS.Enabled,
						"caFile":  cfg.Cache.Durable.Redis.TLS.CAFile,
					},
				},
			},
		},
		"dashboard": map[string]any{
			"defaultReport":  cfg.Dashboard.DefaultReport,
			"debounceMillis": cfg.Dashboard.DebounceMillis,
			"refreshSeconds": cfg.Dashboard.RefreshSeconds,
			"labels": map[string]any{
				"loading":       cfg.Dashboard.Labels.Loading,
				"summaryStart":  cfg.Dashboard.Labels.SummaryStart,
				"componentDone": cfg.Dashboard.Labels.ComponentDone,
			},
		},
	}
}
