package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/l0p7/dashfeed/internal/expr"
	"github.com/l0p7/dashfeed/internal/report"
	"github.com/l0p7/dashfeed/internal/templates"
)

// Config holds every option the dashboard process reads at startup.
type Config struct {
	Server    ServerConfig            `koanf:"server"`
	API       APIConfig               `koanf:"api"`
	Cache     CacheConfig             `koanf:"cache"`
	Dashboard DashboardConfig         `koanf:"dashboard"`
	Reports   map[string]ReportConfig `koanf:"reports"`

	// Sources records the files that contributed to this snapshot.
	Sources []string `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// APIConfig points at the upstream aggregation API.
type APIConfig struct {
	BaseURL        string          `koanf:"baseURL"`
	TimeoutSeconds int             `koanf:"timeoutSeconds"`
	Params         APIParamsConfig `koanf:"params"`
}

type APIParamsConfig struct {
	Endpoint string `koanf:"endpoint"`
	Month    string `koanf:"month"`
	Year     string `koanf:"year"`
}

type CacheConfig struct {
	TTLSeconds int           `koanf:"ttlSeconds"`
	KeyPrefix  string        `koanf:"keyPrefix"`
	Durable    DurableConfig `koanf:"durable"`
}

type DurableConfig struct {
	Backend string            `koanf:"backend"`
	SQLite  SQLiteCacheConfig `koanf:"sqlite"`
	Redis   RedisCacheConfig  `koanf:"redis"`
}

type SQLiteCacheConfig struct {
	Path string `koanf:"path"`
}

type RedisCacheConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

type DashboardConfig struct {
	DefaultReport  string       `koanf:"defaultReport"`
	DebounceMillis int          `koanf:"debounceMillis"`
	RefreshSeconds int          `koanf:"refreshSeconds"`
	Labels         LabelsConfig `koanf:"labels"`
}

type LabelsConfig struct {
	Loading       string `koanf:"loading"`
	SummaryStart  string `koanf:"summaryStart"`
	ComponentDone string `koanf:"componentDone"`
}

// ReportConfig overrides or adds a catalogue entry. Unset fields keep the
// built-in values when the id already exists.
type ReportConfig struct {
	Title           string   `koanf:"title"`
	PeriodSensitive *bool    `koanf:"periodSensitive"`
	Require         string   `koanf:"require"`
	Components      []string `koanf:"components"`
	Primary         string   `koanf:"primary"`
}

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// TTL is the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// NormalizedBackend returns the durable backend name in canonical form.
func (c DurableConfig) NormalizedBackend() string {
	backend := strings.TrimSpace(strings.ToLower(c.Backend))
	if backend == "" {
		return BackendNone
	}
	return backend
}

func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c DashboardConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMillis) * time.Millisecond
}

// RefreshInterval falls back to the cache TTL when unset.
func (c Config) RefreshInterval() time.Duration {
	if c.Dashboard.RefreshSeconds > 0 {
		return time.Duration(c.Dashboard.RefreshSeconds) * time.Second
	}
	return c.Cache.TTL()
}

// ReportSpecs merges the configured reports onto the built-in catalogue.
// New ids are appended in name order.
func (c Config) ReportSpecs() []report.Spec {
	specs := report.DefaultSpecs()
	index := make(map[report.Type]int, len(specs))
	for i, spec := range specs {
		index[spec.ID] = i
	}

	names := make([]string, 0, len(c.Reports))
	for name := range c.Reports {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		override := c.Reports[name]
		id := report.Type(strings.TrimSpace(name))
		spec := report.Spec{ID: id}
		pos, exists := index[id]
		if exists {
			spec = specs[pos]
		}
		if title := strings.TrimSpace(override.Title); title != "" {
			spec.Title = title
		}
		if override.PeriodSensitive != nil {
			spec.PeriodSensitive = *override.PeriodSensitive
		}
		if req := strings.TrimSpace(override.Require); req != "" {
			spec.Require = req
		}
		if len(override.Components) > 0 {
			spec.Components = make([]report.Type, 0, len(override.Components))
			for _, component := range override.Components {
				spec.Components = append(spec.Components, report.Type(strings.TrimSpace(component)))
			}
		}
		if primary := strings.TrimSpace(override.Primary); primary != "" {
			spec.Primary = report.Type(primary)
		}
		if exists {
			specs[pos] = spec
			continue
		}
		index[id] = len(specs)
		specs = append(specs, spec)
	}
	return specs
}

// Catalogue compiles the report catalogue described by this config.
func (c Config) Catalogue(env *expr.Environment) (*report.Catalogue, error) {
	cat, err := report.NewCatalogue(env, c.ReportSpecs()...)
	if err != nil {
		return nil, fmt.Errorf("config: reports: %w", err)
	}
	if _, ok := cat.Lookup(report.Type(c.Dashboard.DefaultReport)); !ok {
		return nil, fmt.Errorf("config: dashboard.defaultReport unknown: %s", c.Dashboard.DefaultReport)
	}
	return cat, nil
}

// LabelSources adapts the label block for the templates package.
func (c DashboardConfig) LabelSources() templates.LabelSources {
	return templates.LabelSources{
		Loading:       c.Labels.Loading,
		SummaryStart:  c.Labels.SummaryStart,
		ComponentDone: c.Labels.ComponentDone,
	}
}

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}

	baseURL := strings.TrimSpace(c.API.BaseURL)
	if baseURL == "" {
		return errors.New("config: api.baseURL required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("config: api.baseURL invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("config: api.baseURL scheme unsupported: %s", parsed.Scheme)
	}
	if c.API.TimeoutSeconds < 0 {
		return fmt.Errorf("config: api.timeoutSeconds invalid: %d", c.API.TimeoutSeconds)
	}

	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("config: cache.ttlSeconds invalid: %d", c.Cache.TTLSeconds)
	}
	switch c.Cache.Durable.NormalizedBackend() {
	case BackendNone:
	case BackendSQLite:
		if strings.TrimSpace(c.Cache.Durable.SQLite.Path) == "" {
			return errors.New("config: cache.durable.sqlite.path required for sqlite backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Cache.Durable.Redis.Address) == "" {
			return errors.New("config: cache.durable.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: cache.durable.backend unsupported: %s", c.Cache.Durable.Backend)
	}

	if c.Dashboard.DebounceMillis < 0 {
		return fmt.Errorf("config: dashboard.debounceMillis invalid: %d", c.Dashboard.DebounceMillis)
	}
	if c.Dashboard.RefreshSeconds < 0 {
		return fmt.Errorf("config: dashboard.refreshSeconds invalid: %d", c.Dashboard.RefreshSeconds)
	}
	if strings.TrimSpace(c.Dashboard.DefaultReport) == "" {
		return errors.New("config: dashboard.defaultReport required")
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the design defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		API: APIConfig{
			TimeoutSeconds: 30,
			Params: APIParamsConfig{
				Endpoint: "endpoint",
				Month:    "mes",
				Year:     "ano",
			},
		},
		Cache: CacheConfig{
			TTLSeconds: 1800,
			KeyPrefix:  "dashfeed_",
			Durable: DurableConfig{
				Backend: BackendSQLite,
				SQLite:  SQLiteCacheConfig{Path: "./dashfeed-cache.db"},
			},
		},
		Dashboard: DashboardConfig{
			DefaultReport:  string(report.Summary),
			DebounceMillis: 300,
			Labels: LabelsConfig{
				Loading:       templates.DefaultLoadingLabel,
				SummaryStart:  templates.DefaultSummaryStartLabel,
				ComponentDone: templates.DefaultComponentDoneLabel,
			},
		},
	}
}
