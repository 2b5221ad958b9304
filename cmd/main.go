package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/l0p7/dashfeed/internal/cache"
	"github.com/l0p7/dashfeed/internal/config"
	"github.com/l0p7/dashfeed/internal/expr"
	"github.com/l0p7/dashfeed/internal/fetch"
	"github.com/l0p7/dashfeed/internal/logging"
	"github.com/l0p7/dashfeed/internal/metrics"
	"github.com/l0p7/dashfeed/internal/orchestrator"
	"github.com/l0p7/dashfeed/internal/report"
	"github.com/l0p7/dashfeed/internal/runtime"
	"github.com/l0p7/dashfeed/internal/server"
	"github.com/l0p7/dashfeed/internal/templates"
	"github.com/l0p7/dashfeed/internal/view"
)

type configLoader interface {
	Load(context.Context) (config.Config, error)
	Watch(context.Context, func(config.Config), func(error)) (configWatcher, error)
}

type configWatcher interface {
	Stop()
}

type runnableServer interface {
	Run(context.Context) error
}

// fileLoader narrows config.Loader to the interfaces run depends on.
type fileLoader struct {
	*config.Loader
}

func (l fileLoader) Watch(ctx context.Context, onChange func(config.Config), onError func(error)) (configWatcher, error) {
	return l.Loader.Watch(ctx, onChange, onError)
}

var (
	newConfigLoader = func(envPrefix, configFile string) configLoader {
		if configFile == "" {
			return fileLoader{config.NewLoader(envPrefix)}
		}
		return fileLoader{config.NewLoader(envPrefix, configFile)}
	}
	newHTTPServer = func(cfg config.ServerConfig, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
		return server.New(cfg, logger, handler)
	}
	newClock = clockwork.NewRealClock
)

func main() {
	var (
		configFile = flag.String("config", "", "path to dashboard configuration file")
		envPrefix  = flag.String("env-prefix", "DASHFEED", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := newConfigLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	clock := newClock()

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	durable := buildDurable(ctx, logger.With(slog.String("agent", "cache_factory")), cfg.Cache.Durable, clock)
	store := cache.New(cache.Options{
		TTL:       cfg.Cache.TTL(),
		KeyPrefix: cfg.Cache.KeyPrefix,
		Durable:   durable,
		Clock:     clock,
		Logger:    logger,
		Metrics:   metricsRecorder,
	})

	client, err := fetch.NewClient(fetch.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout(),
		Params: fetch.Params{
			Endpoint: cfg.API.Params.Endpoint,
			Month:    cfg.API.Params.Month,
			Year:     cfg.API.Params.Year,
		},
		Logger:  logger,
		Metrics: metricsRecorder,
		Clock:   clock,
	})
	if err != nil {
		closeStore(logger, store)
		return fmt.Errorf("build fetcher: %w", err)
	}

	exprEnv, err := expr.NewEnvironment()
	if err != nil {
		closeStore(logger, store)
		return fmt.Errorf("build expression environment: %w", err)
	}
	catalogue, err := cfg.Catalogue(exprEnv)
	if err != nil {
		closeStore(logger, store)
		return err
	}
	labels, err := templates.NewLabels(templates.NewRenderer(), cfg.Dashboard.LabelSources())
	if err != nil {
		closeStore(logger, store)
		return fmt.Errorf("compile labels: %w", err)
	}

	snapshot := view.NewSnapshot(clock)
	orch, err := orchestrator.New(orchestrator.Options{
		Catalogue:       catalogue,
		Cache:           store,
		Fetcher:         client,
		Presenter:       snapshot,
		Labels:          labels,
		Logger:          logger,
		Metrics:         metricsRecorder,
		Clock:           clock,
		Debounce:        cfg.Dashboard.Debounce(),
		RefreshInterval: cfg.RefreshInterval(),
		Initial:         orchestrator.Selection{Report: report.Type(cfg.Dashboard.DefaultReport)},
	})
	if err != nil {
		closeStore(logger, store)
		return fmt.Errorf("build orchestrator: %w", err)
	}

	dash, err := runtime.NewDashboard(logger, runtime.Options{
		Controller: orch,
		View:       snapshot,
		Cache:      store,
		Clock:      clock,
	})
	if err != nil {
		orch.Stop()
		closeStore(logger, store)
		return fmt.Errorf("build dashboard: %w", err)
	}

	// The initial load runs alongside the listener so a slow upstream does
	// not delay health checks.
	var initial sync.WaitGroup
	defer func() {
		initial.Wait()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := dash.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	if configFile != "" {
		watcher, err := loader.Watch(ctx, func(next config.Config) {
			if err := dash.Reload(next); err != nil {
				logger.Error("config reload rejected", slog.Any("error", err))
			}
		}, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start refresh loop: %w", err)
	}
	initial.Add(1)
	go func() {
		defer initial.Done()
		sel := orch.Current()
		if err := orch.LoadReport(ctx, sel.Report, sel.Period); err != nil {
			logger.Warn("initial load failed", slog.String("report", string(sel.Report)), slog.Any("error", err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsRecorder.Handler())
	mux.Handle("/", server.NewDashboardHandler(dash))

	srv, err := newHTTPServer(cfg.Server, logger, mux)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server terminated: %w", err)
	}

	logger.Info("server shutdown complete")
	return nil
}

// buildDurable opens the configured durable tier. Failures fall back to a
// memory-only cache so the dashboard still serves.
func buildDurable(ctx context.Context, logger *slog.Logger, cfg config.DurableConfig, clock clockwork.Clock) cache.Durable {
	switch backend := cfg.NormalizedBackend(); backend {
	case config.BackendNone:
		logger.Info("durable cache disabled")
		return nil
	case config.BackendSQLite:
		durable, err := cache.NewSQLite(ctx, cfg.SQLite.Path, clock.Now)
		if err != nil {
			logger.Error("sqlite cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return nil
		}
		logger.Info("using sqlite durable cache", slog.String("path", cfg.SQLite.Path))
		return durable
	case config.BackendRedis:
		durable, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return nil
		}
		logger.Info("using redis durable cache", slog.String("address", cfg.Redis.Address))
		return durable
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", backend))
		return nil
	}
}

func closeStore(logger *slog.Logger, store *cache.Store) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := store.Close(shutdownCtx); err != nil {
		logger.Error("cache shutdown failed", slog.Any("error", err))
	}
}
