package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/l0p7/dashfeed/internal/config"
	"github.com/l0p7/dashfeed/internal/expr"
	"github.com/l0p7/dashfeed/internal/fetch"
	"github.com/l0p7/dashfeed/internal/orchestrator"
	"github.com/l0p7/dashfeed/internal/report"
	"github.com/l0p7/dashfeed/internal/templates"
	"github.com/l0p7/dashfeed/internal/view"
)

// maxRequestBody bounds the JSON bodies accepted by the action routes.
const maxRequestBody = 64 << 10

// Controller is the orchestrator surface the dashboard drives.
type Controller interface {
	Current() orchestrator.Selection
	State() orchestrator.State
	Catalogue() *report.Catalogue
	SetCatalogue(*report.Catalogue)
	SetLabels(*templates.Labels)
	LoadReport(context.Context, report.Type, report.Period) error
	SelectReport(context.Context, report.Type) error
	SelectPeriod(report.Period) error
	Refresh(context.Context) error
	Prefetch(context.Context, report.Type) error
	Stop()
}

// Viewer exposes the presenter state rendered by the HTTP surface.
type Viewer interface {
	View() view.View
}

// Closer releases the cache tiers on shutdown.
type Closer interface {
	Close(context.Context) error
}

type Options struct {
	Controller Controller
	View       Viewer
	Cache      Closer
	Clock      clockwork.Clock
}

// Dashboard adapts one orchestrator session to HTTP.
type Dashboard struct {
	logger     *slog.Logger
	controller Controller
	view       Viewer
	cache      Closer
	clock      clockwork.Clock

	mu       sync.Mutex
	exprEnv  *expr.Environment
	renderer *templates.Renderer
	sources  []string
}

func NewDashboard(logger *slog.Logger, opts Options) (*Dashboard, error) {
	if opts.Controller == nil {
		return nil, errors.New("runtime: controller required")
	}
	if opts.View == nil {
		return nil, errors.New("runtime: view required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dashboard{
		logger:     logger.With(slog.String("agent", "dashboard")),
		controller: opts.Controller,
		view:       opts.View,
		cache:      opts.Cache,
		clock:      clock,
		renderer:   templates.NewRenderer(),
	}, nil
}

// Close stops the orchestrator and releases the cache.
func (d *Dashboard) Close(ctx context.Context) error {
	d.controller.Stop()
	if d.cache == nil {
		return nil
	}
	return d.cache.Close(ctx)
}

// Reload applies a new configuration snapshot to the running session. The
// catalogue and labels swap atomically; listener and cache settings only
// take effect after a restart.
func (d *Dashboard) Reload(cfg config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exprEnv == nil {
		env, err := expr.NewEnvironment()
		if err != nil {
			return fmt.Errorf("runtime: %w", err)
		}
		d.exprEnv = env
	}
	catalogue, err := cfg.Catalogue(d.exprEnv)
	if err != nil {
		return err
	}
	labels, err := templates.NewLabels(d.renderer, cfg.Dashboard.LabelSources())
	if err != nil {
		return fmt.Errorf("runtime: labels: %w", err)
	}
	d.controller.SetCatalogue(catalogue)
	d.controller.SetLabels(labels)
	d.sources = append([]string(nil), cfg.Sources...)
	d.logger.Info("configuration reloaded",
		slog.Int("reports", len(catalogue.Types())),
		slog.Any("sources", d.sources),
	)
	return nil
}

// ReportExists reports whether name is in the active catalogue.
func (d *Dashboard) ReportExists(name string) bool {
	_, ok := d.controller.Catalogue().Lookup(report.Type(name))
	return ok
}

type viewResponse struct {
	Selection orchestrator.Selection `json:"selection"`
	State     orchestrator.State     `json:"state"`
	View      view.View              `json:"view"`
}

func (d *Dashboard) snapshot() viewResponse {
	return viewResponse{
		Selection: d.controller.Current(),
		State:     d.controller.State(),
		View:      d.view.View(),
	}
}

// ServeView returns what the dashboard currently shows.
func (d *Dashboard) ServeView(w http.ResponseWriter, r *http.Request) {
	d.writeJSON(w, http.StatusOK, d.snapshot())
}

// ServeHealth reports liveness along with the session state.
func (d *Dashboard) ServeHealth(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	sources := append([]string(nil), d.sources...)
	d.mu.Unlock()

	current := d.view.View()
	status := map[string]any{
		"status":           "ok",
		"state":            d.controller.State(),
		"selection":        d.controller.Current(),
		"availableReports": d.reportNames(),
		"observedAt":       d.clock.Now().UTC(),
	}
	if current.LastUpdated != nil {
		status["lastUpdated"] = current.LastUpdated
	}
	if len(sources) > 0 {
		status["configSources"] = sources
	}
	d.writeJSON(w, http.StatusOK, status)
}

// ServeLoad switches to the named report. With a month/year in the query
// string the report loads for that period; otherwise the current period is
// kept and re-selecting the active report is a no-op.
func (d *Dashboard) ServeLoad(w http.ResponseWriter, r *http.Request, name string) {
	t := report.Type(name)
	period, ok, err := periodFromQuery(r)
	if err != nil {
		d.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	err = d.instrument(r.Context(), "load", name, func(ctx context.Context) error {
		if ok {
			return d.controller.LoadReport(ctx, t, period)
		}
		return d.controller.SelectReport(ctx, t)
	})
	if err != nil {
		d.writeActionError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, d.snapshot())
}

// ServeSelectPeriod records a period change. The load runs after the
// debounce window, so the response only acknowledges the new selection.
func (d *Dashboard) ServeSelectPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok, err := periodFromRequest(r)
	if err != nil {
		d.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		d.WriteError(w, http.StatusBadRequest, "month and year required")
		return
	}
	err = d.instrument(r.Context(), "select_period", period.String(), func(context.Context) error {
		return d.controller.SelectPeriod(period)
	})
	if err != nil {
		d.writeActionError(w, err)
		return
	}
	d.writeJSON(w, http.StatusAccepted, map[string]any{
		"selection": d.controller.Current(),
		"state":     d.controller.State(),
	})
}

// ServeRefresh reloads the current selection from upstream.
func (d *Dashboard) ServeRefresh(w http.ResponseWriter, r *http.Request) {
	current := d.controller.Current()
	err := d.instrument(r.Context(), "refresh", string(current.Report), d.controller.Refresh)
	if err != nil {
		d.writeActionError(w, err)
		return
	}
	d.writeJSON(w, http.StatusOK, d.snapshot())
}

// ServePrefetch warms the cache for the named report in the background.
func (d *Dashboard) ServePrefetch(w http.ResponseWriter, r *http.Request, name string) {
	err := d.instrument(r.Context(), "prefetch", name, func(ctx context.Context) error {
		return d.controller.Prefetch(ctx, report.Type(name))
	})
	if err != nil {
		d.writeActionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// WriteError emits a JSON error payload that includes the currently
// available reports.
func (d *Dashboard) WriteError(w http.ResponseWriter, status int, message string) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	payload := map[string]any{"error": message}
	if names := d.reportNames(); len(names) > 0 {
		payload["availableReports"] = names
	}
	d.writeJSON(w, status, payload)
}

func (d *Dashboard) writeActionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var fetchErr *fetch.Error
	switch {
	case errors.Is(err, orchestrator.ErrUnknownReport):
		status = http.StatusNotFound
	case errors.Is(err, report.ErrInvalidPeriod):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.As(err, &fetchErr):
		status = http.StatusBadGateway
	}
	d.WriteError(w, status, err.Error())
}

func (d *Dashboard) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		d.logger.Error("response encode failed", slog.Any("error", err))
	}
}

func (d *Dashboard) reportNames() []string {
	types := d.controller.Catalogue().Types()
	names := make([]string, 0, len(types))
	for _, t := range types {
		names = append(names, string(t))
	}
	return names
}

type periodBody struct {
	Month *int `json:"month"`
	Year  *int `json:"year"`
	Mes   *int `json:"mes"`
	Ano   *int `json:"ano"`
}

// periodFromRequest reads the period from a JSON body, falling back to the
// query string.
func periodFromRequest(r *http.Request) (report.Period, bool, error) {
	if r.Body != nil && r.Body != http.NoBody {
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			return report.Period{}, false, fmt.Errorf("read body: %w", err)
		}
		if len(raw) > 0 {
			var body periodBody
			if err := json.Unmarshal(raw, &body); err != nil {
				return report.Period{}, false, fmt.Errorf("decode body: %w", err)
			}
			month, year := firstInt(body.Month, body.Mes), firstInt(body.Year, body.Ano)
			if month != nil || year != nil {
				if month == nil || year == nil {
					return report.Period{}, false, errors.New("month and year required")
				}
				return report.Period{Month: *month, Year: *year}, true, nil
			}
		}
	}
	return periodFromQuery(r)
}

func periodFromQuery(r *http.Request) (report.Period, bool, error) {
	query := r.URL.Query()
	monthRaw := firstNonEmpty(query.Get("month"), query.Get("mes"))
	yearRaw := firstNonEmpty(query.Get("year"), query.Get("ano"))
	if monthRaw == "" && yearRaw == "" {
		return report.Period{}, false, nil
	}
	if monthRaw == "" || yearRaw == "" {
		return report.Period{}, false, errors.New("month and year required")
	}
	month, err := strconv.Atoi(monthRaw)
	if err != nil {
		return report.Period{}, false, fmt.Errorf("month %q invalid", monthRaw)
	}
	year, err := strconv.Atoi(yearRaw)
	if err != nil {
		return report.Period{}, false, fmt.Errorf("year %q invalid", yearRaw)
	}
	return report.Period{Month: month, Year: year}, true, nil
}

func firstInt(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
