package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/l0p7/dashfeed/internal/metrics"
	"github.com/l0p7/dashfeed/internal/report"
	"github.com/l0p7/dashfeed/internal/templates"
)

// LoadReport makes (t, p) the current selection and shows it. A warm cache
// entry is shown immediately and revalidated in the background; otherwise
// the call blocks on the upstream request and returns its error.
func (o *Orchestrator) LoadReport(ctx context.Context, t report.Type, p report.Period) error {
	def, err := o.lookup(t)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	sel := Selection{Report: def.ID, Period: p}
	o.selectAndReset(sel)
	return o.load(ctx, def, sel)
}

// LoadSummary loads the summary composite for p.
func (o *Orchestrator) LoadSummary(ctx context.Context, p report.Period) error {
	return o.LoadReport(ctx, report.Summary, p)
}

func (o *Orchestrator) load(ctx context.Context, def report.Definition, sel Selection) error {
	if def.IsComposite() {
		return o.loadComposite(ctx, def, sel)
	}

	key := report.DeriveKey(def, sel.Period)
	if payload, ok := o.cache.Get(ctx, key); ok {
		o.deliver(sel, LoadedFromCache, o.showPayload(sel, def.ID, payload))
		o.goBackground(ctx, func(bg context.Context) {
			o.revalidate(bg, def, sel, payload, metrics.RefreshRevalidate)
		})
		return nil
	}
	return o.loadCold(ctx, def, sel)
}

// loadCold shows a loading indicator and waits for the network.
func (o *Orchestrator) loadCold(ctx context.Context, def report.Definition, sel Selection) error {
	label := o.currentLabels().Loading(labelData(def, sel.Period, 0, 0))
	o.deliver(sel, Loading, func(p Presenter) {
		p.OnLoading(Progress{Label: label})
	})

	payload, err := o.fetch(ctx, def, sel.Period)
	if err != nil {
		if !o.deliver(sel, Error, func(p Presenter) { p.OnError(errorMessage(err)) }) {
			o.logger.Debug("discarding failure for inactive selection",
				slog.String("report", string(def.ID)),
				slog.String("period", sel.Period.String()),
				slog.Any("error", err),
			)
		}
		return err
	}

	if !o.deliver(sel, Loaded, o.showPayload(sel, def.ID, payload)) {
		o.logger.Debug("discarding result for inactive selection",
			slog.String("report", string(def.ID)),
			slog.String("period", sel.Period.String()),
		)
	}
	return nil
}

// revalidate refetches a single report without a loading indicator and
// re-notifies the presenter only when the payload changed. Failures leave
// the view as it is.
func (o *Orchestrator) revalidate(ctx context.Context, def report.Definition, sel Selection, previous json.RawMessage, mode metrics.RefreshMode) {
	prev := o.beginRefresh(sel)

	payload, err := o.fetch(ctx, def, sel.Period)
	if err != nil {
		o.endRefresh(sel, prev)
		o.metrics.ObserveRefresh(mode, metrics.RefreshFailed)
		o.logger.Debug("background refresh failed",
			slog.String("mode", string(mode)),
			slog.String("report", string(def.ID)),
			slog.String("period", sel.Period.String()),
			slog.Any("error", err),
		)
		return
	}

	if !prev.showing() {
		// Nothing on screen to replace; the fetch already refreshed the cache.
		o.metrics.ObserveRefresh(mode, metrics.RefreshSkipped)
		return
	}
	if previous != nil && report.SamePayload(previous, payload) {
		if o.deliver(sel, LoadedFresh, nil) {
			o.metrics.ObserveRefresh(mode, metrics.RefreshUnchanged)
		} else {
			o.metrics.ObserveRefresh(mode, metrics.RefreshDiscarded)
		}
		return
	}

	delivered := o.deliver(sel, LoadedFresh, func(p Presenter) {
		o.showPayload(sel, def.ID, payload)(p)
		p.OnUpdatedNotice()
	})
	if !delivered {
		o.metrics.ObserveRefresh(mode, metrics.RefreshDiscarded)
		return
	}
	o.metrics.ObserveRefresh(mode, metrics.RefreshUpdated)
	o.logger.Info("report updated in background",
		slog.String("mode", string(mode)),
		slog.String("report", string(def.ID)),
		slog.String("period", sel.Period.String()),
	)
}

func labelData(def report.Definition, p report.Period, completed, total int) templates.LabelData {
	return templates.LabelData{
		Title:     def.Title,
		Report:    string(def.ID),
		Month:     p.Month,
		Year:      p.Year,
		Completed: completed,
		Total:     total,
	}
}
