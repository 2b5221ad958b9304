package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/l0p7/dashfeed/internal/metrics"
	"github.com/l0p7/dashfeed/internal/report"
)

// components resolves the definitions a composite is built from.
func (o *Orchestrator) components(def report.Definition) ([]report.Definition, error) {
	defs := make([]report.Definition, 0, len(def.Components))
	for _, id := range def.Components {
		component, err := o.lookup(id)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: %s component: %w", def.ID, err)
		}
		defs = append(defs, component)
	}
	return defs, nil
}

// warmComposite returns the composite from cache when every component is
// warm.
func (o *Orchestrator) warmComposite(ctx context.Context, defs []report.Definition, p report.Period) (report.Composite, bool) {
	composite := make(report.Composite, len(defs))
	for _, def := range defs {
		payload, ok := o.cache.Get(ctx, report.DeriveKey(def, p))
		if !ok {
			return nil, false
		}
		composite[def.ID] = payload
	}
	return composite, true
}

func (o *Orchestrator) loadComposite(ctx context.Context, def report.Definition, sel Selection) error {
	defs, err := o.components(def)
	if err != nil {
		return err
	}
	if composite, ok := o.warmComposite(ctx, defs, sel.Period); ok {
		o.deliver(sel, LoadedFromCache, o.showComposite(sel, composite))
		o.goBackground(ctx, func(bg context.Context) {
			o.revalidateComposite(bg, def, defs, sel, composite, metrics.RefreshRevalidate)
		})
		return nil
	}
	return o.loadCompositeCold(ctx, def, defs, sel, false)
}

type componentResult struct {
	payload json.RawMessage
	err     error
}

// fanOut loads every component concurrently and waits for all of them.
// settled is called once per component in arrival order.
func (o *Orchestrator) fanOut(ctx context.Context, defs []report.Definition, p report.Period, force bool, settled func(def report.Definition, done int)) map[report.Type]componentResult {
	var (
		mu      sync.Mutex
		done    int
		results = make(map[report.Type]componentResult, len(defs))
		g       errgroup.Group
	)
	for _, def := range defs {
		def := def
		g.Go(func() error {
			var (
				payload json.RawMessage
				err     error
			)
			if force {
				payload, err = o.fetch(ctx, def, p)
			} else {
				payload, err = o.cachedOrFetch(ctx, def, p)
			}

			mu.Lock()
			defer mu.Unlock()
			results[def.ID] = componentResult{payload: payload, err: err}
			done++
			if settled != nil {
				settled(def, done)
			}
			// A failed component never cancels its siblings.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// loadCompositeCold shows fan-out progress and then whatever succeeded. A
// primary failure fails the whole load.
func (o *Orchestrator) loadCompositeCold(ctx context.Context, def report.Definition, defs []report.Definition, sel Selection, force bool) error {
	labels := o.currentLabels()
	total := len(defs)
	start := labels.SummaryStart(labelData(def, sel.Period, 0, total))
	o.deliver(sel, Loading, func(p Presenter) {
		p.OnLoading(Progress{Label: start, Total: total})
	})

	results := o.fanOut(ctx, defs, sel.Period, force, func(component report.Definition, done int) {
		label := labels.ComponentDone(labelData(component, sel.Period, done, total))
		o.deliver(sel, keep, func(p Presenter) {
			p.OnLoading(Progress{Label: label, Completed: done, Total: total})
		})
	})

	composite := make(report.Composite, len(results))
	for _, component := range defs {
		res := results[component.ID]
		if res.err != nil {
			if component.ID == def.Primary {
				err := fmt.Errorf("orchestrator: %s primary %s: %w", def.ID, component.ID, res.err)
				o.deliver(sel, Error, func(p Presenter) { p.OnError(errorMessage(res.err)) })
				return err
			}
			o.logger.Warn("summary component failed",
				slog.String("report", string(component.ID)),
				slog.String("period", sel.Period.String()),
				slog.Any("error", res.err),
			)
			continue
		}
		composite[component.ID] = res.payload
	}

	if !o.deliver(sel, Loaded, o.showComposite(sel, composite)) {
		o.logger.Debug("discarding summary for inactive selection", slog.String("period", sel.Period.String()))
	}
	return nil
}

// revalidateComposite refetches every component without a loading indicator.
// Failed non-primary slots keep their previous payload; a primary failure
// abandons the refresh.
func (o *Orchestrator) revalidateComposite(ctx context.Context, def report.Definition, defs []report.Definition, sel Selection, previous report.Composite, mode metrics.RefreshMode) {
	prev := o.beginRefresh(sel)

	results := o.fanOut(ctx, defs, sel.Period, true, nil)

	fresh := make(report.Composite, len(defs))
	for _, component := range defs {
		res := results[component.ID]
		if res.err == nil {
			fresh[component.ID] = res.payload
			continue
		}
		if component.ID == def.Primary {
			o.endRefresh(sel, prev)
			o.metrics.ObserveRefresh(mode, metrics.RefreshFailed)
			o.logger.Debug("background summary refresh failed",
				slog.String("mode", string(mode)),
				slog.String("period", sel.Period.String()),
				slog.Any("error", res.err),
			)
			return
		}
		if old, ok := previous[component.ID]; ok {
			fresh[component.ID] = old
		}
	}

	if !prev.showing() {
		o.metrics.ObserveRefresh(mode, metrics.RefreshSkipped)
		return
	}
	if previous != nil && report.SameComposite(previous, fresh) {
		if o.deliver(sel, LoadedFresh, nil) {
			o.metrics.ObserveRefresh(mode, metrics.RefreshUnchanged)
		} else {
			o.metrics.ObserveRefresh(mode, metrics.RefreshDiscarded)
		}
		return
	}

	delivered := o.deliver(sel, LoadedFresh, func(p Presenter) {
		o.showComposite(sel, fresh)(p)
		p.OnUpdatedNotice()
	})
	if !delivered {
		o.metrics.ObserveRefresh(mode, metrics.RefreshDiscarded)
		return
	}
	o.metrics.ObserveRefresh(mode, metrics.RefreshUpdated)
	o.logger.Info("summary updated in background",
		slog.String("mode", string(mode)),
		slog.String("period", sel.Period.String()),
	)
}
