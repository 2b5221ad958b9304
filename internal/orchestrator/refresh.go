package orchestrator

import (
	"context"
	"log/slog"

	"github.com/l0p7/dashfeed/internal/metrics"
	"github.com/l0p7/dashfeed/internal/report"
)

// Start launches the background refresh loop. Calling Start twice is a
// no-op.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrStopped
	}
	if o.stopLoop != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	o.stopLoop = cancel
	o.loopDone = done

	ticker := o.clock.NewTicker(o.refreshEvery)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.Chan():
				o.tick(loopCtx)
			}
		}
	}()
	o.logger.Info("background refresh started", slog.Duration("interval", o.refreshEvery))
	return nil
}

// Stop ends the refresh loop, cancels a pending debounced load and waits for
// background work. The orchestrator accepts no background work afterwards.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.cancelPendingLocked()
	stop, done := o.stopLoop, o.loopDone
	o.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	o.background.Wait()
}

// tick silently refreshes the current selection while it shows data. Ticks
// run one at a time on the loop goroutine.
func (o *Orchestrator) tick(ctx context.Context) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if !o.state.showing() {
		// Error waits for a manual retry and NoData for the next load.
		state := o.state
		o.mu.Unlock()
		o.metrics.ObserveRefresh(metrics.RefreshBackground, metrics.RefreshSkipped)
		o.logger.Debug("background refresh skipped", slog.String("state", state.String()))
		return
	}
	o.background.Add(1)
	sel := o.current
	o.mu.Unlock()
	defer o.background.Done()

	def, err := o.lookup(sel.Report)
	if err != nil {
		o.metrics.ObserveRefresh(metrics.RefreshBackground, metrics.RefreshSkipped)
		o.logger.Warn("background refresh skipped", slog.Any("error", err))
		return
	}
	o.silentRefresh(ctx, def, sel, metrics.RefreshBackground)
}

// silentRefresh invalidates the selection's keys and refetches them without
// a loading indicator, notifying only on change.
func (o *Orchestrator) silentRefresh(ctx context.Context, def report.Definition, sel Selection, mode metrics.RefreshMode) {
	payload, composite := o.lastShown(sel)
	if !def.IsComposite() {
		o.cache.Invalidate(ctx, report.DeriveKey(def, sel.Period))
		o.revalidate(ctx, def, sel, payload, mode)
		return
	}
	defs, err := o.components(def)
	if err != nil {
		o.metrics.ObserveRefresh(mode, metrics.RefreshSkipped)
		o.logger.Warn("background refresh skipped", slog.Any("error", err))
		return
	}
	for _, component := range defs {
		o.cache.Invalidate(ctx, report.DeriveKey(component, sel.Period))
	}
	o.revalidateComposite(ctx, def, defs, sel, composite, mode)
}

// Refresh drops the current selection's cached data and reloads it from
// upstream with a loading indicator.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	sel := o.Current()
	def, err := o.lookup(sel.Report)
	if err != nil {
		return err
	}

	if def.IsComposite() {
		defs, err := o.components(def)
		if err != nil {
			return err
		}
		for _, component := range defs {
			o.cache.Invalidate(ctx, report.DeriveKey(component, sel.Period))
		}
		err = o.loadCompositeCold(ctx, def, defs, sel, true)
		o.observeManual(err)
		return err
	}

	o.cache.Invalidate(ctx, report.DeriveKey(def, sel.Period))
	err = o.loadCold(ctx, def, sel)
	o.observeManual(err)
	return err
}

func (o *Orchestrator) observeManual(err error) {
	if err != nil {
		o.metrics.ObserveRefresh(metrics.RefreshManual, metrics.RefreshFailed)
		return
	}
	o.metrics.ObserveRefresh(metrics.RefreshManual, metrics.RefreshUpdated)
}

// Prefetch warms the cache for t at the current period without touching the
// presenter. Composite reports warm their components. The work runs in the
// background; only an unknown report is reported.
func (o *Orchestrator) Prefetch(ctx context.Context, t report.Type) error {
	def, err := o.lookup(t)
	if err != nil {
		return err
	}
	defs := []report.Definition{def}
	if def.IsComposite() {
		if defs, err = o.components(def); err != nil {
			return err
		}
	}
	period := o.Current().Period

	for _, target := range defs {
		target := target
		o.goBackground(ctx, func(bg context.Context) {
			o.prefetch(bg, target, period)
		})
	}
	return nil
}

func (o *Orchestrator) prefetch(ctx context.Context, def report.Definition, p report.Period) {
	if _, ok := o.cache.Get(ctx, report.DeriveKey(def, p)); ok {
		o.metrics.ObserveRefresh(metrics.RefreshPrefetch, metrics.RefreshSkipped)
		return
	}
	if _, err := o.fetch(ctx, def, p); err != nil {
		o.metrics.ObserveRefresh(metrics.RefreshPrefetch, metrics.RefreshFailed)
		o.logger.Debug("prefetch failed",
			slog.String("report", string(def.ID)),
			slog.String("period", p.String()),
			slog.Any("error", err),
		)
		return
	}
	o.metrics.ObserveRefresh(metrics.RefreshPrefetch, metrics.RefreshUpdated)
}
