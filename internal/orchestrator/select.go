package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/l0p7/dashfeed/internal/report"
)

// SelectPeriod records a period selector change. The current period moves
// immediately; the load runs once the debounce window passes without another
// change, using the last period chosen. A report already showing data that
// does not vary by period keeps its view and is not reloaded.
func (o *Orchestrator) SelectPeriod(p report.Period) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrStopped
	}
	next := Selection{Report: o.current.Report, Period: p}
	if o.current.Period != p {
		if o.state != NoData && o.sameTargetLocked(o.current, next) {
			o.current = next
			o.cancelPendingLocked()
			return nil
		}
		o.current = next
		o.state = NoData
	}
	o.cancelPendingLocked()

	// The pending timer holds a background slot so Wait covers it.
	o.debounceSeq++
	seq := o.debounceSeq
	o.background.Add(1)
	o.pending = o.clock.AfterFunc(o.debounce, func() {
		defer o.background.Done()
		o.fireDebounced(seq)
	})
	return nil
}

// cancelPendingLocked stops a pending debounced load. o.mu must be held.
func (o *Orchestrator) cancelPendingLocked() {
	if o.pending == nil {
		return
	}
	if o.pending.Stop() {
		o.background.Done()
	}
	o.pending = nil
}

func (o *Orchestrator) fireDebounced(seq uint64) {
	o.mu.Lock()
	if seq != o.debounceSeq || o.pending == nil {
		// Superseded after the timer had already fired.
		o.mu.Unlock()
		return
	}
	o.pending = nil
	sel := o.current
	o.mu.Unlock()

	def, err := o.lookup(sel.Report)
	if err != nil {
		o.logger.Warn("debounced load skipped", slog.Any("error", err))
		return
	}
	if err := o.load(context.Background(), def, sel); err != nil {
		o.logger.Debug("debounced load failed",
			slog.String("report", string(sel.Report)),
			slog.String("period", sel.Period.String()),
			slog.Any("error", err),
		)
	}
}

// SelectReport switches to report t at the current period. Selecting the
// report already on screen does nothing; switching cancels a pending
// debounced load because the switch already uses the latest period.
func (o *Orchestrator) SelectReport(ctx context.Context, t report.Type) error {
	def, err := o.lookup(t)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.current.Report == def.ID && o.state != NoData {
		o.mu.Unlock()
		return nil
	}
	o.cancelPendingLocked()
	sel := Selection{Report: def.ID, Period: o.current.Period}
	if !o.sameTargetLocked(o.current, sel) {
		o.state = NoData
	}
	o.current = sel
	o.mu.Unlock()

	return o.load(ctx, def, sel)
}
