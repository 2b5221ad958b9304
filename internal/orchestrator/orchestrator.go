package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/l0p7/dashfeed/internal/metrics"
	"github.com/l0p7/dashfeed/internal/report"
	"github.com/l0p7/dashfeed/internal/templates"
)

const (
	DefaultDebounce        = 300 * time.Millisecond
	DefaultRefreshInterval = 30 * time.Minute
)

var (
	ErrUnknownReport = errors.New("orchestrator: unknown report")
	ErrStopped       = errors.New("orchestrator: stopped")
)

// Fetcher performs one upstream request for a report.
type Fetcher interface {
	Fetch(ctx context.Context, def report.Definition, p report.Period) (json.RawMessage, error)
}

// Cache stores payloads by derived key. Implementations absorb their own
// storage failures.
type Cache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	Set(ctx context.Context, key string, payload json.RawMessage)
	Invalidate(ctx context.Context, key string)
}

type Options struct {
	Catalogue *report.Catalogue
	Cache     Cache
	Fetcher   Fetcher
	Presenter Presenter
	Labels    *templates.Labels
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	Clock     clockwork.Clock
	// Debounce is the period selector coalescing window.
	Debounce        time.Duration
	RefreshInterval time.Duration
	// Initial is the selection before the first load. A zero period means
	// the current month.
	Initial Selection
}

// Orchestrator drives report loads for one dashboard session.
type Orchestrator struct {
	cache     Cache
	fetcher   Fetcher
	presenter Presenter
	logger    *slog.Logger
	metrics   *metrics.Recorder
	clock     clockwork.Clock

	debounce     time.Duration
	refreshEvery time.Duration

	flights singleflight.Group

	mu          sync.Mutex
	catalogue   *report.Catalogue
	labels      *templates.Labels
	current     Selection
	state       State
	pending     clockwork.Timer
	debounceSeq uint64
	stopLoop    context.CancelFunc
	loopDone    chan struct{}
	closed      bool

	// presentMu serializes presenter calls and guards shown.
	presentMu sync.Mutex
	shown     shownView

	background sync.WaitGroup
}

// shownView is the last payload handed to the presenter.
type shownView struct {
	sel       Selection
	payload   json.RawMessage
	composite report.Composite
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Catalogue == nil {
		return nil, errors.New("orchestrator: catalogue required")
	}
	if opts.Cache == nil {
		return nil, errors.New("orchestrator: cache required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("orchestrator: fetcher required")
	}
	presenter := opts.Presenter
	if presenter == nil {
		presenter = nopPresenter{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	labels := opts.Labels
	if labels == nil {
		labels = templates.DefaultLabels()
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	refreshEvery := opts.RefreshInterval
	if refreshEvery <= 0 {
		refreshEvery = DefaultRefreshInterval
	}

	initial := opts.Initial
	if initial.Report == "" {
		initial.Report = report.Summary
	}
	if _, ok := opts.Catalogue.Lookup(initial.Report); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReport, initial.Report)
	}
	if initial.Period == (report.Period{}) {
		initial.Period = report.PeriodOf(clock.Now())
	}
	if err := initial.Period.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: initial period: %w", err)
	}

	return &Orchestrator{
		cache:        opts.Cache,
		fetcher:      opts.Fetcher,
		presenter:    presenter,
		logger:       logger.With(slog.String("agent", "orchestrator")),
		metrics:      opts.Metrics,
		clock:        clock,
		debounce:     debounce,
		refreshEvery: refreshEvery,
		catalogue:    opts.Catalogue,
		labels:       labels,
		current:      initial,
		state:        NoData,
	}, nil
}

// Current returns the active selection.
func (o *Orchestrator) Current() Selection {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// State returns the state of the active selection.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Catalogue returns the report catalogue in use.
func (o *Orchestrator) Catalogue() *report.Catalogue {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.catalogue
}

// SetCatalogue swaps the report catalogue, for configuration reloads. The
// current selection keeps its report even when the new catalogue lacks it;
// the next load for it reports ErrUnknownReport.
func (o *Orchestrator) SetCatalogue(c *report.Catalogue) {
	if c == nil {
		return
	}
	o.mu.Lock()
	o.catalogue = c
	o.mu.Unlock()
}

func (o *Orchestrator) SetLabels(l *templates.Labels) {
	if l == nil {
		return
	}
	o.mu.Lock()
	o.labels = l
	o.mu.Unlock()
}

// Wait blocks until background work, including a pending debounced load,
// has finished.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}

func (o *Orchestrator) lookup(t report.Type) (report.Definition, error) {
	o.mu.Lock()
	cat := o.catalogue
	o.mu.Unlock()
	def, ok := cat.Lookup(t)
	if !ok {
		return report.Definition{}, fmt.Errorf("%w: %s", ErrUnknownReport, t)
	}
	return def, nil
}

func (o *Orchestrator) currentLabels() *templates.Labels {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.labels
}

// selectAndReset makes sel current. Switching to a selection that shows
// different data resets its state.
func (o *Orchestrator) selectAndReset(sel Selection) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.sameTargetLocked(o.current, sel) {
		o.state = NoData
	}
	o.current = sel
}

// sameTargetLocked reports whether a and b resolve to the same data. Plain
// reports that ignore the period match across periods. o.mu must be held.
func (o *Orchestrator) sameTargetLocked(a, b Selection) bool {
	if a.Report != b.Report {
		return false
	}
	if a.Period == b.Period {
		return true
	}
	def, ok := o.catalogue.Lookup(a.Report)
	if !ok || def.IsComposite() {
		return false
	}
	return report.DeriveKey(def, a.Period) == report.DeriveKey(def, b.Period)
}

// keep is passed to deliver to leave the state untouched.
const keep State = -1

// deliver hands an update to the presenter if sel is still current, moving
// the selection to next. It reports whether the update was delivered.
func (o *Orchestrator) deliver(sel Selection, next State, fn func(Presenter)) bool {
	o.presentMu.Lock()
	defer o.presentMu.Unlock()

	o.mu.Lock()
	if !o.sameTargetLocked(o.current, sel) {
		o.mu.Unlock()
		return false
	}
	if next != keep {
		o.state = next
	}
	o.mu.Unlock()

	if fn != nil {
		fn(o.presenter)
	}
	return true
}

// beginRefresh moves a selection that is showing data into Refreshing and
// returns the state to restore if the refresh fails.
func (o *Orchestrator) beginRefresh(sel Selection) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.sameTargetLocked(o.current, sel) {
		return keep
	}
	prev := o.state
	if prev.showing() {
		o.state = Refreshing
	}
	return prev
}

// endRefresh restores prev after a failed refresh unless something else
// already moved the state on.
func (o *Orchestrator) endRefresh(sel Selection, prev State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sameTargetLocked(o.current, sel) && o.state == Refreshing && prev != keep {
		o.state = prev
	}
}

func (o *Orchestrator) showPayload(sel Selection, t report.Type, payload json.RawMessage) func(Presenter) {
	return func(p Presenter) {
		o.shown = shownView{sel: sel, payload: payload}
		p.OnData(t, bytes.Clone(payload))
	}
}

func (o *Orchestrator) showComposite(sel Selection, composite report.Composite) func(Presenter) {
	return func(p Presenter) {
		o.shown = shownView{sel: sel, composite: composite}
		p.OnCompositeData(sel.Period, composite.Clone())
	}
}

// lastShown returns what the presenter last displayed for sel.
func (o *Orchestrator) lastShown(sel Selection) (json.RawMessage, report.Composite) {
	o.presentMu.Lock()
	defer o.presentMu.Unlock()
	o.mu.Lock()
	same := o.sameTargetLocked(o.shown.sel, sel)
	o.mu.Unlock()
	if !same {
		return nil, nil
	}
	return o.shown.payload, o.shown.composite.Clone()
}

// fetch requests def from upstream, sharing the request with any concurrent
// caller for the same key, and caches a successful result. The request
// outlives the caller's cancellation so joined callers are not affected.
func (o *Orchestrator) fetch(ctx context.Context, def report.Definition, p report.Period) (json.RawMessage, error) {
	key := report.DeriveKey(def, p)
	detached := context.WithoutCancel(ctx)
	v, err, shared := o.flights.Do(key, func() (any, error) {
		payload, err := o.fetcher.Fetch(detached, def, p)
		if err != nil {
			return nil, err
		}
		o.cache.Set(detached, key, payload)
		return payload, nil
	})
	if shared {
		o.metrics.ObserveDeduplicated(string(def.ID))
	}
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.(json.RawMessage)), nil
}

// cachedOrFetch serves key from the cache when warm.
func (o *Orchestrator) cachedOrFetch(ctx context.Context, def report.Definition, p report.Period) (json.RawMessage, error) {
	if payload, ok := o.cache.Get(ctx, report.DeriveKey(def, p)); ok {
		return payload, nil
	}
	return o.fetch(ctx, def, p)
}

// goBackground runs fn detached from the caller's cancellation. It returns
// false once the orchestrator is stopped.
func (o *Orchestrator) goBackground(ctx context.Context, fn func(context.Context)) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.background.Add(1)
	o.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	go func() {
		defer o.background.Done()
		fn(detached)
	}()
	return true
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
