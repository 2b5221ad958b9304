package view

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/l0p7/dashfeed/internal/orchestrator"
	"github.com/l0p7/dashfeed/internal/report"
)

// Loading is the visible loading indicator.
type Loading struct {
	Label     string `json:"label,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
}

// View is a copy of what the dashboard currently displays.
type View struct {
	Report      report.Type      `json:"report,omitempty"`
	Period      *report.Period   `json:"period,omitempty"`
	Payload     json.RawMessage  `json:"payload,omitempty"`
	Composite   report.Composite `json:"composite,omitempty"`
	Loading     *Loading         `json:"loading,omitempty"`
	Error       string           `json:"error,omitempty"`
	Updates     int              `json:"updates"`
	LastUpdated *time.Time       `json:"lastUpdated,omitempty"`
}

// Snapshot is an orchestrator.Presenter that keeps the latest view in
// memory for the HTTP surface.
type Snapshot struct {
	clock clockwork.Clock

	mu   sync.Mutex
	view View
}

func NewSnapshot(clock clockwork.Clock) *Snapshot {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Snapshot{clock: clock}
}

var _ orchestrator.Presenter = (*Snapshot)(nil)

func (s *Snapshot) OnData(t report.Type, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Report = t
	s.view.Period = nil
	s.view.Payload = bytes.Clone(payload)
	s.view.Composite = nil
	s.view.Loading = nil
	s.view.Error = ""
	s.touch()
}

func (s *Snapshot) OnCompositeData(p report.Period, composite report.Composite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	period := p
	s.view.Report = ""
	s.view.Period = &period
	s.view.Payload = nil
	s.view.Composite = composite.Clone()
	s.view.Loading = nil
	s.view.Error = ""
	s.touch()
}

func (s *Snapshot) OnLoading(progress orchestrator.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Loading = &Loading{
		Label:     progress.Label,
		Completed: progress.Completed,
		Total:     progress.Total,
		Percent:   progress.Percent(),
	}
	s.view.Error = ""
}

func (s *Snapshot) OnError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Loading = nil
	s.view.Error = message
}

func (s *Snapshot) OnUpdatedNotice() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Updates++
}

// touch records the last update time. s.mu must be held.
func (s *Snapshot) touch() {
	now := s.clock.Now().UTC()
	s.view.LastUpdated = &now
}

// View returns a copy of the current view.
func (s *Snapshot) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.view
	out.Payload = bytes.Clone(s.view.Payload)
	out.Composite = s.view.Composite.Clone()
	if s.view.Loading != nil {
		loading := *s.view.Loading
		out.Loading = &loading
	}
	if s.view.Period != nil {
		period := *s.view.Period
		out.Period = &period
	}
	if s.view.LastUpdated != nil {
		ts := *s.view.LastUpdated
		out.LastUpdated = &ts
	}
	return out
}
