package orchestrator

import (
	"encoding/json"
	"math"

	"github.com/l0p7/dashfeed/internal/report"
)

// Presenter receives view updates. Calls are serialized by the orchestrator
// and only made for the current selection.
type Presenter interface {
	OnData(t report.Type, payload json.RawMessage)
	OnCompositeData(p report.Period, composite report.Composite)
	OnLoading(progress Progress)
	OnError(message string)
	// OnUpdatedNotice follows a background refresh that changed the data.
	OnUpdatedNotice()
}

// Progress describes a loading indicator. Total of zero means the amount of
// work is unknown.
type Progress struct {
	Label     string `json:"label"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

func (p Progress) Indeterminate() bool { return p.Total <= 0 }

// Percent returns the rounded completion percentage, or 0 when indeterminate.
func (p Progress) Percent() int {
	if p.Indeterminate() {
		return 0
	}
	return int(math.Round(float64(p.Completed) / float64(p.Total) * 100))
}

type nopPresenter struct{}

func (nopPresenter) OnData(report.Type, json.RawMessage) {}
func (nopPresenter) OnCompositeData(report.Period, report.Composite) {}
func (nopPresenter) OnLoading(Progress) {}
func (nopPresenter) OnError(string) {}
func (nopPresenter) OnUpdatedNotice() {}
