package orchestrator

import (
	"fmt"

	"github.com/l0p7/dashfeed/internal/report"
)

// State tracks what the current selection is showing.
type State int

const (
	NoData State = iota
	Loading
	Loaded
	LoadedFromCache
	Refreshing
	LoadedFresh
	Error
)

func (s State) String() string {
	switch s {
	case NoData:
		return "no_data"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case LoadedFromCache:
		return "loaded_from_cache"
	case Refreshing:
		return "refreshing"
	case LoadedFresh:
		return "loaded_fresh"
	case Error:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// showing reports whether the view holds data a silent refresh may replace.
func (s State) showing() bool {
	return s == Loaded || s == LoadedFromCache || s == LoadedFresh
}

// Selection is the report and period the user is looking at.
type Selection struct {
	Report report.Type   `json:"report"`
	Period report.Period `json:"period"`
}
