package report

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidPeriod marks a month or year outside the accepted range.
var ErrInvalidPeriod = errors.New("report: invalid period")

// Period is the month/year filter applied to period-sensitive reports.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Validate rejects months outside 1-12 and non-positive years.
func (p Period) Validate() error {
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("%w: month %d out of range", ErrInvalidPeriod, p.Month)
	}
	if p.Year <= 0 {
		return fmt.Errorf("%w: year %d", ErrInvalidPeriod, p.Year)
	}
	return nil
}

func (p Period) String() string {
	return strconv.Itoa(p.Month) + "/" + strconv.Itoa(p.Year)
}
