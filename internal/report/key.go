package report

import "strconv"

const keySeparator = ":"

// DeriveKey computes the cache key for a report and period. Reports that do
// not vary by period collapse to their identifier. Keys are persisted by the
// durable cache tier, so the format must stay stable across releases.
func DeriveKey(def Definition, p Period) string {
	if !def.PeriodSensitive {
		return string(def.ID)
	}
	return string(def.ID) + keySeparator + strconv.Itoa(p.Month) + keySeparator + strconv.Itoa(p.Year)
}
