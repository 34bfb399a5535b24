package curve

import (
	"sort"
	"time"

	"treasury-desk/internal/clock"
)

// Select picks the latest record dated on or before target. When target
// predates every record, the chronologically latest record is returned
// instead. ok is false only for empty input. records is not modified.
func Select(records []Record, target time.Time) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	day := clock.DateOf(target)
	for i := len(sorted) - 1; i >= 0; i-- {
		if !sorted[i].Date.After(day) {
			return sorted[i], true
		}
	}
	return sorted[len(sorted)-1], true
}
