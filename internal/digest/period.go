// Package digest implements the weekly certification digest engine:
// expiry selection, bucketing, report rendering and idempotent delivery
// keyed by ISO week.
package digest

import (
	"fmt"
	"time"
)

// PeriodKey derives the dedup key for the ISO week containing now, e.g.
// "2026-W07". ISO week numbering is used instead of the calendar year so
// the key does not drift at year boundaries; near Jan 1 the ISO week
// year can differ from the calendar year.
func PeriodKey(now time.Time) string {
	year, week := now.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// NotificationType encodes the window length, e.g. "Digest:60days".
// Each configured window gets its own type so two window configurations
// never suppress each other's weekly send.
func NotificationType(windowDays int) string {
	return fmt.Sprintf("Digest:%ddays", windowDays)
}
