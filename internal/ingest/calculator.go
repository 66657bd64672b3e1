package ingest

import (
	"time"
)

// Sentinel cutoff codes printed in place of a date.
const (
	CutoffCurrent     = "C"
	CutoffUnavailable = "U"
)

// cutoffLayout matches cells like "01JAN15". Month names are matched case-insensitively
// and two-digit years pivot at 69 (69-99 -> 19xx, 00-68 -> 20xx).
const cutoffLayout = "2Jan06"

const daysPerYear = 365.25

// ResolveDate turns a raw cutoff cell into a date. "C" (current) resolves to the
// bulletin date itself, "U" (unavailable), empty and unparseable cells resolve to absent.
func ResolveDate(raw string, bulletinDate *time.Time) *time.Time {
	switch raw {
	case CutoffCurrent:
		if bulletinDate == nil {
			return nil
		}
		dt := *bulletinDate
		return &dt
	case CutoffUnavailable, "":
		return nil
	}

	dt, err := time.Parse(cutoffLayout, raw)
	if err != nil {
		return nil
	}
	return &dt
}

// WaitYears is the whole-day difference bulletin minus cutoff divided by 365.25.
// A cutoff later than the bulletin yields a negative value, which is kept as is.
func WaitYears(bulletinDate, cutoff *time.Time) *float64 {
	if bulletinDate == nil || cutoff == nil {
		return nil
	}
	days := wholeDays(*bulletinDate, *cutoff)
	years := float64(days) / daysPerYear
	return &years
}

// wholeDays counts calendar days between two dates, ignoring clock time and zone.
func wholeDays(a, b time.Time) int64 {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int64(da.Sub(db) / (24 * time.Hour))
}
