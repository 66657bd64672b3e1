package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var bulletinLinkRegex = regexp.MustCompile(`visa-bulletin-for-(\w+)-(\d{4})\.html$`)

var monthNames = map[string]time.Month{
	"january":   time.January,
	"february":  time.February,
	"march":     time.March,
	"april":     time.April,
	"may":       time.May,
	"june":      time.June,
	"july":      time.July,
	"august":    time.August,
	"september": time.September,
	"october":   time.October,
	"november":  time.November,
	"december":  time.December,
}

// ParseBulletinDate derives the bulletin month from a link ending in
// visa-bulletin-for-<month>-<year>.html. The day is always the 1st, in UTC.
func ParseBulletinDate(link string) (time.Time, bool) {
	matches := bulletinLinkRegex.FindStringSubmatch(link)
	if len(matches) != 3 {
		return time.Time{}, false
	}

	month, found := monthNames[strings.ToLower(matches[1])]
	if !found {
		return time.Time{}, false
	}

	year, err := strconv.Atoi(matches[2])
	if err != nil {
		return time.Time{}, false
	}

	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), true
}

// bulletinDatePtr is ParseBulletinDate returning nil when the link carries no date.
func bulletinDatePtr(link string) *time.Time {
	dt, found := ParseBulletinDate(link)
	if !found {
		return nil
	}
	return &dt
}
