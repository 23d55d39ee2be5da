package core

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

var (
	numericDatePattern = regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{2,4})\b`)
	yearFirstPattern   = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	timePattern        = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*(AM|PM)?\b`)
)

// dateLayout reads year, month and day out of a regexp match
type dateLayout struct {
	name    string
	pattern *regexp.Regexp
	order   func(m []string) (year, month, day string)
}

// Tried in order; the first layout whose match is a real calendar date wins.
var dateLayouts = []dateLayout{
	{
		name:    "MM/DD/YYYY",
		pattern: numericDatePattern,
		order:   func(m []string) (string, string, string) { return m[3], m[1], m[2] },
	},
	{
		name:    "DD/MM/YYYY",
		pattern: numericDatePattern,
		order:   func(m []string) (string, string, string) { return m[3], m[2], m[1] },
	},
	{
		name:    "YYYY/MM/DD",
		pattern: yearFirstPattern,
		order:   func(m []string) (string, string, string) { return m[1], m[2], m[3] },
	},
}

// parseDate returns the first valid calendar date found in text
func parseDate(text string) (year int, month time.Month, day int, ok bool) {
	for _, layout := range dateLayouts {
		m := layout.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		y, mo, d := layout.order(m)
		year, month, day, ok = calendarDate(y, mo, d)
		if ok {
			return year, month, day, true
		}
	}
	return 0, 0, 0, false
}

func calendarDate(y, mo, d string) (int, time.Month, int, bool) {
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(mo)
	day, err3 := strconv.Atoi(d)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	if len(y) == 2 {
		year += 2000
	}
	if year < 1 || month < 1 || month > 12 || day < 1 {
		return 0, 0, 0, false
	}
	// time.Date normalizes overflow, so a round trip exposes Feb 30 and friends
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != time.Month(month) || t.Day() != day {
		return 0, 0, 0, false
	}
	return year, time.Month(month), day, true
}

// parseClock returns the first HH:MM[AM|PM] in text, or midnight when absent.
// ok is false when a time is present but out of range.
func parseClock(text string) (hour, minute int, found, ok bool) {
	m := timePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false, true
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	switch strings.ToUpper(m[3]) {
	case "PM":
		if hour < 12 {
			hour += 12
		}
	case "AM":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, true, false
	}
	return hour, minute, true, true
}

// localize interprets a wall clock reading in loc. Readings that occur twice
// (end of DST) resolve to standard time; readings that never occur (start of
// DST) are rejected.
func localize(year int, month time.Month, day, hour, minute int, loc *time.Location) (time.Time, bool) {
	wall := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)

	var candidates []time.Time
	seen := make(map[int]bool, 2)
	for _, probe := range []time.Time{wall.Add(-24 * time.Hour), wall, wall.Add(24 * time.Hour)} {
		_, offset := probe.In(loc).Zone()
		if seen[offset] {
			continue
		}
		seen[offset] = true

		t := wall.Add(-time.Duration(offset) * time.Second).In(loc)
		if sameWallClock(t, wall) {
			candidates = append(candidates, t)
		}
	}

	switch len(candidates) {
	case 0:
		return time.Time{}, false
	case 1:
		return candidates[0], true
	}
	for _, c := range candidates {
		if !c.IsDST() {
			return c, true
		}
	}
	return candidates[0], true
}

func sameWallClock(t, wall time.Time) bool {
	return t.Year() == wall.Year() && t.Month() == wall.Month() && t.Day() == wall.Day() &&
		t.Hour() == wall.Hour() && t.Minute() == wall.Minute()
}
