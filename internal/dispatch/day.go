package dispatch

import "strings"

// Day scopes drivers, stops and route runs: one of the seven weekdays or the
// date-agnostic DayAll.
type Day string

// DayAll addresses the global scope; stop loads under it are unfiltered.
const DayAll Day = "all"

var weekdayNames = map[string]struct{}{
	"monday":    {},
	"tuesday":   {},
	"wednesday": {},
	"thursday":  {},
	"friday":    {},
	"saturday":  {},
	"sunday":    {},
}

// NormalizeDay maps raw input onto the eight allowed scope values. Matching is
// case-insensitive; anything unrecognized (including the empty string) becomes
// DayAll.
func NormalizeDay(rawInput string) Day {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if _, ok := weekdayNames[trimmed]; ok {
		return Day(trimmed)
	}
	return DayAll
}

// String returns the scope value as stored in day columns.
func (day Day) String() string {
	return string(day)
}

// CoversAllStops reports whether stop loads under this scope skip the day filter.
func (day Day) CoversAllStops() bool {
	return day == DayAll
}
