// Package bucket provides timezone-correct date-key and hourly-bucket
// arithmetic shared by the price service, power tracker and daily budget
// planner. All functions are pure.
package bucket

import (
	"fmt"
	"sync"
	"time"
)

// DateKeyLayout is the YYYY-MM-DD layout used for local date keys throughout
// the system.
const DateKeyLayout = "2006-01-02"

var (
	warnedZonesMu sync.Mutex
	warnedZones   = map[string]bool{}
	// WarnFunc is called at most once per distinct invalid zone string. Tests
	// may replace it to observe the warning; by default it prints to stdout.
	WarnFunc = func(msg string) { fmt.Println(msg) }
)

// Location resolves an IANA zone name, falling back to UTC and emitting a
// one-shot warning per distinct invalid zone string.
func Location(zone string) *time.Location {
	if zone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		warnedZonesMu.Lock()
		if !warnedZones[zone] {
			warnedZones[zone] = true
			warnedZonesMu.Unlock()
			WarnFunc(fmt.Sprintf("bucket: unknown zone %q, falling back to UTC: %v", zone, err))
		} else {
			warnedZonesMu.Unlock()
		}
		return time.UTC
	}
	return loc
}

// ResetWarnings clears the one-shot-per-zone warning state. Exposed for
// tests.
func ResetWarnings() {
	warnedZonesMu.Lock()
	warnedZones = map[string]bool{}
	warnedZonesMu.Unlock()
}

// DateKey returns the YYYY-MM-DD local date key for instant t in zone.
func DateKey(t time.Time, zone string) string {
	return t.In(Location(zone)).Format(DateKeyLayout)
}

// DayStart returns the first instant of the given local date key in zone,
// falling forward over DST gaps (a wall-clock midnight that does not exist
// resolves to the first instant that does).
func DayStart(dateKey string, zone string) (time.Time, error) {
	loc := Location(zone)
	d, err := time.ParseInLocation(DateKeyLayout, dateKey, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bucket: invalid date key %q: %w", dateKey, err)
	}
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	// DST spring-forward: wall midnight may not exist (rare zones), or the
	// offset can be inconsistent right at the boundary. Re-derive the date
	// key from the computed instant and, if it rolled backwards or forwards
	// a full day, nudge forward hour by hour until it matches.
	for i := 0; i < 3 && start.Format(DateKeyLayout) != dateKey; i++ {
		start = start.Add(time.Hour)
	}
	return start, nil
}

// NextDayBoundary returns the first instant of the day following dateKey in
// zone. Adding 26h and re-deriving the date key survives DST transitions
// that shift a naive +24h add onto the wrong side of midnight.
func NextDayBoundary(dateKey string, zone string) (time.Time, error) {
	start, err := DayStart(dateKey, zone)
	if err != nil {
		return time.Time{}, err
	}
	probe := start.Add(26 * time.Hour)
	nextKey := DateKey(probe, zone)
	return DayStart(nextKey, zone)
}

// TopOfHour returns the start of the clock hour containing t, in zone.
func TopOfHour(t time.Time, zone string) time.Time {
	loc := Location(zone)
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
}

// BucketsForDay returns the UTC top-of-hour instants covering the local day
// dateKey in zone. DST transitions make this 23 or 25 entries instead of the
// usual 24; callers must never assume a fixed length. Each returned instant
// is aligned to the UTC clock hour, per the bucket-key invariant in the data
// model (§3 "every bucket key is aligned to the UTC top-of-hour").
func BucketsForDay(dateKey string, zone string) ([]time.Time, error) {
	start, err := DayStart(dateKey, zone)
	if err != nil {
		return nil, err
	}
	end, err := NextDayBoundary(dateKey, zone)
	if err != nil {
		return nil, err
	}

	first := start.UTC().Truncate(time.Hour)
	if first.Before(start) {
		first = first.Add(time.Hour)
	}

	var out []time.Time
	for h := first; h.Before(end); h = h.Add(time.Hour) {
		out = append(out, h)
	}
	return out, nil
}
