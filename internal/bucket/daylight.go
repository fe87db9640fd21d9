package bucket

import (
	"time"

	"github.com/sixdouglas/suncalc"
)

// DaylightWindow is the sunrise/sunset window for a given local date and
// geographic position. Zero values mean suncalc had no sunrise/sunset for
// that date (polar day/night).
type DaylightWindow struct {
	Sunrise time.Time
	Sunset  time.Time
}

// Daylight computes the sunrise/sunset window for the local date containing
// t, at the given latitude/longitude. Grounded on sun/example/main.go's
// suncalc.GetTimes usage.
func Daylight(t time.Time, lat, lon float64) DaylightWindow {
	times := suncalc.GetTimes(t, lat, lon)
	return DaylightWindow{
		Sunrise: times["sunrise"],
		Sunset:  times["sunset"],
	}
}

// HasDaylightRemaining reports whether t falls before the sunset of its own
// local day. Used by the device plan builder to shade down price-driven
// temperature overshoot once a zone has no more daylight today.
func (w DaylightWindow) HasDaylightRemaining(t time.Time) bool {
	if w.Sunset.IsZero() {
		return true
	}
	return t.Before(w.Sunset)
}
