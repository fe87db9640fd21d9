package bucket

import (
	"testing"
	"time"
)

func TestDateKeyAndDayStart(t *testing.T) {
	loc := "Europe/Oslo"
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	key := DateKey(now, loc)
	if key != "2026-03-01" {
		t.Fatalf("unexpected date key: %s", key)
	}

	start, err := DayStart(key, loc)
	if err != nil {
		t.Fatalf("DayStart: %v", err)
	}
	if DateKey(start, loc) != key {
		t.Fatalf("DayStart produced instant outside its own date key: %v", start)
	}
}

func TestNextDayBoundarySurvivesDST(t *testing.T) {
	loc := "Europe/Oslo"
	// 2026-03-29 is the spring-forward transition in Europe/Oslo (23h day).
	boundary, err := NextDayBoundary("2026-03-29", loc)
	if err != nil {
		t.Fatalf("NextDayBoundary: %v", err)
	}
	if DateKey(boundary, loc) != "2026-03-30" {
		t.Fatalf("expected boundary to land on 2026-03-30, got %s", DateKey(boundary, loc))
	}
}

func TestBucketsForDayDSTLengths(t *testing.T) {
	loc := "Europe/Oslo"

	short, err := BucketsForDay("2026-03-29", loc) // spring forward -> 23h
	if err != nil {
		t.Fatalf("BucketsForDay: %v", err)
	}
	if len(short) != 23 {
		t.Fatalf("expected 23 buckets on spring-forward day, got %d", len(short))
	}

	long, err := BucketsForDay("2026-10-25", loc) // fall back -> 25h
	if err != nil {
		t.Fatalf("BucketsForDay: %v", err)
	}
	if len(long) != 25 {
		t.Fatalf("expected 25 buckets on fall-back day, got %d", len(long))
	}

	normal, err := BucketsForDay("2026-06-15", loc)
	if err != nil {
		t.Fatalf("BucketsForDay: %v", err)
	}
	if len(normal) != 24 {
		t.Fatalf("expected 24 buckets on a normal day, got %d", len(normal))
	}
}

func TestTopOfHour(t *testing.T) {
	now := time.Date(2026, 1, 1, 14, 45, 30, 0, time.UTC)
	top := TopOfHour(now, "UTC")
	if top.Minute() != 0 || top.Second() != 0 || top.Hour() != 14 {
		t.Fatalf("unexpected top of hour: %v", top)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	ResetWarnings()
	warned := false
	old := WarnFunc
	WarnFunc = func(string) { warned = true }
	defer func() { WarnFunc = old }()

	loc := Location("Not/AZone")
	if loc != time.UTC {
		t.Fatalf("expected UTC fallback")
	}
	if !warned {
		t.Fatalf("expected a one-shot warning on invalid zone")
	}

	warned = false
	Location("Not/AZone")
	if warned {
		t.Fatalf("expected warning to fire only once per distinct zone string")
	}
}
