// Package telemetry is the single owned telemetry object handed to each
// component (spec §9 "global mutable state"): structured logging, perf
// counters and the rebuild-trace ring, rather than free functions mutating
// hidden state.
package telemetry

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// Logger wraps a *log.Logger with the structured record shape from spec §6:
// category, event, numeric/string fields, with payload control characters
// filtered to printable ASCII and space.
type Logger struct {
	out      *log.Logger
	category string
}

// NewLogger wraps l (or a stdout default when nil) tagged with category.
func NewLogger(l *log.Logger, category string) *Logger {
	if l == nil {
		l = log.New(os.Stdout, "", log.LstdFlags)
	}
	return &Logger{out: l, category: category}
}

// With returns a Logger for a sub-category, e.g. price.With("spot").
func (l *Logger) With(subCategory string) *Logger {
	return &Logger{out: l.out, category: l.category + "." + subCategory}
}

func (l *Logger) record(level, category, event string, fields map[string]any) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s.%s", level, category, event)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, Sanitize(fmt.Sprintf("%v", fields[k])))
		}
	}
	l.out.Print(b.String())
}

// Debug logs a debug-level structured record.
func (l *Logger) Debug(category, event string, fields map[string]any) {
	l.record("debug", category, event, fields)
}

// Info logs an info-level structured record.
func (l *Logger) Info(category, event string, fields map[string]any) {
	l.record("info", category, event, fields)
}

// Error logs an error-level structured record.
func (l *Logger) Error(category, event string, fields map[string]any) {
	l.record("error", category, event, fields)
}

// Sanitize strips everything but printable ASCII and space from payload
// strings before they reach a log record (spec §6: "sanitized of control
// chars via a single printable-ASCII-and-space filter").
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == ' ' || (r >= 0x21 && r <= 0x7e) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
