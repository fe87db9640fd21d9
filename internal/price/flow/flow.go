// Package flow implements the lenient flow/homey price payload parser (spec
// §4.B storeFlowPriceData, §6 "Flow-action price input", §9 "dynamic-typed
// payloads"). Input may be a JSON array of 24 numbers, a string-keyed
// mapping hour->price, and may use single quotes or trailing commas instead
// of strict JSON.
package flow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Payload is the validated result of parsing: array and object input are
// both returned as prices keyed by hour.
type Payload struct {
	PricesByHour map[int]float64
}

var trailingComma = regexp.MustCompile(`,\s*([\]}])`)

// relax rewrites single-quoted pseudo-JSON into strict JSON: converts
// single-quoted string delimiters to double quotes and strips trailing
// commas before a closing bracket/brace. It is intentionally narrow — it
// does not attempt to handle escaped quotes inside values, matching the
// "single-quote and trailing-comma re-parse" leniency named in spec §9
// rather than a general JSON5 parser.
func relax(raw string) string {
	s := raw
	// Swap single-quoted keys/strings for double-quoted ones. This assumes
	// the payload never needs an escaped quote inside a value, which holds
	// for numeric hour->price payloads.
	var b strings.Builder
	for _, r := range s {
		if r == '\'' {
			b.WriteRune('"')
		} else {
			b.WriteRune(r)
		}
	}
	s = b.String()
	s = trailingComma.ReplaceAllString(s, "$1")
	return s
}

// Parse validates and normalizes a flow/homey price payload into an
// hour-indexed map. raw may be a JSON (or lenient pseudo-JSON) array of
// numbers (index = hour) or an object mapping hour strings to numbers.
func Parse(raw string) (Payload, error) {
	candidates := []string{raw, relax(raw)}

	var lastErr error
	for _, c := range candidates {
		trimmed := strings.TrimSpace(c)
		if trimmed == "" {
			continue
		}
		switch trimmed[0] {
		case '[':
			var arr []float64
			if err := json.Unmarshal([]byte(trimmed), &arr); err != nil {
				lastErr = err
				continue
			}
			m := make(map[int]float64, len(arr))
			for i, v := range arr {
				m[i] = v
			}
			return Payload{PricesByHour: m}, nil
		case '{':
			var obj map[string]float64
			if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
				lastErr = err
				continue
			}
			m := make(map[int]float64, len(obj))
			for k, v := range obj {
				hour, err := strconv.Atoi(strings.TrimSpace(k))
				if err != nil {
					lastErr = fmt.Errorf("flow: non-numeric hour key %q: %w", k, err)
					continue
				}
				m[hour] = v
			}
			return Payload{PricesByHour: m}, nil
		default:
			lastErr = fmt.Errorf("flow: payload is neither array nor object")
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("flow: empty payload")
	}
	return Payload{}, fmt.Errorf("flow: unable to parse payload: %w", lastErr)
}

// SerializeByHour renders pricesByHour back out as a strict-JSON
// hour-keyed object, the canonical form persisted under
// flow_prices_today/_tomorrow (spec §6).
func SerializeByHour(pricesByHour map[int]float64) (string, error) {
	obj := make(map[string]float64, len(pricesByHour))
	for hour, price := range pricesByHour {
		obj[strconv.Itoa(hour)] = price
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("flow: serializing: %w", err)
	}
	return string(b), nil
}
