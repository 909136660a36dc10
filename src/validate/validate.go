// Package validate classifies an extraction result using unit suffixes encoded in
// field names.
package validate

import (
	"fmt"
	"strconv"
	"strings"

	"panel-capture/src/record"
)

// Verdict is the classification of one extraction result.
type Verdict int

const (
	Empty Verdict = iota
	Pass
	Incomplete
	OutOfRange
)

func (v Verdict) String() string {
	switch v {
	case Empty:
		return "empty"
	case Pass:
		return "pass"
	case Incomplete:
		return "incomplete"
	case OutOfRange:
		return "out-of-range"
	default:
		return "unknown"
	}
}

// Result is a verdict plus the text shown next to the record.
type Result struct {
	Verdict Verdict
	Text    string
}

var (
	// non-negative, no upper bound
	nonNegativeSuffixes = []string{"℃", "°C", "°F", "ppm", "ppb", "mg/L", "g/L", "mol/L"}
	percentSuffixes     = []string{"%"}
)

// Check validates fields in order and stops at the first violation.
func Check(fields []record.Field) Result {
	if len(fields) == 0 {
		return Result{Verdict: Empty}
	}
	for _, f := range fields {
		if f.Outcome != record.Value {
			return Result{Verdict: Incomplete, Text: fmt.Sprintf("Incomplete: %s = %s", f.Name, f.Display())}
		}
	}
	for _, f := range fields {
		n, err := strconv.ParseFloat(strings.TrimSpace(f.Text), 64)
		if err != nil {
			continue
		}
		switch {
		case hasSuffix(f.Name, nonNegativeSuffixes) && n < 0:
			return Result{Verdict: OutOfRange, Text: fmt.Sprintf("Out of range: %s = %s (must be >= 0)", f.Name, f.Text)}
		case hasSuffix(f.Name, percentSuffixes) && (n < 0 || n > 100):
			return Result{Verdict: OutOfRange, Text: fmt.Sprintf("Out of range: %s = %s (must be 0-100)", f.Name, f.Text)}
		}
	}
	return Result{Verdict: Pass, Text: "OK"}
}

func hasSuffix(name string, suffixes []string) bool {
	name = strings.TrimSpace(name)
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
