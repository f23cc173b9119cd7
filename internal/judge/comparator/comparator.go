// Package comparator decides whether a program's output matches the expected answer.
//
// Compare is pure: the same arguments always give the same verdict.
package comparator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Mode selects the comparison rule.
type Mode string

const (
	// Strict trims trailing whitespace from both sides and requires exact equality.
	Strict Mode = "strict"
	// Relaxed compares whitespace-separated tokens.
	Relaxed Mode = "relaxed"
)

// Policy is the comparison rule attached to a problem.
// Tolerances only apply in Relaxed mode; zero disables them.
type Policy struct {
	Mode         Mode    `json:"mode"`
	AbsTolerance float64 `json:"absTolerance,omitempty"`
	RelTolerance float64 `json:"relTolerance,omitempty"`
}

// ParseMode maps a stored mode name to a Mode. Empty means Strict.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", Strict:
		return Strict, nil
	case Relaxed:
		return Relaxed, nil
	default:
		return "", fmt.Errorf("unknown comparison mode: %s", raw)
	}
}

// Compare reports whether actual matches expected under policy.
func Compare(actual, expected string, policy Policy) bool {
	if policy.Mode == Relaxed {
		return relaxedEqual(actual, expected, policy)
	}
	return strictEqual(actual, expected)
}

func strictEqual(actual, expected string) bool {
	return trimRight(actual) == trimRight(expected)
}

func trimRight(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}

func relaxedEqual(actual, expected string, policy Policy) bool {
	got := strings.Fields(actual)
	want := strings.Fields(expected)
	if len(got) != len(want) {
		return false
	}
	numeric := policy.AbsTolerance > 0 || policy.RelTolerance > 0
	for i := range want {
		if got[i] == want[i] {
			continue
		}
		if !numeric || !withinTolerance(got[i], want[i], policy) {
			return false
		}
	}
	return true
}

func withinTolerance(actual, expected string, policy Policy) bool {
	a, ok := parseNumber(actual)
	if !ok {
		return false
	}
	e, ok := parseNumber(expected)
	if !ok {
		return false
	}
	diff := math.Abs(a - e)
	if policy.AbsTolerance > 0 && diff <= policy.AbsTolerance {
		return true
	}
	if policy.RelTolerance > 0 && diff <= policy.RelTolerance*math.Abs(e) {
		return true
	}
	return false
}

// parseNumber accepts finite decimal numbers only; "inf" and "nan" stay plain tokens.
func parseNumber(token string) (float64, bool) {
	v, err := strconv.ParseFloat(token, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
