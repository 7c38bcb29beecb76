// Package priority turns urgency, importance and complexity into a priority
// score and an urgency/importance quadrant.
package priority

import (
	"fmt"
	"math"
	"strings"
)

const (
	MinLevel = 1
	MaxLevel = 5

	// highThreshold is the lowest level counted as high on either axis.
	highThreshold = 3
)

// Clamp pins v into [MinLevel, MaxLevel].
func Clamp(v int) int {
	if v < MinLevel {
		return MinLevel
	}
	if v > MaxLevel {
		return MaxLevel
	}
	return v
}

// Score computes (urgency+importance)*(6-complexity)/5 on clamped inputs,
// rounded half-up to two decimals. Complexity damps the score.
func Score(urgency, importance, complexity int) float64 {
	u, i, c := Clamp(urgency), Clamp(importance), Clamp(complexity)
	return Round2(float64((u+i)*(6-c)) / 5)
}

// Round2 rounds half-up to two decimal places. The epsilon absorbs binary
// representation error so that 2.345 rounds to 2.35.
func Round2(v float64) float64 {
	return math.Floor(v*100+0.5+1e-9) / 100
}

type Quadrant string

const (
	Q1 Quadrant = "Q1" // do now
	Q2 Quadrant = "Q2" // plan
	Q3 Quadrant = "Q3" // delegate / quick
	Q4 Quadrant = "Q4" // defer
)

// Quadrants lists all quadrants in display order.
var Quadrants = []Quadrant{Q1, Q2, Q3, Q4}

// Classify places a request by urgency and importance. Level 3 counts as high.
func Classify(urgency, importance int) Quadrant {
	highU := urgency >= highThreshold
	highI := importance >= highThreshold
	switch {
	case highU && highI:
		return Q1
	case !highU && highI:
		return Q2
	case highU && !highI:
		return Q3
	default:
		return Q4
	}
}

// CanonicalValues returns the urgency and importance applied when a request
// is dropped into q directly.
func CanonicalValues(q Quadrant) (urgency, importance int, err error) {
	switch q {
	case Q1:
		return 4, 4, nil
	case Q2:
		return 2, 4, nil
	case Q3:
		return 4, 2, nil
	case Q4:
		return 2, 2, nil
	}
	return 0, 0, fmt.Errorf("unknown quadrant %q", string(q))
}

// ParseQuadrant accepts "Q1".."Q4" in any case.
func ParseQuadrant(s string) (Quadrant, error) {
	q := Quadrant(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Quadrants {
		if q == known {
			return q, nil
		}
	}
	return "", fmt.Errorf("unknown quadrant %q", s)
}

// Classifiable reports whether a request in status takes part in quadrant
// views. Pre-triage statuses are listed in excluded.
func Classifiable(status string, excluded []string) bool {
	for _, ex := range excluded {
		if strings.EqualFold(strings.TrimSpace(ex), status) {
			return false
		}
	}
	return true
}
