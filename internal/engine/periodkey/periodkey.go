// Package periodkey derives the key of the period that follows a given one.
// Keys are persisted identifiers, so the rules below are applied in a fixed
// order.
package periodkey

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	fiscalRange  = regexp.MustCompile(`^FY(\d+)-(\d+)$`)
	fiscalYear   = regexp.MustCompile(`^FY(\d+)$`)
	numberSuffix = regexp.MustCompile(`^(.*?)(\d+)$`)
)

// NextSuffix is appended to keys that carry no number at all.
const NextSuffix = "-NEXT"

// Next returns the key after current:
//
//	FY25-26  -> FY26-27
//	FY2025   -> FY2026
//	PERIOD-7 -> PERIOD-8
//	ALPHA    -> ALPHA-NEXT
func Next(current string) string {
	key := strings.TrimSpace(current)
	if m := fiscalRange.FindStringSubmatch(key); m != nil {
		return "FY" + inc(m[1]) + "-" + inc(m[2])
	}
	if m := fiscalYear.FindStringSubmatch(key); m != nil {
		return "FY" + inc(m[1])
	}
	if m := numberSuffix.FindStringSubmatch(key); m != nil {
		return m[1] + inc(m[2])
	}
	return key + NextSuffix
}

// inc adds one to a decimal string, keeping zero padding.
func inc(digits string) string {
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		// too long for uint64; fall back to string arithmetic
		return incString(digits)
	}
	return fmt.Sprintf("%0*d", len(digits), n+1)
}

func incString(digits string) string {
	b := []byte(digits)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '9' {
			b[i]++
			return string(b)
		}
		b[i] = '0'
	}
	return "1" + string(b)
}
