package ua

import (
	"fmt"
	"strconv"
	"strings"
)

// RangeDimension is one "a:b" (or single "a") bound within a NumericRange.
type RangeDimension struct {
	Min, Max uint32
	Single   bool // true when the dimension was written as a single index, not a:b
}

// NumericRange is an ordered list of per-dimension bounds used to select a
// sub-range of an array-valued attribute (§3, GLOSSARY). The textual form is
// "a:b,c:d,...".
type NumericRange []RangeDimension

// ParseNumericRange parses the textual NumericRange syntax. An empty string
// yields a nil (full-range) NumericRange. Malformed input is reported as an
// error so callers can surface BadIndexRangeInvalid (§4.4).
func ParseNumericRange(s string) (NumericRange, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	result := make(NumericRange, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("ua: empty NumericRange dimension")
		}
		bounds := strings.SplitN(part, ":", 2)
		lo, err := strconv.ParseUint(bounds[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("ua: invalid NumericRange bound %q: %w", bounds[0], err)
		}
		if len(bounds) == 1 {
			result = append(result, RangeDimension{Min: uint32(lo), Single: true})
			continue
		}
		hi, err := strconv.ParseUint(bounds[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("ua: invalid NumericRange bound %q: %w", bounds[1], err)
		}
		if hi < lo {
			return nil, fmt.Errorf("ua: NumericRange %d:%d has max before min", lo, hi)
		}
		result = append(result, RangeDimension{Min: uint32(lo), Max: uint32(hi)})
	}
	return result, nil
}

func (r NumericRange) String() string {
	parts := make([]string, len(r))
	for i, d := range r {
		if d.Single {
			parts[i] = strconv.FormatUint(uint64(d.Min), 10)
		} else {
			parts[i] = fmt.Sprintf("%d:%d", d.Min, d.Max)
		}
	}
	return strings.Join(parts, ",")
}
