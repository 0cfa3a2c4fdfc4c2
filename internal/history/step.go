package history

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultStep is the sampling step when none is given
const DefaultStep = 24 * time.Hour

// ParseStep parses "N_day", "N_hour" or "N_minute". An empty string is
// DefaultStep.
func ParseStep(s string) (time.Duration, error) {
	if s == "" {
		return DefaultStep, nil
	}

	num, unit, ok := strings.Cut(s, "_")
	if !ok {
		return 0, fmt.Errorf("step %q: want N_day, N_hour or N_minute", s)
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("step %q: count must be a positive integer", s)
	}

	switch unit {
	case "day":
		return time.Duration(n) * 24 * time.Hour, nil
	case "hour":
		return time.Duration(n) * time.Hour, nil
	case "minute":
		return time.Duration(n) * time.Minute, nil
	default:
		return 0, fmt.Errorf("step %q: unknown unit %q", s, unit)
	}
}
