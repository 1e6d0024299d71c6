package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var unitScale = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
}

// ParseUnits parses an interval such as "30s", "15m", "1h" or "1.5d".
// Plain Go durations ("1h30m") are accepted too.
func ParseUnits(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	if scale, ok := unitScale[s[len(s)-1]]; ok {
		n, err := strconv.ParseFloat(s[:len(s)-1], 64)
		if err == nil {
			if math.IsNaN(n) || math.IsInf(n, 0) {
				return 0, fmt.Errorf("invalid interval %q", s)
			}
			return time.Duration(n * float64(scale)), nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return d, nil
}
