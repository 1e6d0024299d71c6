package dispatch

import (
	"fmt"
	"strings"
	"time"

	"rpiweatherd/internal/utils"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05"
)

// parseDate resolves an absolute or relative date. calendar is true when
// value named a whole day and may be widened to its boundaries.
func parseDate(value string, now time.Time, loc *time.Location) (t time.Time, calendar bool, err error) {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		return t, false, fmt.Errorf("empty date")
	case v == "now":
		return now, false, nil
	case strings.HasPrefix(v, "now"):
		return offset(now, v[len("now"):])
	case v[0] == '+' || v[0] == '-':
		return offset(now, v)
	}

	if len(v) == len(dateLayout) {
		t, err = time.ParseInLocation(dateLayout, v, loc)
		if err != nil {
			return t, false, fmt.Errorf("invalid date %q", value)
		}
		return t, true, nil
	}
	v = strings.Replace(v, " ", "T", 1)
	t, err = time.ParseInLocation(dateTimeLayout, v, loc)
	if err != nil {
		return t, false, fmt.Errorf("invalid date %q", value)
	}
	return t, false, nil
}

func offset(now time.Time, s string) (time.Time, bool, error) {
	if len(s) < 2 || (s[0] != '+' && s[0] != '-') {
		return time.Time{}, false, fmt.Errorf("invalid offset %q", s)
	}
	d, err := utils.ParseUnits(s[1:])
	if err != nil || d < 0 {
		return time.Time{}, false, fmt.Errorf("invalid offset %q", s)
	}
	if s[0] == '-' {
		d = -d
	}
	return now.Add(d), false, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func dayEnd(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}
