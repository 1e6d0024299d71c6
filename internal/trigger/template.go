package trigger

import (
	"strconv"
	"strings"

	"rpiweatherd/internal/model"
)

// MaxArgLength bounds the templated argument string.
const MaxArgLength = 2048

var placeholders = []struct {
	token string
	slot  int
}{
	{"%temp%", model.SlotTemperature},
	{"%humid%", model.SlotHumidity},
}

// templateLimit is the longest raw argument string that is still templated.
func templateLimit() int {
	n := MaxArgLength - 1
	for _, p := range placeholders {
		n -= len(p.token)
	}
	return n
}

// ExpandArgs replaces every placeholder in args with the matching value of r
// formatted to four decimals. The second result is false when args was
// returned untouched.
func ExpandArgs(args string, r model.Reading) (string, bool) {
	if !strings.Contains(args, "%") || len(args) >= templateLimit() {
		return args, false
	}
	out := args
	for _, p := range placeholders {
		out = strings.ReplaceAll(out, p.token, strconv.FormatFloat(r[p.slot], 'f', 4, 64))
	}
	if len(out) >= MaxArgLength {
		return args, false
	}
	return out, true
}
