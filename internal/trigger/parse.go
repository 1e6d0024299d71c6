package trigger

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"rpiweatherd/internal/gpio"
)

// ParseCode classifies a rule that could not be parsed.
type ParseCode int

const (
	ValueSyntax ParseCode = iota + 1
	UnknownValueType
	MissingOp
	UnknownOp
	MissingValue
	MalformedValue
	MissingAction
	UnknownAction
	MissingTarget
	TargetNotNumeric
	TargetMalformed
	ArgsNotNeeded
	TooManyTriggers
	FileNotFound
	ReadFailed
)

var parseMessages = map[ParseCode]string{
	ValueSyntax:      "value type must be written as %name%",
	UnknownValueType: "unknown value type",
	MissingOp:        "missing comparison operator",
	UnknownOp:        "unknown comparison operator",
	MissingValue:     "missing threshold value",
	MalformedValue:   "malformed threshold value",
	MissingAction:    "missing action",
	UnknownAction:    "unknown action",
	MissingTarget:    "missing action target",
	TargetNotNumeric: "pin target is not numeric",
	TargetMalformed:  "pin target out of range",
	ArgsNotNeeded:    "pin actions take no arguments",
	TooManyTriggers:  "too many triggers",
	FileNotFound:     "trigger file not found",
	ReadFailed:       "trigger file could not be read",
}

func (c ParseCode) String() string {
	if msg, ok := parseMessages[c]; ok {
		return msg
	}
	return fmt.Sprintf("parse code %d", int(c))
}

// ParseError reports the failing rule. Index is 1-based; zero means the
// file itself.
type ParseError struct {
	Index int
	Code  ParseCode
	Err   error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	if e.Index > 0 {
		fmt.Fprintf(&b, "parse error in rule %d: ", e.Index)
	}
	b.WriteString(e.Code.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// CodeOf returns the ParseCode carried by err, or 0.
func CodeOf(err error) ParseCode {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

// ParseFile reads the rules stored at path.
func ParseFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ParseError{Code: FileNotFound, Err: err}
		}
		return nil, &ParseError{Code: ReadFailed, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &ParseError{Code: ReadFailed, Err: err}
	}
	set, err := Parse(f)
	if err != nil {
		return nil, err
	}
	set.Path = path
	set.ModTime = info.ModTime()
	return set, nil
}

// Parse reads one rule per line until EOF or the first blank line. Lines
// starting with '#' are comments.
func Parse(r io.Reader) (*Set, error) {
	set := &Set{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if len(set.Triggers) == MaxTriggers {
			return nil, &ParseError{Index: len(set.Triggers) + 1, Code: TooManyTriggers,
				Err: fmt.Errorf("at most %d rules are allowed", MaxTriggers)}
		}
		t, code, err := ParseLine(line)
		if code != 0 {
			return nil, &ParseError{Index: len(set.Triggers) + 1, Code: code, Err: err}
		}
		set.Triggers = append(set.Triggers, t)
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Code: ReadFailed, Err: err}
	}
	return set, nil
}

// ParseLine parses a single rule of the form
//
//	%temp% >= 30f pinup 17
//	%humid% < 20% exec /usr/local/bin/notify humidity %humid%
func ParseLine(line string) (Trigger, ParseCode, error) {
	var t Trigger
	rest := line

	field, rest := nextField(rest)
	switch {
	case len(field) < 3 || field[0] != '%' || field[len(field)-1] != '%':
		return t, ValueSyntax, fmt.Errorf("%q", field)
	case field == "%temp%":
		t.Value = Temperature
	case field == "%humid%":
		t.Value = Humidity
	default:
		return t, UnknownValueType, fmt.Errorf("%q", field)
	}

	field, rest = nextField(rest)
	if field == "" {
		return t, MissingOp, nil
	}
	op, ok := opSymbols[field]
	if !ok {
		return t, UnknownOp, fmt.Errorf("%q", field)
	}
	t.Op = op

	field, rest = nextField(rest)
	if field == "" {
		return t, MissingValue, nil
	}
	threshold, unit, err := parseThreshold(field, t.Value)
	if err != nil {
		return t, MalformedValue, err
	}
	t.Threshold, t.Unit = threshold, unit

	field, rest = nextField(rest)
	if field == "" {
		return t, MissingAction, nil
	}
	switch strings.ToLower(field) {
	case "exec":
		t.Action = ActionExec
	case "pinup":
		t.Action = ActionPinUp
	case "pindown":
		t.Action = ActionPinDown
	default:
		return t, UnknownAction, fmt.Errorf("%q", field)
	}

	field, rest = nextField(rest)
	if field == "" {
		return t, MissingTarget, nil
	}
	t.Target = field
	args := strings.TrimSpace(rest)

	if t.Action == ActionExec {
		t.Args = args
		return t, 0, nil
	}
	pin, err := strconv.Atoi(field)
	if err != nil {
		return t, TargetNotNumeric, fmt.Errorf("%q", field)
	}
	if pin < 0 || pin > gpio.MaxPin {
		return t, TargetMalformed, fmt.Errorf("pin %d not in 0..%d", pin, gpio.MaxPin)
	}
	if args != "" {
		return t, ArgsNotNeeded, fmt.Errorf("%q", args)
	}
	t.Pin = pin
	return t, 0, nil
}

func parseThreshold(s string, vt ValueType) (float64, byte, error) {
	var unit byte
	switch last := s[len(s)-1]; {
	case vt == Temperature && (last == 'c' || last == 'C' || last == 'f' || last == 'F'):
		unit = last | 0x20
	case vt == Humidity && last == '%':
		unit = last
	}
	num := s
	if unit != 0 {
		num = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%q is not a number", s)
	}
	return v, unit, nil
}

func nextField(s string) (field, rest string) {
	s = strings.TrimLeft(s, " \t")
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}
