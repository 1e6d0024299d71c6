// Package trigger parses condition/action rules and runs them against
// each new reading.
package trigger

import (
	"time"

	"rpiweatherd/internal/model"
)

// MaxTriggers bounds the rules read from one file.
const MaxTriggers = 64

// ValueType selects the measurement a rule compares.
type ValueType int

const (
	Temperature ValueType = iota
	Humidity
)

func (v ValueType) String() string {
	if v == Humidity {
		return "%humid%"
	}
	return "%temp%"
}

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

var opSymbols = map[string]Op{
	"=":  OpEq,
	"==": OpEq,
	"!=": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
}

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	default:
		return ">="
	}
}

// Compare applies the operator as "a op b".
func (o Op) Compare(a, b float64) bool {
	switch o {
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpGt:
		return a > b
	default:
		return a >= b
	}
}

// Action is what a rule does when its condition holds.
type Action int

const (
	ActionExec Action = iota
	ActionPinUp
	ActionPinDown
)

func (a Action) String() string {
	switch a {
	case ActionPinUp:
		return "pinup"
	case ActionPinDown:
		return "pindown"
	default:
		return "exec"
	}
}

// Trigger is one parsed rule.
type Trigger struct {
	Value     ValueType
	Op        Op
	Threshold float64
	// Unit is 0 when the threshold had no suffix, else 'c', 'f' or '%'.
	Unit   byte
	Action Action
	// Target is the program path for exec, the pin number otherwise.
	Target string
	Pin    int
	Args   string
}

// Matches reports whether the rule's condition holds for r.
func (t Trigger) Matches(r model.Reading) bool {
	var v float64
	switch t.Value {
	case Temperature:
		v = r.Temperature()
		if t.Unit == 'f' {
			v = model.CelsiusToFahrenheit(v)
		}
	case Humidity:
		v = r.Humidity()
	}
	return t.Op.Compare(v, t.Threshold)
}

// Set is an immutable list of rules loaded from one file version.
type Set struct {
	Triggers []Trigger
	Path     string
	ModTime  time.Time
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Triggers)
}
