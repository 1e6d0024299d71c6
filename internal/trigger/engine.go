package trigger

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"rpiweatherd/internal/gpio"
	"rpiweatherd/internal/metrics"
	"rpiweatherd/internal/model"
)

// Engine owns the active rule set and runs it against readings.
type Engine struct {
	active atomic.Pointer[Set]

	mu      sync.Mutex
	path    string
	lastMod time.Time

	pins    gpio.Driver
	runner  Runner
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewEngine creates an engine with an empty rule set. Call Load to read path.
func NewEngine(path string, pins gpio.Driver, runner Runner, log logrus.FieldLogger, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.New(nil)
	}
	e := &Engine{
		path:    path,
		pins:    pins,
		runner:  runner,
		log:     log.WithField("component", "trigger"),
		metrics: m,
	}
	e.active.Store(&Set{})
	return e
}

// Active returns the current rule set.
func (e *Engine) Active() *Set { return e.active.Load() }

// Path returns the rule file the engine watches.
func (e *Engine) Path() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.path
}

// SetPath points the engine at another file and forgets the last load time.
func (e *Engine) SetPath(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if path != e.path {
		e.path = path
		e.lastMod = time.Time{}
	}
}

// SetRunner replaces the program runner used by exec rules.
func (e *Engine) SetRunner(r Runner) {
	e.mu.Lock()
	e.runner = r
	e.mu.Unlock()
}

// Load parses the rule file and replaces the active set. On failure the
// previous set stays active.
func (e *Engine) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked()
}

func (e *Engine) loadLocked() error {
	set, err := ParseFile(e.path)
	if err != nil {
		e.metrics.TriggerReloads.WithLabelValues("error").Inc()
		if info, statErr := os.Stat(e.path); statErr == nil {
			// an unchanged broken file is not parsed again
			e.lastMod = info.ModTime()
		}
		return err
	}
	e.active.Store(set)
	e.lastMod = set.ModTime
	e.metrics.TriggerReloads.WithLabelValues("ok").Inc()
	e.log.Infof("loaded %d triggers from %s", set.Len(), e.path)
	return nil
}

// CheckReload reloads the rule file when its modification time moved past
// the last load. It reports whether a reload was attempted.
func (e *Engine) CheckReload() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, err := os.Stat(e.path)
	if err != nil {
		return false, &ParseError{Code: FileNotFound, Err: err}
	}
	if !info.ModTime().After(e.lastMod) {
		return false, nil
	}
	return true, e.loadLocked()
}

// Evaluate runs every rule of the active set against r in order. Actions
// run synchronously and a failing action does not stop later rules.
func (e *Engine) Evaluate(ctx context.Context, r model.Reading) {
	if _, err := e.CheckReload(); err != nil {
		e.log.Errorf("reload triggers: %v", err)
	}
	set := e.Active()
	for i, t := range set.Triggers {
		if ctx.Err() != nil {
			return
		}
		if !t.Matches(r) {
			continue
		}
		err := e.fire(ctx, t, r)
		result := "ok"
		if err != nil {
			result = "error"
			e.log.Errorf("trigger %d (%s %s %g %s %s) failed: %v",
				i+1, t.Value, t.Op, t.Threshold, t.Action, t.Target, err)
		} else {
			e.log.Debugf("trigger %d fired: %s %s", i+1, t.Action, t.Target)
		}
		e.metrics.TriggerActions.WithLabelValues(t.Action.String(), result).Inc()
	}
}

func (e *Engine) fire(ctx context.Context, t Trigger, r model.Reading) error {
	switch t.Action {
	case ActionPinUp:
		return e.pins.SetHigh(t.Pin)
	case ActionPinDown:
		return e.pins.SetLow(t.Pin)
	default:
		args, _ := ExpandArgs(t.Args, r)
		e.mu.Lock()
		runner := e.runner
		e.mu.Unlock()
		e.log.Infof("running %s", t.Target)
		return runner.Run(ctx, t.Target, args)
	}
}
