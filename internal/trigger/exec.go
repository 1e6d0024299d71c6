package trigger

import (
	"context"
	"fmt"
)

// Runner executes the program of an exec rule and waits for it.
type Runner interface {
	Run(ctx context.Context, path, args string) error
}

// ExecStage names where running a trigger program failed.
type ExecStage string

const (
	StageLookup ExecStage = "lookup user"
	StageStart  ExecStage = "start"
	StageLimit  ExecStage = "set cpu limit"
	StageWait   ExecStage = "wait"
)

type ExecError struct {
	Stage ExecStage
	Path  string
	Err   error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("exec %s: %s: %v", e.Path, e.Stage, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

func argv(args string) []string {
	if args == "" {
		return nil
	}
	return []string{args}
}
