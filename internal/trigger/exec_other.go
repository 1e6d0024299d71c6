//go:build !linux

package trigger

import (
	"context"
	"errors"
	"time"
)

// SandboxRunner is only implemented on Linux.
type SandboxRunner struct {
	User    string
	CPUSoft uint64
	CPUHard uint64
	Timeout time.Duration
	Helper  string
}

// RunSandboxHelper does nothing outside Linux.
func RunSandboxHelper() {}

func (s SandboxRunner) Run(_ context.Context, path, _ string) error {
	return &ExecError{Stage: StageStart, Path: path, Err: errors.New("sandboxed exec requires linux")}
}
