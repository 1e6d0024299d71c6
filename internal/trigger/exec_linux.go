//go:build linux

package trigger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// helperEnv marks a process started as the exec helper.
	helperEnv = "RPIWEATHERD_SANDBOX_HELPER"
	// reportFD carries a failure report from the helper; it is closed on exec.
	reportFD = 3
)

// SandboxRunner runs programs as an unprivileged account under an
// RLIMIT_CPU bound. The program receives the argument string as a single
// argument.
//
// The limit is set by Helper, an executable that calls RunSandboxHelper
// first thing in main. It applies the limit and then replaces itself with
// the program.
type SandboxRunner struct {
	User    string
	CPUSoft uint64
	CPUHard uint64
	// Timeout bounds the wall time of one run. Zero waits indefinitely.
	Timeout time.Duration
	// Helper defaults to the running executable.
	Helper string
}

func (s SandboxRunner) Run(ctx context.Context, path, args string) error {
	cred, err := lookupCredential(s.User)
	if err != nil {
		return &ExecError{Stage: StageLookup, Path: path, Err: err}
	}
	target, err := exec.LookPath(path)
	if err != nil {
		return &ExecError{Stage: StageStart, Path: path, Err: err}
	}
	helper := s.Helper
	if helper == "" {
		if helper, err = os.Executable(); err != nil {
			return &ExecError{Stage: StageStart, Path: path, Err: err}
		}
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	report, w, err := os.Pipe()
	if err != nil {
		return &ExecError{Stage: StageStart, Path: path, Err: err}
	}
	defer report.Close()

	helperArgs := append([]string{
		strconv.FormatUint(s.CPUSoft, 10),
		strconv.FormatUint(s.CPUHard, 10),
		target,
	}, argv(args)...)
	cmd := exec.CommandContext(ctx, helper, helperArgs...)
	cmd.Env = append(os.Environ(), helperEnv+"=1")
	cmd.ExtraFiles = []*os.File{w}
	cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred, Setpgid: true}
	err = cmd.Start()
	w.Close()
	if err != nil {
		return &ExecError{Stage: StageStart, Path: path, Err: err}
	}

	// Empty once the helper has exec'd the program.
	msg, _ := io.ReadAll(report)
	if len(msg) > 0 {
		_ = cmd.Wait()
		stage, text, _ := strings.Cut(string(msg), ": ")
		return &ExecError{Stage: ExecStage(stage), Path: path, Err: errors.New(text)}
	}
	if err := cmd.Wait(); err != nil {
		return &ExecError{Stage: StageWait, Path: path, Err: err}
	}
	return nil
}

// RunSandboxHelper takes over the process when it was started by a
// SandboxRunner and never returns in that case. Otherwise it does nothing.
func RunSandboxHelper() {
	if os.Getenv(helperEnv) == "" {
		return
	}
	os.Exit(sandboxExec(os.Args[1:], os.NewFile(reportFD, "sandbox-report")))
}

// sandboxExec expects soft limit, hard limit, program and its arguments.
// It returns only on failure, after writing "<stage>: <error>" to report.
func sandboxExec(args []string, report *os.File) int {
	fail := func(stage ExecStage, err error) int {
		fmt.Fprintf(report, "%s: %v", stage, err)
		return 127
	}
	if len(args) < 3 {
		return fail(StageStart, errors.New("helper needs limits and a program"))
	}
	soft, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fail(StageLimit, err)
	}
	hard, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fail(StageLimit, err)
	}
	if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: soft, Max: hard}); err != nil {
		return fail(StageLimit, err)
	}

	env := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, helperEnv+"=") {
			env = append(env, kv)
		}
	}
	unix.CloseOnExec(reportFD)
	err = unix.Exec(args[2], args[2:], env)
	return fail(StageStart, err)
}

func lookupCredential(name string) (*syscall.Credential, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("gid %q: %w", u.Gid, err)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}
