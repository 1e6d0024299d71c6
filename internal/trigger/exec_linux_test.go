//go:build linux

package trigger

import (
	"context"
	"errors"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

// sandboxDir returns a world-writable directory holding a copy of the test
// binary, which doubles as the exec helper.
func sandboxDir(t *testing.T) (string, string) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("switching users requires root")
	}
	if _, err := user.Lookup("nobody"); err != nil {
		t.Skip("no nobody account")
	}
	dir, err := os.MkdirTemp("", "sandbox")
	if err != nil {
		t.Fatalf("MkdirTemp failed: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	if err := os.Chmod(dir, 0o777); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("Executable failed: %v", err)
	}
	b, err := os.ReadFile(self)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	helper := filepath.Join(dir, "helper")
	if err := os.WriteFile(helper, b, 0o755); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return dir, helper
}

func execStage(t *testing.T, err error) ExecStage {
	t.Helper()
	var ee *ExecError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExecError, got %T %v", err, err)
	}
	return ee.Stage
}

func TestSandboxUnknownUserNeverRuns(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "ran")
	script := writeScript(t, dir, "touch.sh", `touch "$1"`)

	err := SandboxRunner{User: "no-such-user", CPUSoft: 1, CPUHard: 2}.Run(context.Background(), script, marker)
	if stage := execStage(t, err); stage != StageLookup {
		t.Fatalf("expected stage %q, got %q", StageLookup, stage)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("program ran despite the failed lookup: %v", err)
	}
}

func TestSandboxHelperReportsFailures(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		stage ExecStage
	}{
		{"missing program", []string{"5"}, StageStart},
		{"bad soft limit", []string{"x", "10", "/bin/true"}, StageLimit},
		{"soft above hard", []string{"10", "5", "/bin/true"}, StageLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, w, err := os.Pipe()
			if err != nil {
				t.Fatalf("Pipe failed: %v", err)
			}
			defer r.Close()
			if code := sandboxExec(tt.args, w); code == 0 {
				t.Fatalf("expected a failure exit code")
			}
			w.Close()
			msg, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if !strings.HasPrefix(string(msg), string(tt.stage)+": ") {
				t.Fatalf("unexpected report %q", msg)
			}
		})
	}
}

func TestSandboxAppliesCPULimit(t *testing.T) {
	dir, helper := sandboxDir(t)
	out := filepath.Join(dir, "limits")
	script := writeScript(t, dir, "limits.sh", `printf '%s %s' "$(ulimit -S -t)" "$(ulimit -H -t)" > "$1"`)

	r := SandboxRunner{User: "nobody", CPUSoft: 5, CPUHard: 10, Timeout: 10 * time.Second, Helper: helper}
	if err := r.Run(context.Background(), script, out); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(b) != "5 10" {
		t.Fatalf("expected limits 5 10, got %q", b)
	}
	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	nobody, _ := user.Lookup("nobody")
	if st, ok := info.Sys().(*syscall.Stat_t); ok && strconv.FormatUint(uint64(st.Uid), 10) != nobody.Uid {
		t.Fatalf("program ran as uid %d, want %s", st.Uid, nobody.Uid)
	}
}

func TestSandboxLimitFailureStopsProgram(t *testing.T) {
	dir, helper := sandboxDir(t)
	marker := filepath.Join(dir, "ran")
	script := writeScript(t, dir, "touch.sh", `touch "$1"`)

	r := SandboxRunner{User: "nobody", CPUSoft: 10, CPUHard: 5, Timeout: 10 * time.Second, Helper: helper}
	err := r.Run(context.Background(), script, marker)
	if stage := execStage(t, err); stage != StageLimit {
		t.Fatalf("expected stage %q, got %q: %v", StageLimit, stage, err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("program ran despite the failed limit: %v", err)
	}
}
