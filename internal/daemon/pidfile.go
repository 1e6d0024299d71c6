package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrRunning is returned by WritePIDFile when another live process owns
// the PID file.
var ErrRunning = errors.New("daemon already running")

// WritePIDFile records the current process id at path. A file left
// behind by a dead process is replaced.
func WritePIDFile(path string) error {
	if pid, err := ReadPIDFile(path); err == nil && pid != os.Getpid() && alive(pid) {
		return fmt.Errorf("%w with pid %d", ErrRunning, pid)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile returns the process id stored at path.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", path)
	}
	return pid, nil
}

// RemovePIDFile deletes path if it still names this process.
func RemovePIDFile(path string) error {
	pid, err := ReadPIDFile(path)
	if err != nil || pid != os.Getpid() {
		return nil
	}
	return os.Remove(path)
}

func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
