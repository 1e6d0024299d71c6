package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"rpiweatherd/internal/config"
	"rpiweatherd/internal/logging"
	"rpiweatherd/internal/protocol"
	"rpiweatherd/internal/sysinfo"
)

type recordingPins struct {
	mu   sync.Mutex
	high []int
}

func (p *recordingPins) SetHigh(pin int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.high = append(p.high, pin)
	return nil
}
func (p *recordingPins) SetLow(int) error { return nil }
func (p *recordingPins) Close() error     { return nil }

func (p *recordingPins) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.high)
}

type nopRunner struct{}

func (nopRunner) Run(context.Context, string, string) error { return nil }

func writeConfig(t *testing.T, dir, location string, port int) string {
	t.Helper()
	path := filepath.Join(dir, "rpiweatherd.conf")
	body := "[General]\n" +
		"measure_location = " + location + "\n" +
		"query_interval = 1h\n" +
		"database = " + filepath.Join(dir, "weatherd.db") + "\n" +
		"[Device Configuration]\n" +
		"device_name = sim\n" +
		"device_config = 3\n" +
		"[Server Configuration]\n" +
		"comm_port = " + strconv.Itoa(port) + "\n" +
		"num_worker_threads = 2\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}

func newTestDaemon(t *testing.T) (*Daemon, *recordingPins, string, string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "attic", freePort(t))
	rules := filepath.Join(dir, "triggers.conf")
	if err := os.WriteFile(rules, []byte("%humid% >= 0 pinup 21\n"), 0o644); err != nil {
		t.Fatalf("write rules failed: %v", err)
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	pins := &recordingPins{}
	d, err := New(cfg, Options{
		ConfigPath:  cfgPath,
		TriggerFile: rules,
		Logger:      logging.Discard(),
		Registry:    prometheus.NewRegistry(),
		Pins:        pins,
		Runner:      nopRunner{},
		Host:        sysinfo.Static{Hostname: "pi"},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d, pins, cfgPath, dir
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func query(t *testing.T, addr, line string) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := protocol.Do(ctx, addr, line)
	if err != nil {
		t.Fatalf("Do(%q) failed: %v", line, err)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", resp.Body, err)
	}
	return body
}

func TestRunSamplesServesAndReloads(t *testing.T) {
	d, pins, cfgPath, dir := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	reload := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, reload) }()

	waitFor(t, "first trigger", func() bool { return pins.count() == 1 })
	addr := d.Addr()

	var body map[string]any
	waitFor(t, "first entry", func() bool {
		body = query(t, addr, "GET /fetch?select=5 HTTP/1.1")
		return body["length"] == float64(1)
	})

	body = query(t, addr, "GET /config HTTP/1.1")
	results := body["results"].(map[string]any)
	if results["measure_location"] != "attic" {
		t.Fatalf("unexpected config %v", results)
	}

	writeConfig(t, dir, "cellar", d.Config().Port)
	reload <- struct{}{}
	waitFor(t, "reload", func() bool { return d.Config().Location == "cellar" })
	waitFor(t, "second trigger", func() bool { return pins.count() == 2 })

	addr = d.Addr()
	body = query(t, addr, "GET /fetch?select=5 HTTP/1.1")
	if body["length"] != float64(2) {
		t.Fatalf("entries must survive a reload, got %v", body)
	}

	if err := os.WriteFile(cfgPath, []byte("[General]\nmeasure_location = \n"), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	reload <- struct{}{}
	waitFor(t, "third sample", func() bool { return pins.count() == 3 })
	if d.Config().Location != "cellar" {
		t.Fatalf("invalid config must not replace the running one")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
	if got := testutil.ToFloat64(d.metrics.TriggerActions.WithLabelValues("pinup", "ok")); got != 3 {
		t.Fatalf("expected 3 pinup actions, got %v", got)
	}
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpiweatherd.pid")
	if err := WritePIDFile(path); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("ReadPIDFile = %d, %v", pid, err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile failed: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pid file should be gone, got %v", err)
	}

	if err := os.WriteFile(path, []byte("not a pid\n"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := WritePIDFile(path); err != nil {
		t.Fatalf("a malformed pid file should be replaced: %v", err)
	}
}
