package listener

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"rpiweatherd/internal/config"
	"rpiweatherd/internal/db"
	"rpiweatherd/internal/device"
	"rpiweatherd/internal/dispatch"
	"rpiweatherd/internal/logging"
	"rpiweatherd/internal/model"
	"rpiweatherd/internal/mq"
	"rpiweatherd/internal/protocol"
	"rpiweatherd/internal/storage"
	"rpiweatherd/internal/sysinfo"
)

type testEnv struct {
	srv     *Server
	storage *storage.Worker
	addr    string
}

func newTestEnv(t *testing.T, maxEntries int, readTimeout time.Duration) *testEnv {
	t.Helper()
	log := logging.Discard()
	store, err := db.Open(filepath.Join(t.TempDir(), "listener_test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	w := storage.New(store, storage.Options{MaxEntries: maxEntries, Logger: log})

	cfg := config.Default()
	cfg.Location = "garden"
	d := dispatch.New(dispatch.Options{
		Config: config.NewStore(cfg),
		Gate:   device.NewGate(device.NewSimulated(7), log),
		Host:   sysinfo.Static{Hostname: "pi"},
		Logger: log,
	})
	srv := New(Options{Workers: 2, ReadTimeout: readTimeout, Dispatcher: d, Storage: w, Logger: log})
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Close()
		w.Close()
		srv.DropPending()
		_ = store.Close()
	})
	return &testEnv{srv: srv, storage: w, addr: srv.Addr().String()}
}

func (e *testEnv) do(t *testing.T, line string) *protocol.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := protocol.Do(ctx, e.addr, line)
	if err != nil {
		t.Fatalf("Do(%q) failed: %v", line, err)
	}
	return resp
}

func (e *testEnv) write(t *testing.T, temps ...float64) {
	t.Helper()
	for _, c := range temps {
		entry := model.Entry{Temperature: c, Humidity: 50, Location: "garden", DeviceName: "sim"}
		if err := e.storage.WriteEntry(context.Background(), entry); err != nil {
			t.Fatalf("WriteEntry failed: %v", err)
		}
	}
}

func TestFetchRecentEntries(t *testing.T) {
	env := newTestEnv(t, 0, 0)
	env.write(t, 10, 20, 30)

	resp := env.do(t, "GET /fetch?from=now-1h&tempunit=c HTTP/1.1")
	if resp.Status != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.Status, resp.Body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	var body struct {
		Length  int           `json:"length"`
		Units   model.Units   `json:"units"`
		ErrCode int           `json:"errcode"`
		Results []model.Entry `json:"results"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Length != 3 || len(body.Results) != 3 || body.Units.Temp != "c" {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Results[0].Temperature != 10 || body.Results[2].Temperature != 30 {
		t.Fatalf("entries out of order: %+v", body.Results)
	}

	resp = env.do(t, "GET /fetch?select=1 HTTP/1.0")
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Length != 1 || body.Results[0].Temperature != 86 || body.Units.Temp != "f" {
		t.Fatalf("expected latest entry in fahrenheit, got %+v", body)
	}
}

func TestImmediateCommands(t *testing.T) {
	env := newTestEnv(t, 0, 0)

	resp := env.do(t, "GET /current HTTP/1.1")
	if resp.Status != 200 {
		t.Fatalf("current: expected 200, got %d: %s", resp.Status, resp.Body)
	}
	var cur struct {
		ID      int64         `json:"id"`
		Results []model.Entry `json:"results"`
	}
	if err := json.Unmarshal(resp.Body, &cur); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if cur.ID != model.LiveEntryID || len(cur.Results) != 1 || cur.Results[0].Location != "garden" {
		t.Fatalf("unexpected current body %s", resp.Body)
	}

	resp = env.do(t, "GET /config HTTP/1.1")
	var cfg struct {
		Results map[string]string `json:"results"`
	}
	if err := json.Unmarshal(resp.Body, &cfg); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if cfg.Results["measure_location"] != "garden" {
		t.Fatalf("unexpected config body %s", resp.Body)
	}

	resp = env.do(t, "GET /statistics HTTP/1.1")
	var stats struct {
		Results map[string]string `json:"results"`
	}
	if err := json.Unmarshal(resp.Body, &stats); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if stats.Results["hostname"] != "pi" || stats.Results[db.TotalRequests] != "0" {
		t.Fatalf("unexpected statistics body %s", resp.Body)
	}
}

func TestErrorResponses(t *testing.T) {
	env := newTestEnv(t, 2, 0)
	env.write(t, 1, 2, 3)

	cases := []struct {
		line   string
		status int
		code   int
	}{
		{"GET /weather HTTP/1.1", 400, int(dispatch.UnknownCommand)},
		{"GET /fetch HTTP/2.0", 400, int(protocol.CodeWrongProtocol)},
		{"GET /fetch?from=now-1h&select=3 HTTP/1.1", 400, int(dispatch.ParamError)},
		{"GET /fetch?from=now-1h HTTP/1.1", 400, -1},
	}
	for _, tc := range cases {
		resp := env.do(t, tc.line)
		if resp.Status != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.line, tc.status, resp.Status)
		}
		var body protocol.ErrorBody
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			t.Fatalf("%s: invalid JSON body: %v", tc.line, err)
		}
		if body.ErrCode != tc.code || body.ErrMsg == "" {
			t.Fatalf("%s: unexpected error body %+v", tc.line, body)
		}
	}

	resp := env.do(t, "GET /favicon.ico HTTP/1.1")
	if resp.Status != 204 || len(resp.Body) != 0 {
		t.Fatalf("favicon: expected empty 204, got %d %q", resp.Status, resp.Body)
	}
}

func TestIdleConnectionIsDropped(t *testing.T) {
	env := newTestEnv(t, 0, 50*time.Millisecond)

	conn, err := net.Dial("tcp", env.addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if n, err := conn.Read(make([]byte, 16)); err != io.EOF || n != 0 {
		t.Fatalf("expected the server to hang up, got %d %v", n, err)
	}
}

func TestWorkersAreCapped(t *testing.T) {
	if s := New(Options{Workers: 32}); s.workers != MaxWorkers {
		t.Fatalf("expected %d workers, got %d", MaxWorkers, s.workers)
	}
}

// stallDispatcher blocks requests for the "slow" command until release is
// closed and rejects every command.
type stallDispatcher struct {
	entered chan struct{}
	release chan struct{}
}

func (d *stallDispatcher) Dispatch(_ context.Context, req *protocol.Request, _ *mq.Message) dispatch.Status {
	if req.Command == "slow" {
		d.entered <- struct{}{}
		<-d.release
	}
	return dispatch.UnknownCommand
}

func TestQueuedConnectionKeepsFullReadTimeout(t *testing.T) {
	disp := &stallDispatcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	srv := New(Options{Workers: 1, ReadTimeout: 100 * time.Millisecond, Dispatcher: disp, Logger: logging.Discard()})
	if err := srv.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	released := false
	t.Cleanup(func() {
		if !released {
			close(disp.release)
		}
		_ = srv.Close()
	})
	addr := srv.Addr().String()

	slow := make(chan *protocol.Response, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, _ := protocol.Do(ctx, addr, "GET /slow HTTP/1.1")
		slow <- resp
	}()
	select {
	case <-disp.entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("slow request never reached the dispatcher")
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	if _, err := io.WriteString(conn, "GET /fast HTTP/1.1\r\n\r\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// Wait well past the read timeout while the only worker is busy.
	time.Sleep(300 * time.Millisecond)
	close(disp.release)
	released = true

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := protocol.ReadResponse(conn)
	if err != nil {
		t.Fatalf("queued request was dropped: %v", err)
	}
	if resp.Status != 400 {
		t.Fatalf("expected 400, got %d: %s", resp.Status, resp.Body)
	}
	if r := <-slow; r == nil || r.Status != 400 {
		t.Fatalf("slow request: unexpected response %+v", r)
	}
}
