package protocol

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"testing/iotest"
)

func mustParse(t *testing.T, line string) *Request {
	t.Helper()
	req, err := Parse([]byte(line))
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", line, err)
	}
	return req
}

func TestParseFetch(t *testing.T) {
	req := mustParse(t, "GET /fetch?from=now-1h&tempunit=c HTTP/1.1\r\nHost: x\r\n\r\n")
	if req.Method != "GET" || req.Command != "fetch" || req.Protocol != "HTTP/1.1" {
		t.Fatalf("unexpected request %+v", req)
	}
	want := []Param{
		{Name: "from", Value: "now-1h", HasValue: true},
		{Name: "tempunit", Value: "c", HasValue: true},
	}
	if !reflect.DeepEqual(req.Params, want) {
		t.Fatalf("params = %+v, want %+v", req.Params, want)
	}
	if p, ok := req.Get("tempunit"); !ok || p.Value != "c" {
		t.Fatalf("Get(tempunit) = %+v, %v", p, ok)
	}
}

func TestParseNoParams(t *testing.T) {
	req := mustParse(t, "GET /statistics HTTP/1.0\r\n")
	if req.Command != "statistics" || len(req.Params) != 0 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestParseValueless(t *testing.T) {
	req := mustParse(t, "GET /fetch?select&tempunit= HTTP/1.1\r\n")
	if req.Params[0] != (Param{Name: "select"}) {
		t.Fatalf("expected bare select, got %+v", req.Params[0])
	}
	if req.Params[1] != (Param{Name: "tempunit", HasValue: true}) {
		t.Fatalf("expected empty tempunit value, got %+v", req.Params[1])
	}
}

func TestParseDecodes(t *testing.T) {
	req := mustParse(t, "GET /fetch?from=2024-01-15%2010:00:00&to=now+1h HTTP/1.1\r\n")
	if req.Params[0].Value != "2024-01-15 10:00:00" {
		t.Fatalf("expected decoded value, got %q", req.Params[0].Value)
	}
	if req.Params[1].Value != "now+1h" {
		t.Fatalf("plus must be kept literally, got %q", req.Params[1].Value)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		in   string
		want Code
	}{
		{"GET /fetch HTTP/1.1", CodeMalformed},
		{"\r\n", CodeMalformed},
		{"GET /fetch HTTP/2.0\r\n", CodeWrongProtocol},
		{"GET /fetch FTP\r\n", CodeWrongProtocol},
		{"GET /fetch\r\n", CodeMalformed},
		{"GET  /fetch HTTP/1.1\r\n", CodeMalformed},
		{"GET fetch HTTP/1.1\r\n", CodeMalformed},
		{"GET / HTTP/1.1\r\n", CodeMalformed},
		{"GET /fetch?=x HTTP/1.1\r\n", CodeMalformed},
		{"GET /fetch?from=%zz HTTP/1.1\r\n", CodeMalformed},
		{"GET /fetch?a=1&a=2 HTTP/1.1\r\n", CodeDuplicate},
		{"GET /fetch?a=1&b&a HTTP/1.1\r\n", CodeDuplicate},
		{"GET /fetch?b=1&a=2&c=3&a=4 HTTP/1.1\r\n", CodeDuplicate},
		{"GET /" + strings.Repeat("x", MaxRequestLine) + " HTTP/1.1\r\n", CodeTooLong},
		{strings.Repeat("x", MaxRequestLine+1), CodeTooLong},
	}
	for _, tc := range cases {
		_, err := Parse([]byte(tc.in))
		if err == nil {
			t.Fatalf("Parse(%q) expected error %v", tc.in, tc.want)
		}
		if got := CodeOf(err); got != tc.want {
			t.Fatalf("Parse(%q) code = %d (%v), want %d", tc.in, got, err, tc.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	lines := []string{
		"GET /fetch?from=now-1h HTTP/1.1",
		"GET /fetch?from=2024-01-01&to=2024-01-31&tempunit=f HTTP/1.0",
		"GET /fetch?select=10 HTTP/1.1",
		"GET /current?tempunit HTTP/1.1",
		"GET /statistics HTTP/1.1",
		"POST /config HTTP/1.1",
	}
	for _, line := range lines {
		req := mustParse(t, line+"\r\n")
		again := mustParse(t, req.Line()+"\r\n")
		if !reflect.DeepEqual(req, again) {
			t.Fatalf("round trip of %q: %+v != %+v", line, req, again)
		}
		if line != req.Line() && !strings.Contains(req.Line(), "%") {
			t.Fatalf("render of %q changed bytes: %q", line, req.Line())
		}
	}
}

func TestRoundTripEscapes(t *testing.T) {
	req := &Request{
		Method:   "GET",
		Command:  "fetch",
		Protocol: "HTTP/1.1",
		Params: []Param{
			{Name: "from", Value: "2024-01-15 10:00:00", HasValue: true},
			{Name: "to", Value: "now+1h&x=y", HasValue: true},
		},
	}
	got := mustParse(t, req.Line()+"\r\n")
	if !reflect.DeepEqual(req, got) {
		t.Fatalf("round trip: %+v != %+v", req, got)
	}
}

func TestHasDuplicates(t *testing.T) {
	req := &Request{Params: []Param{{Name: "a"}, {Name: "b"}, {Name: "a"}}}
	if !req.HasDuplicates() {
		t.Fatalf("expected duplicates")
	}
	req.Params = req.Params[:2]
	if req.HasDuplicates() {
		t.Fatalf("unexpected duplicates")
	}
}

func TestReadRequest(t *testing.T) {
	r := iotest.OneByteReader(strings.NewReader("GET /config HTTP/1.1\r\ntrailing"))
	buf, err := ReadRequest(r)
	if err != nil {
		t.Fatalf("ReadRequest failed: %v", err)
	}
	if !bytes.HasSuffix(buf, []byte("\r\n")) {
		t.Fatalf("expected to stop at line end, got %q", buf)
	}

	buf, err = ReadRequest(strings.NewReader("GET /config"))
	if !errors.Is(err, io.EOF) || string(buf) != "GET /config" {
		t.Fatalf("expected partial read with EOF, got %q, %v", buf, err)
	}

	buf, err = ReadRequest(strings.NewReader(strings.Repeat("x", 2*ReadBufferSize)))
	if err != nil || len(buf) != ReadBufferSize {
		t.Fatalf("expected full buffer, got %d bytes, %v", len(buf), err)
	}
}
