// Package protocol parses the query request line and renders responses.
package protocol

import (
	"bytes"
	"errors"
	"io"
	"net/url"
	"strings"
)

const (
	// ReadBufferSize is the most bytes read from a connection for one request.
	ReadBufferSize = 4096
	// MaxRequestLine bounds the request line.
	MaxRequestLine = 1024
)

var lineEnd = []byte("\r\n")

// Code is a request parse failure.
type Code int

const (
	CodeUnknownParam   Code = -1
	CodeTooLong        Code = -2
	CodeParamsRequired Code = -3
	CodeMalformed      Code = -4
	CodeWrongProtocol  Code = -5
	CodeNoMemory       Code = -6
	CodeDuplicate      Code = -7
)

func (c Code) Error() string {
	switch c {
	case CodeUnknownParam:
		return "Unknown parameter in HTTP query string."
	case CodeTooLong:
		return "HTTP request is too long."
	case CodeParamsRequired:
		return "HTTP query string requires parameters."
	case CodeMalformed:
		return "HTTP request is malformed."
	case CodeWrongProtocol:
		return "rpiweatherd only supports HTTP/1.0 or HTTP/1.1"
	case CodeNoMemory:
		return "Out of memory while parsing HTTP request."
	case CodeDuplicate:
		return "Duplicate parameters in HTTP query string"
	default:
		return "Unknown HTTP parser error."
	}
}

// CodeOf extracts the parse code from err, defaulting to CodeMalformed.
func CodeOf(err error) Code {
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return CodeMalformed
}

// Param is one query parameter. HasValue is false for a bare name.
type Param struct {
	Name     string
	Value    string
	HasValue bool
}

// Request is a parsed request line.
type Request struct {
	Method   string
	Command  string
	Params   []Param
	Protocol string
}

// Get returns the parameter called name.
func (r *Request) Get(name string) (Param, bool) {
	for _, p := range r.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// HasDuplicates reports whether a parameter name occurs more than once.
func (r *Request) HasDuplicates() bool {
	seen := make(map[string]struct{}, len(r.Params))
	for _, p := range r.Params {
		if _, ok := seen[p.Name]; ok {
			return true
		}
		seen[p.Name] = struct{}{}
	}
	return false
}

// Line renders the request line without its terminator.
func (r *Request) Line() string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteString(" /")
	b.WriteString(escape(r.Command))
	for i, p := range r.Params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(escape(p.Name))
		if p.HasValue {
			b.WriteByte('=')
			b.WriteString(escape(p.Value))
		}
	}
	b.WriteByte(' ')
	b.WriteString(r.Protocol)
	return b.String()
}

// escape percent-encodes everything but unreserved characters, leaving a
// literal '+' alone so relative offsets like "now+1h" survive a round trip.
func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func supportedProtocol(p string) bool {
	return p == "HTTP/1.0" || p == "HTTP/1.1"
}

// Parse parses the first line of buf.
func Parse(buf []byte) (*Request, error) {
	idx := bytes.Index(buf, lineEnd)
	if idx < 0 {
		if len(buf) > MaxRequestLine {
			return nil, CodeTooLong
		}
		return nil, CodeMalformed
	}
	if idx > MaxRequestLine {
		return nil, CodeTooLong
	}
	if idx == 0 {
		return nil, CodeMalformed
	}

	fields := strings.Split(string(buf[:idx]), " ")
	if len(fields) != 3 {
		return nil, CodeMalformed
	}
	method, target, proto := fields[0], fields[1], fields[2]
	if !supportedProtocol(proto) {
		return nil, CodeWrongProtocol
	}
	if method == "" || !strings.HasPrefix(target, "/") {
		return nil, CodeMalformed
	}

	path, query, _ := strings.Cut(target[1:], "?")
	command, err := url.PathUnescape(path)
	if err != nil || command == "" {
		return nil, CodeMalformed
	}

	req := &Request{Method: method, Command: command, Protocol: proto}
	seen := make(map[string]struct{})
	for _, seg := range strings.Split(query, "&") {
		if seg == "" {
			continue
		}
		rawName, rawValue, hasValue := strings.Cut(seg, "=")
		name, err := url.PathUnescape(rawName)
		if err != nil || name == "" {
			return nil, CodeMalformed
		}
		value, err := url.PathUnescape(rawValue)
		if err != nil {
			return nil, CodeMalformed
		}
		if _, dup := seen[name]; dup {
			return nil, CodeDuplicate
		}
		seen[name] = struct{}{}
		req.Params = append(req.Params, Param{Name: name, Value: value, HasValue: hasValue})
	}
	return req, nil
}

// ReadRequest reads from r until a line terminator arrives, the buffer
// fills or r fails. Whatever was read is returned alongside the error.
func ReadRequest(r io.Reader) ([]byte, error) {
	buf := make([]byte, ReadBufferSize)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if bytes.Contains(buf[:n], lineEnd) {
			return buf[:n], nil
		}
		if err != nil {
			return buf[:n], err
		}
	}
	return buf[:n], nil
}
