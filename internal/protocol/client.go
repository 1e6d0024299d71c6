package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
)

// Response is a parsed daemon response.
type Response struct {
	Status int
	Header textproto.MIMEHeader
	Body   []byte
}

// Do sends one request line to addr and reads the response.
func Do(ctx context.Context, addr, line string) (*Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if _, err := io.WriteString(conn, line+"\r\n\r\n"); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	return ReadResponse(conn)
}

// ReadResponse parses a response written by Render.
func ReadResponse(r io.Reader) (*Response, error) {
	tp := textproto.NewReader(bufio.NewReader(r))
	status, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("read status line: %w", err)
	}
	parts := strings.SplitN(status, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return nil, fmt.Errorf("malformed status line %q", status)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed status code %q", parts[1])
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read headers: %w", err)
	}
	resp := &Response{Status: code, Header: hdr}
	if cl := hdr.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("malformed content length %q", cl)
		}
		resp.Body = make([]byte, n)
		if _, err := io.ReadFull(tp.R, resp.Body); err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}
	return resp, nil
}
