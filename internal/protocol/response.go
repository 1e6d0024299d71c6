package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"rpiweatherd/internal/model"
)

// ServerName identifies the daemon in the Server header.
const ServerName = "rpiweatherd"

// Version is reported in the Server header and the statistics command.
var Version = "1.2.0"

// ErrorBody is the JSON body of a failed request.
type ErrorBody struct {
	Length  int    `json:"length"`
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// EntryBody is the JSON body of fetch and current responses.
type EntryBody struct {
	Length  int           `json:"length"`
	Units   model.Units   `json:"units"`
	ErrCode int           `json:"errcode"`
	ErrMsg  string        `json:"errmsg"`
	ID      *int64        `json:"id,omitempty"`
	Results []model.Entry `json:"results"`
}

// KeyValueBody is the JSON body of statistics and config responses.
type KeyValueBody struct {
	Length  int                 `json:"length"`
	ErrCode int                 `json:"errcode"`
	ErrMsg  string              `json:"errmsg"`
	Results *model.KeyValueList `json:"results"`
}

// NewEntryListBody wraps fetch results.
func NewEntryListBody(l *model.EntryList, units model.Units) EntryBody {
	results := l.Entries
	if results == nil {
		results = []model.Entry{}
	}
	return EntryBody{Length: len(results), Units: units, Results: results}
}

// NewEntryBody wraps a single live reading.
func NewEntryBody(e *model.Entry, units model.Units) EntryBody {
	id := e.ID
	return EntryBody{Length: 1, Units: units, ID: &id, Results: []model.Entry{*e}}
}

// NewKeyValueBody wraps statistics or config pairs.
func NewKeyValueBody(l *model.KeyValueList) KeyValueBody {
	return KeyValueBody{Length: l.Len(), Results: l}
}

// Render builds a full response. The Content-Length header is present
// only when body is non-empty.
func Render(status int, body []byte, now time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	fmt.Fprintf(&b, "Date: %s\r\n", now.UTC().Format(http.TimeFormat))
	fmt.Fprintf(&b, "Server: %s/%s\r\n", ServerName, Version)
	b.WriteString("Cache-Control: no-store\r\n")
	if len(body) > 0 {
		b.WriteString("Content-Type: application/json\r\n")
		b.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n")
	}
	b.WriteString("\r\n")
	b.Write(body)
	return b.Bytes()
}

// RenderJSON marshals v as the body of a response.
func RenderJSON(status int, v any, now time.Time) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return Render(status, body, now), nil
}

// RenderError renders a failure envelope.
func RenderError(status, code int, msg string, now time.Time) []byte {
	// ErrorBody always marshals.
	out, _ := RenderJSON(status, ErrorBody{ErrCode: code, ErrMsg: msg}, now)
	return out
}
