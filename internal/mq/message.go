// Package mq defines the message passed between the listener, the worker
// pool and the storage worker.
package mq

import (
	"net"

	"rpiweatherd/internal/model"
)

// Kind is the operation a message carries.
type Kind int

const (
	KindWriteEntry Kind = iota
	KindFetch
	KindCurrent
	KindStatistics
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindWriteEntry:
		return "write-entry"
	case KindFetch:
		return "fetch"
	case KindCurrent:
		return "current"
	case KindStatistics:
		return "statistics"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Result is the storage outcome of a message.
type Result int

const (
	ResultOK             Result = 0
	ResultTooManyEntries Result = -1
	ResultSQLError       Result = -2
	ResultNoMemory       Result = -3
)

func (r Result) Message() string {
	switch r {
	case ResultOK:
		return "Success"
	case ResultTooManyEntries:
		return "Too many entries to fetch; please narrow the query."
	case ResultSQLError:
		return "Internal SQL error"
	case ResultNoMemory:
		return "Out of memory"
	default:
		return "Unknown storage error"
	}
}

// Query is a pair of server-built statements sharing one list of bound
// arguments. Count is run first to bound the size of Select's result.
type Query struct {
	Count  string
	Select string
	Args   []any
}

// Message is the envelope of one request. Whoever holds the message owns
// its Payload and Conn; sending the message hands both over.
type Message struct {
	Kind      Kind
	Completed bool
	Conn      net.Conn
	Result    Result
	ReplyTo   chan<- *Message
	Query     Query
	Units     model.Units
	Payload   model.Payload
}

// Entry returns the payload as an Entry.
func (m *Message) Entry() (*model.Entry, bool) {
	e, ok := m.Payload.(*model.Entry)
	return e, ok
}

// EntryList returns the payload as an EntryList.
func (m *Message) EntryList() (*model.EntryList, bool) {
	l, ok := m.Payload.(*model.EntryList)
	return l, ok
}

// KeyValues returns the payload as a KeyValueList.
func (m *Message) KeyValues() (*model.KeyValueList, bool) {
	l, ok := m.Payload.(*model.KeyValueList)
	return l, ok
}

// Release drops the payload and query once a response has been written.
func (m *Message) Release() {
	m.Payload = nil
	m.Query = Query{}
	m.Conn = nil
	m.ReplyTo = nil
}
