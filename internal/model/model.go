package model

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Measurement slots of a Reading.
const (
	SlotTemperature = iota
	SlotHumidity

	MaxMeasurements = 8
)

const (
	// NativeTempUnit is the unit temperatures are stored and sampled in.
	NativeTempUnit = "c"
	// HumidityUnit is the only humidity unit.
	HumidityUnit = "%"

	// LiveEntryID marks an Entry that was read from the device and never stored.
	LiveEntryID int64 = -1

	// TimeLayout is the layout of Entry.RecordDate.
	TimeLayout = "2006-01-02 15:04:05"
)

// Reading is one sample set from the sensor. Temperatures are Celsius.
type Reading [MaxMeasurements]float64

func (r Reading) Temperature() float64 { return r[SlotTemperature] }
func (r Reading) Humidity() float64    { return r[SlotHumidity] }

// NewReading builds a Reading from a temperature and humidity pair.
func NewReading(temperature, humidity float64) Reading {
	var r Reading
	r[SlotTemperature] = temperature
	r[SlotHumidity] = humidity
	return r
}

// CelsiusToFahrenheit converts a Celsius temperature.
func CelsiusToFahrenheit(c float64) float64 { return c*9/5 + 32 }

// ConvertTemperature converts a native temperature into unit ("c" or "f").
func ConvertTemperature(c float64, unit string) float64 {
	if unit == "f" {
		return CelsiusToFahrenheit(c)
	}
	return c
}

// Units is the unit tag of a response.
type Units struct {
	Temp  string `json:"tempunit"`
	Humid string `json:"humidunit"`
}

// Payload is the body a RequestMessage carries. It is implemented by
// *Entry, *EntryList and *KeyValueList only.
type Payload interface {
	isPayload()
}

// Entry is a persisted (or live) reading.
type Entry struct {
	ID          int64   `json:"id"`
	RecordDate  string  `json:"record_date"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Location    string  `json:"location"`
	DeviceName  string  `json:"device_name"`
}

func (*Entry) isPayload() {}

// EntryList is the result of a fetch query. Its length is fixed at creation.
type EntryList struct {
	Entries []Entry
}

// NewEntryList allocates a list holding exactly n entries.
func NewEntryList(n int) *EntryList {
	return &EntryList{Entries: make([]Entry, n)}
}

func (l *EntryList) Len() int { return len(l.Entries) }

func (*EntryList) isPayload() {}

// ErrListFull is returned when appending to a full KeyValueList.
var ErrListFull = errors.New("key/value list is full")

// KeyValue is a single statistics or configuration pair.
type KeyValue struct {
	Key   string
	Value string
}

// KeyValueList is an append-only list bounded by the capacity given at creation.
type KeyValueList struct {
	items    []KeyValue
	capacity int
}

func NewKeyValueList(capacity int) *KeyValueList {
	if capacity < 0 {
		capacity = 0
	}
	return &KeyValueList{items: make([]KeyValue, 0, capacity), capacity: capacity}
}

// Append adds a pair, failing with ErrListFull once capacity is reached.
func (l *KeyValueList) Append(key, value string) error {
	if len(l.items) >= l.capacity {
		return ErrListFull
	}
	l.items = append(l.items, KeyValue{Key: key, Value: value})
	return nil
}

func (l *KeyValueList) Len() int { return len(l.items) }
func (l *KeyValueList) Cap() int { return l.capacity }

// Items returns a copy of the pairs in insertion order.
func (l *KeyValueList) Items() []KeyValue {
	out := make([]KeyValue, len(l.items))
	copy(out, l.items)
	return out
}

// Get returns the value of the first pair named key.
func (l *KeyValueList) Get(key string) (string, bool) {
	for _, kv := range l.items {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// MarshalJSON renders the list as a JSON object with keys in insertion order.
func (l *KeyValueList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range l.items {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (*KeyValueList) isPayload() {}
