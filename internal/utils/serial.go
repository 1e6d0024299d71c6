package utils

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SerialParams describes an RTU serial line.
type SerialParams struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

func EnsureSerialDefaults(sp *SerialParams) {
	if sp.BaudRate == 0 {
		sp.BaudRate = 9600
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = 2 * time.Second
	}
}

// ParseSerialAddress parses "rtu:/dev/ttyUSB0?baud=19200&parity=E&data_bits=8&stop_bits=1".
func ParseSerialAddress(addr string) (SerialParams, error) {
	rest, ok := strings.CutPrefix(addr, "rtu:")
	if !ok {
		return SerialParams{}, fmt.Errorf("serial address %q must start with rtu:", addr)
	}
	path, query, _ := strings.Cut(rest, "?")
	if path == "" {
		return SerialParams{}, fmt.Errorf("serial address %q has no device path", addr)
	}
	sp := SerialParams{Address: path}
	values, err := url.ParseQuery(query)
	if err != nil {
		return SerialParams{}, fmt.Errorf("serial options: %w", err)
	}
	for key := range values {
		v := values.Get(key)
		switch key {
		case "baud":
			sp.BaudRate, err = strconv.Atoi(v)
		case "data_bits":
			sp.DataBits, err = strconv.Atoi(v)
		case "stop_bits":
			sp.StopBits, err = strconv.Atoi(v)
		case "parity":
			sp.Parity = strings.ToUpper(v)
		case "timeout":
			sp.Timeout, err = time.ParseDuration(v)
		default:
			err = fmt.Errorf("unknown option")
		}
		if err != nil {
			return SerialParams{}, fmt.Errorf("serial option %s=%q: %w", key, v, err)
		}
	}
	EnsureSerialDefaults(&sp)
	return sp, nil
}
