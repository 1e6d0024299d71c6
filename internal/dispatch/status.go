package dispatch

import "fmt"

// Status is the outcome of a command handler. Non-zero values are sent
// to the client as the errcode of a 400 response.
type Status int

const (
	Success         Status = 0
	UnknownParam    Status = -1001
	ParamError      Status = -1002
	UnknownCommand  Status = -1003
	ParamsMissing   Status = -1004
	TooManyParams   Status = -1005
	NoParamsNeeded  Status = -1006
	MemoryError     Status = -1007
	DeviceError     Status = -1008
	DuplicateParams Status = -1009
)

var statusMessages = map[Status]string{
	Success:         "Success",
	UnknownParam:    "Query contains unknown parameters; please refer to documentation.",
	ParamError:      "Query parameter has incorrect value.",
	UnknownCommand:  "Unrecognized command.",
	ParamsMissing:   "Command requires parameters.",
	TooManyParams:   "Too many parameters.",
	NoParamsNeeded:  "Parameters provided to command but the command does not accept any arguments.",
	MemoryError:     "Server ran out of memory while processing the request.",
	DeviceError:     "Could not read from the sensor device.",
	DuplicateParams: "Duplicate parameters in query.",
}

func (s Status) Message() string {
	if msg, ok := statusMessages[s]; ok {
		return msg
	}
	return "Unknown command callback error."
}

func (s Status) Error() string {
	return fmt.Sprintf("%s (%d)", s.Message(), int(s))
}
