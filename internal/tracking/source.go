package tracking

import (
	"fmt"
	"time"
)

// Result is a driver return code. ResultSuccess is the only value that is
// not an error; every other value satisfies the error interface so callers
// can wrap it.
type Result int32

const (
	ResultSuccess Result = iota
	ResultTimeout
	ResultNotConnected
	ResultHandshakeIncomplete
	ResultBufferSizeOverflow
	ResultProtocolError
	ResultInvalidArgument
	ResultNotAvailable
	ResultUnknownError
)

var resultNames = map[Result]string{
	ResultSuccess:             "success",
	ResultTimeout:             "timeout",
	ResultNotConnected:        "not connected",
	ResultHandshakeIncomplete: "handshake incomplete",
	ResultBufferSizeOverflow:  "buffer size overflow",
	ResultProtocolError:       "protocol error",
	ResultInvalidArgument:     "invalid argument",
	ResultNotAvailable:        "not available",
	ResultUnknownError:        "unknown error",
}

// String returns the human-readable result name.
func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("result(%d)", int32(r))
}

// Error implements error.
func (r Result) Error() string {
	return "driver: " + r.String()
}

// OK reports whether r is ResultSuccess.
func (r Result) OK() bool {
	return r == ResultSuccess
}

// Source is the native driver as seen by the dispatch loop. All methods
// except Now are called from the dispatch goroutine only.
type Source interface {
	// Open establishes the connection handle. Calling Open on an open
	// source is harmless but the Connection never does so.
	Open() error

	// Close releases the connection handle and unblocks any Poll.
	Close() error

	// Poll blocks up to timeout for the next event. A nil event with
	// ResultTimeout means nothing arrived.
	Poll(timeout time.Duration) (Event, Result)

	// FillImage hands a pool buffer to the driver for the announced image.
	// The driver must not touch buf after it later reports the image
	// complete under handle.
	FillImage(handle int, req ImageRequestEvent, buf []byte) Result

	// SetPolicy applies set flags and clears clear flags.
	SetPolicy(set, clear Policy) Result

	// Devices lists the attached devices.
	Devices() ([]DeviceInfo, Result)

	// Now returns the driver clock in microseconds.
	Now() int64
}
