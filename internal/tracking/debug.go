package tracking

import (
	"io"
	"log"
	"sync"
)

// LogStream names one of the pipeline's log streams.
type LogStream int

const (
	// StreamOps carries lifecycle events, driver failures and recovered panics.
	StreamOps LogStream = iota
	// StreamDiag carries driver log messages, dropped events and policy pushes.
	StreamDiag
	// StreamTrace carries per-event and per-frame telemetry.
	StreamTrace

	numStreams
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// streams is indexed by LogStream; a nil entry mutes that stream.
var (
	streamsMu sync.RWMutex
	streams   [numStreams]*log.Logger
)

// SetLogWriters configures all three logging streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	streamsMu.Lock()
	defer streamsMu.Unlock()
	streams[StreamOps] = newLogger(w.Ops)
	streams[StreamDiag] = newLogger(w.Diag)
	streams[StreamTrace] = newLogger(w.Trace)
}

// SetLogWriter redirects a single stream, leaving the others alone. A nil
// writer mutes it.
func SetLogWriter(s LogStream, w io.Writer) {
	if s < 0 || s >= numStreams {
		return
	}
	streamsMu.Lock()
	streams[s] = newLogger(w)
	streamsMu.Unlock()
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "[tracking] ", log.LstdFlags|log.Lmicroseconds)
}

func logf(s LogStream, format string, args []interface{}) {
	streamsMu.RLock()
	l := streams[s]
	streamsMu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) { logf(StreamOps, format, args) }

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) { logf(StreamDiag, format, args) }

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) { logf(StreamTrace, format, args) }
