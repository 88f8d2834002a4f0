package device

import (
	"bytes"
	"errors"
	"io"
	"sync"

	"go.bug.st/serial"
)

// Port is the byte stream a bridge is reached through.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the port at path. Tests substitute one that returns a
// TestablePort.
type Opener func(path string, mode *serial.Mode) (Port, error)

// OpenSerial opens a real serial device.
func OpenSerial(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// ListPorts returns the serial devices the OS knows about.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

var errPortClosed = errors.New("serial port closed")

// TestablePort is an in-memory Port. Reads block until data is added or the
// port is closed; writes are captured.
type TestablePort struct {
	mu       sync.Mutex
	cond     *sync.Cond
	in       bytes.Buffer
	out      bytes.Buffer
	closed   bool
	eof      bool
	writeErr error
}

// NewTestablePort returns an open, empty port.
func NewTestablePort() *TestablePort {
	p := &TestablePort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Read implements io.Reader.
func (p *TestablePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.in.Len() == 0 {
		if p.eof {
			return 0, io.EOF
		}
		p.cond.Wait()
	}
	if p.closed {
		return 0, errPortClosed
	}
	return p.in.Read(b)
}

// Write implements io.Writer.
func (p *TestablePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.out.Write(b)
}

// Close implements io.Closer and wakes blocked readers.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// AddReadData appends bytes for subsequent reads.
func (p *TestablePort) AddReadData(b []byte) {
	p.mu.Lock()
	p.in.Write(b)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Hangup makes reads return io.EOF once buffered data is drained, as when
// the bridge is unplugged.
func (p *TestablePort) Hangup() {
	p.mu.Lock()
	p.eof = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// FailWrites makes every later Write return err.
func (p *TestablePort) FailWrites(err error) {
	p.mu.Lock()
	p.writeErr = err
	p.mu.Unlock()
}

// Written returns a copy of everything written so far.
func (p *TestablePort) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

// Closed reports whether Close was called.
func (p *TestablePort) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
