package device

import (
	"sync"
	"time"

	"github.com/banshee-data/motionframe/internal/timeutil"
	"github.com/banshee-data/motionframe/internal/tracking"
)

// DisabledSource is a no-op tracking.Source used when no device is
// attached (--source=disabled). It never connects to a service, so the
// pipeline and its admin routes run with nothing to report. Poll blocks
// for the full timeout, or until Close, so the dispatch loop idles.
type DisabledSource struct {
	clock timeutil.Clock

	mu     sync.Mutex
	closed chan struct{}
}

// NewDisabledSource returns a source that is not yet open. A nil clock
// uses the real clock.
func NewDisabledSource(clock timeutil.Clock) *DisabledSource {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	return &DisabledSource{clock: clock}
}

// Open implements tracking.Source.
func (d *DisabledSource) Open() error {
	d.mu.Lock()
	if d.closed == nil {
		d.closed = make(chan struct{})
	}
	d.mu.Unlock()
	return nil
}

// Close implements tracking.Source.
func (d *DisabledSource) Close() error {
	d.mu.Lock()
	if d.closed != nil {
		close(d.closed)
		d.closed = nil
	}
	d.mu.Unlock()
	return nil
}

// Poll implements tracking.Source.
func (d *DisabledSource) Poll(timeout time.Duration) (tracking.Event, tracking.Result) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed == nil {
		return nil, tracking.ResultNotConnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-closed:
		return nil, tracking.ResultNotConnected
	case <-timer.C:
		return nil, tracking.ResultTimeout
	}
}

// FillImage implements tracking.Source.
func (d *DisabledSource) FillImage(int, tracking.ImageRequestEvent, []byte) tracking.Result {
	return tracking.ResultNotAvailable
}

// SetPolicy implements tracking.Source. Requests are accepted and dropped.
func (d *DisabledSource) SetPolicy(tracking.Policy, tracking.Policy) tracking.Result {
	return tracking.ResultSuccess
}

// Devices implements tracking.Source.
func (d *DisabledSource) Devices() ([]tracking.DeviceInfo, tracking.Result) {
	return nil, tracking.ResultSuccess
}

// Now implements tracking.Source.
func (d *DisabledSource) Now() int64 {
	return d.clock.Micros()
}
