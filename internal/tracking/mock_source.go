package tracking

import (
	"sync"
	"time"
)

// FillCall records one FillImage request seen by a ScriptedSource.
type FillCall struct {
	Handle int
	Req    ImageRequestEvent
	Size   int
}

// PolicyCall records one SetPolicy request seen by a ScriptedSource.
type PolicyCall struct {
	Set, Clear Policy
}

type scripted struct {
	ev    Event
	res   Result
	panic string
}

// ScriptedSource is a Source that replays queued events. It is intended for
// tests and for driving a Connection without hardware.
type ScriptedSource struct {
	mu     sync.Mutex
	queue  []scripted
	wake   chan struct{}
	now    int64
	closed bool

	opens, closes int
	idlePolls     int
	fills         []FillCall
	policies      []PolicyCall

	OpenErr      error
	FillResult   Result
	PolicyResult Result
	DeviceList   []DeviceInfo

	// FillPattern, when nonzero, is written over every filled buffer.
	FillPattern byte
	// AckPolicy makes SetPolicy queue a matching PolicyEvent, as a driver does.
	AckPolicy bool
}

// NewScriptedSource returns an empty source with its clock at zero.
func NewScriptedSource() *ScriptedSource {
	return &ScriptedSource{wake: make(chan struct{}, 1)}
}

// Push queues events to be returned by Poll, in order.
func (s *ScriptedSource) Push(events ...Event) {
	s.mu.Lock()
	for _, ev := range events {
		s.queue = append(s.queue, scripted{ev: ev, res: ResultSuccess})
	}
	s.mu.Unlock()
	s.signal()
}

// PushResult queues a Poll that returns res with no event.
func (s *ScriptedSource) PushResult(res Result) {
	s.mu.Lock()
	s.queue = append(s.queue, scripted{res: res})
	s.mu.Unlock()
	s.signal()
}

// PushPanic queues a Poll that panics with msg.
func (s *ScriptedSource) PushPanic(msg string) {
	s.mu.Lock()
	s.queue = append(s.queue, scripted{panic: msg})
	s.mu.Unlock()
	s.signal()
}

func (s *ScriptedSource) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// SetNow sets the driver clock in microseconds.
func (s *ScriptedSource) SetNow(us int64) {
	s.mu.Lock()
	s.now = us
	s.mu.Unlock()
}

// Open implements Source.
func (s *ScriptedSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.closed = false
	return nil
}

// Close implements Source.
func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	s.closes++
	s.closed = true
	s.mu.Unlock()
	s.signal()
	return nil
}

// Poll implements Source. With nothing queued it waits for a Push or the
// timeout.
func (s *ScriptedSource) Poll(timeout time.Duration) (Event, Result) {
	if ev, res, ok := s.next(); ok {
		return ev, res
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.wake:
	case <-timer.C:
	}
	if ev, res, ok := s.next(); ok {
		return ev, res
	}

	s.mu.Lock()
	if len(s.queue) == 0 {
		s.idlePolls++
	}
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ResultNotConnected
	}
	return nil, ResultTimeout
}

func (s *ScriptedSource) next() (Event, Result, bool) {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return nil, ResultTimeout, false
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	if item.panic != "" {
		panic(item.panic)
	}
	return item.ev, item.res, true
}

// FillImage implements Source.
func (s *ScriptedSource) FillImage(handle int, req ImageRequestEvent, buf []byte) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fills = append(s.fills, FillCall{Handle: handle, Req: req, Size: len(buf)})
	if !s.FillResult.OK() {
		return s.FillResult
	}
	if s.FillPattern != 0 {
		for i := range buf {
			buf[i] = s.FillPattern
		}
	}
	return ResultSuccess
}

// SetPolicy implements Source.
func (s *ScriptedSource) SetPolicy(set, clear Policy) Result {
	s.mu.Lock()
	s.policies = append(s.policies, PolicyCall{Set: set, Clear: clear})
	res := s.PolicyResult
	ack := s.AckPolicy && res.OK()
	if ack {
		s.queue = append(s.queue, scripted{ev: PolicyEvent{Flags: set}, res: ResultSuccess})
	}
	s.mu.Unlock()
	if ack {
		s.signal()
	}
	return res
}

// Devices implements Source.
func (s *ScriptedSource) Devices() ([]DeviceInfo, Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceInfo(nil), s.DeviceList...), ResultSuccess
}

// Now implements Source.
func (s *ScriptedSource) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Opens returns how many times Open was called.
func (s *ScriptedSource) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Closes returns how many times Close was called.
func (s *ScriptedSource) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Fills returns the recorded FillImage calls.
func (s *ScriptedSource) Fills() []FillCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FillCall(nil), s.fills...)
}

// Policies returns the recorded SetPolicy calls.
func (s *ScriptedSource) Policies() []PolicyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PolicyCall(nil), s.policies...)
}

// WaitIdle blocks until every queued event has been consumed and a later
// Poll found nothing, or until timeout. It reports whether that happened.
func (s *ScriptedSource) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	s.mu.Lock()
	start := s.idlePolls
	s.mu.Unlock()
	for time.Now().Before(deadline) {
		s.mu.Lock()
		idle := len(s.queue) == 0 && s.idlePolls > start
		s.mu.Unlock()
		if idle {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
