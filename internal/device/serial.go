package device

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/motionframe/internal/framecodec"
	"github.com/banshee-data/motionframe/internal/timeutil"
	"github.com/banshee-data/motionframe/internal/tracking"
)

const (
	eventQueueSize = 256
	// maxFillFrames bounds how many frames may have images outstanding
	// before the oldest requests are abandoned.
	maxFillFrames = 32
)

type fill struct {
	handle int
	buf    []byte
}

// SerialSource is a tracking.Source that talks to a bridge over a serial
// line. The bridge streams varint-delimited framecodec messages; image
// pixels travel with each ImageCompleteEvent and are copied into the buffer
// the dispatch loop supplied through FillImage. Completions for one frame
// must arrive in the order the bridge requested them. Completions are
// matched on the dispatch goroutine so a FillImage always precedes the
// completion it answers.
type SerialSource struct {
	path  string
	opts  SerialOptions
	open  Opener
	clock timeutil.Clock

	mu      sync.Mutex
	port    Port
	events  chan framecodec.Message
	done    chan struct{}
	fills   map[int64][]fill
	devices []tracking.DeviceInfo

	// Driver clock anchor: the newest bridge timestamp and the local
	// micros when it arrived.
	stamp   int64
	stampAt int64
	stamped bool

	writeMu sync.Mutex
}

// NewSerialSource returns a source for the bridge at path. A nil opener
// uses OpenSerial; a nil clock uses the real clock.
func NewSerialSource(path string, opts SerialOptions, opener Opener, clock timeutil.Clock) *SerialSource {
	if opener == nil {
		opener = OpenSerial
	}
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	return &SerialSource{path: path, opts: opts, open: opener, clock: clock}
}

// Open implements tracking.Source.
func (s *SerialSource) Open() error {
	mode, err := s.opts.Mode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		return nil
	}
	port, err := s.open(s.path, mode)
	if err != nil {
		return err
	}
	s.port = port
	s.events = make(chan framecodec.Message, eventQueueSize)
	s.done = make(chan struct{})
	s.fills = make(map[int64][]fill)
	s.devices = nil
	tracking.Opsf("bridge %s opened at %d baud", s.path, mode.BaudRate)
	go s.read(port, s.events, s.done)
	return nil
}

// Close implements tracking.Source. It unblocks Poll and stops the reader.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	port, done := s.port, s.done
	s.port = nil
	s.fills = nil
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	close(done)
	return port.Close()
}

func (s *SerialSource) read(port Port, events chan<- framecodec.Message, done <-chan struct{}) {
	defer close(events)
	r := framecodec.NewReader(port, 0)
	for {
		b, err := r.Next()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				tracking.Opsf("bridge %s hung up", s.path)
			} else {
				tracking.Opsf("bridge %s read failed: %v", s.path, err)
			}
			s.emit(events, done, framecodec.Message{Event: tracking.ConnectionLostEvent{}})
			return
		}

		msg, err := framecodec.DecodeMessage(b)
		if err != nil {
			tracking.Diagf("bridge %s: dropping undecodable message: %v", s.path, err)
			continue
		}
		if msg.Event == nil {
			continue
		}
		s.observe(msg.Event)
		if !s.emit(events, done, msg) {
			return
		}
	}
}

func (s *SerialSource) emit(events chan<- framecodec.Message, done <-chan struct{}, msg framecodec.Message) bool {
	select {
	case events <- msg:
		return true
	case <-done:
		return false
	}
}

// observe tracks device membership and the driver clock as messages
// arrive, ahead of the dispatch loop.
func (s *SerialSource) observe(ev tracking.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev := ev.(type) {
	case tracking.TrackingEvent:
		s.anchor(ev.Timestamp)
	case tracking.TrackedQuadEvent:
		s.anchor(ev.Timestamp)
	case tracking.LogEvent:
		s.anchor(ev.Timestamp)
	case tracking.DeviceEvent:
		s.devices = upsertDevice(s.devices, ev.Device)
	case tracking.DeviceLostEvent:
		s.devices = removeDevice(s.devices, ev.Device.ID)
	}
}

func (s *SerialSource) anchor(ts int64) {
	s.stamp = ts
	s.stampAt = s.clock.Micros()
	s.stamped = true
}

// complete matches an image completion to the oldest outstanding fill for
// its frame and copies the pixels into that buffer. It runs on the dispatch
// goroutine, after the FillImage call for the request that preceded it.
func (s *SerialSource) complete(ev tracking.ImageCompleteEvent, pixels []byte) (tracking.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.fills[ev.FrameID]
	if len(queue) == 0 {
		tracking.Diagf("bridge %s: image for frame %d was never requested", s.path, ev.FrameID)
		return nil, false
	}
	f := queue[0]
	if len(queue) == 1 {
		delete(s.fills, ev.FrameID)
	} else {
		s.fills[ev.FrameID] = queue[1:]
	}
	if n := copy(f.buf, pixels); n != len(f.buf) {
		tracking.Diagf("bridge %s: frame %d image short by %d bytes", s.path, ev.FrameID, len(f.buf)-n)
	}
	ev.Handle = f.handle
	return ev, true
}

// Poll implements tracking.Source.
func (s *SerialSource) Poll(timeout time.Duration) (tracking.Event, tracking.Result) {
	s.mu.Lock()
	events, done := s.events, s.done
	open := s.port != nil
	s.mu.Unlock()
	if !open {
		return nil, tracking.ResultNotConnected
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	hungUp := false
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				// Reader gone. A dead port still honours the timeout.
				events, hungUp = nil, true
				continue
			}
			ic, isImage := msg.Event.(tracking.ImageCompleteEvent)
			if !isImage {
				return msg.Event, tracking.ResultSuccess
			}
			if ev, ok := s.complete(ic, msg.Pixels); ok {
				return ev, tracking.ResultSuccess
			}
		case <-done:
			return nil, tracking.ResultNotConnected
		case <-timer.C:
			if hungUp {
				return nil, tracking.ResultNotConnected
			}
			return nil, tracking.ResultTimeout
		}
	}
}

// FillImage implements tracking.Source. The buffer is filled when the
// matching completion arrives.
func (s *SerialSource) FillImage(handle int, req tracking.ImageRequestEvent, buf []byte) tracking.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return tracking.ResultNotConnected
	}
	if len(s.fills) >= maxFillFrames {
		if _, ok := s.fills[req.FrameID]; !ok {
			s.dropOldestFill()
		}
	}
	s.fills[req.FrameID] = append(s.fills[req.FrameID], fill{handle: handle, buf: buf})
	return tracking.ResultSuccess
}

func (s *SerialSource) dropOldestFill() {
	oldest, first := int64(0), true
	for id := range s.fills {
		if first || id < oldest {
			oldest, first = id, false
		}
	}
	tracking.Diagf("bridge %s: abandoning %d image requests for frame %d", s.path, len(s.fills[oldest]), oldest)
	delete(s.fills, oldest)
}

// SetPolicy implements tracking.Source by forwarding the request to the
// bridge, which answers with a PolicyEvent once applied.
func (s *SerialSource) SetPolicy(set, clear tracking.Policy) tracking.Result {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return tracking.ResultNotConnected
	}

	b, err := framecodec.EncodeMessage(framecodec.Message{Policy: &framecodec.PolicyRequest{Set: set, Clear: clear}})
	if err != nil {
		return tracking.ResultInvalidArgument
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := framecodec.WriteDelimited(port, b); err != nil {
		tracking.Diagf("bridge %s: policy write failed: %v", s.path, err)
		return tracking.ResultNotConnected
	}
	return tracking.ResultSuccess
}

// Devices implements tracking.Source with the devices the bridge has
// announced since Open.
func (s *SerialSource) Devices() ([]tracking.DeviceInfo, tracking.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil, tracking.ResultNotConnected
	}
	return append([]tracking.DeviceInfo(nil), s.devices...), tracking.ResultSuccess
}

// Now implements tracking.Source. It extrapolates the newest bridge
// timestamp with the local clock, and falls back to local time until the
// bridge has sent one.
func (s *SerialSource) Now() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Micros()
	if !s.stamped {
		return now
	}
	return s.stamp + (now - s.stampAt)
}

func upsertDevice(list []tracking.DeviceInfo, d tracking.DeviceInfo) []tracking.DeviceInfo {
	for i := range list {
		if list[i].ID == d.ID {
			list[i] = d
			return list
		}
	}
	return append(list, d)
}

func removeDevice(list []tracking.DeviceInfo, id uint32) []tracking.DeviceInfo {
	out := list[:0]
	for _, d := range list {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}
