// Package device provides tracking.Source implementations: a serial bridge
// for real hardware, a synthetic generator for demos and soak tests, and a
// disabled source for running the service without a device.
package device

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/motionframe/internal/timeutil"
	"github.com/banshee-data/motionframe/internal/tracking"
)

// SyntheticDeviceID identifies the device a SyntheticSource reports.
const SyntheticDeviceID = 1

const staleRequestFrames = 64

type imageKey struct {
	frameID int64
	typ     tracking.ImageType
}

// SyntheticSource generates tracking frames, stereo images and tracked
// quads at a fixed rate. It honours the policy pushed to it the way a
// driver does: images are only announced while the matching flag is set,
// and every SetPolicy is acknowledged with a PolicyEvent.
type SyntheticSource struct {
	// Configuration
	FrameRate   float64 // frames per second
	HandCount   int     // hands per frame
	ImageWidth  int     // pixels per image row
	ImageHeight int     // rows per image
	Reorder     bool    // deliver the right image of each pair first

	clock timeutil.Clock

	mu        sync.Mutex
	rng       *rand.Rand
	open      bool
	policy    tracking.Policy
	queue     []tracking.Event
	sides     map[imageKey][]int32
	frameID   int64
	nextFrame int64 // clock micros
	distort   []float32
}

// NewSyntheticSource returns a generator at 60 frames per second with two
// hands and 64x48 images. A nil clock uses the real clock.
func NewSyntheticSource(clock timeutil.Clock, seed int64) *SyntheticSource {
	if clock == nil {
		clock = timeutil.NewRealClock()
	}
	return &SyntheticSource{
		FrameRate:   60,
		HandCount:   2,
		ImageWidth:  64,
		ImageHeight: 48,
		clock:       clock,
		rng:         rand.New(rand.NewSource(seed)),
		sides:       make(map[imageKey][]int32),
		distort:     identityGrid(),
	}
}

// identityGrid is a calibration grid that maps each point onto itself.
func identityGrid() []float32 {
	n := tracking.DistortionGridSize
	out := make([]float32, 0, 2*n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			out = append(out, float32(x)/float32(n-1), float32(y)/float32(n-1))
		}
	}
	return out
}

func (s *SyntheticSource) interval() int64 {
	if s.FrameRate <= 0 {
		return int64(time.Second / time.Microsecond / 60)
	}
	return int64(1e6 / s.FrameRate)
}

// Open implements tracking.Source. The service connection and the single
// synthetic device are announced straight away.
func (s *SyntheticSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	s.open = true
	s.nextFrame = s.clock.Micros()
	s.queue = append(s.queue,
		tracking.ConnectionEvent{},
		tracking.DeviceEvent{Device: s.device()},
	)
	return nil
}

func (s *SyntheticSource) device() tracking.DeviceInfo {
	return tracking.DeviceInfo{
		ID:           SyntheticDeviceID,
		SerialNumber: "SYN0000001",
		Product:      "synthetic",
		Streaming:    true,
	}
}

// Close implements tracking.Source.
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	s.open = false
	s.queue = nil
	s.sides = make(map[imageKey][]int32)
	s.mu.Unlock()
	return nil
}

// Poll implements tracking.Source. Between frames it sleeps on the clock,
// never longer than timeout.
func (s *SyntheticSource) Poll(timeout time.Duration) (tracking.Event, tracking.Result) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil, tracking.ResultNotConnected
	}
	if ev, ok := s.pop(); ok {
		s.mu.Unlock()
		return ev, tracking.ResultSuccess
	}
	wait := time.Duration(s.nextFrame-s.clock.Micros()) * time.Microsecond
	s.mu.Unlock()

	if wait > timeout {
		s.clock.Sleep(timeout)
		return nil, tracking.ResultTimeout
	}
	if wait > 0 {
		s.clock.Sleep(wait)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, tracking.ResultNotConnected
	}
	s.generate()
	ev, _ := s.pop()
	return ev, tracking.ResultSuccess
}

func (s *SyntheticSource) pop() (tracking.Event, bool) {
	if len(s.queue) == 0 {
		return nil, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// generate queues the events for one frame. Image completions follow
// later, from FillImage.
func (s *SyntheticSource) generate() {
	now := s.clock.Micros()
	s.nextFrame += s.interval()
	if s.nextFrame < now {
		s.nextFrame = now + s.interval()
	}
	s.frameID++
	id := s.frameID
	for key := range s.sides {
		// Requests the loop never filled.
		if key.frameID < id-staleRequestFrames {
			delete(s.sides, key)
		}
	}

	ev := tracking.TrackingEvent{FrameID: id, Timestamp: now}
	elapsed := float64(now) / 1e6
	for i := 0; i < s.HandCount; i++ {
		// Hands circle 150mm above the device, one revolution every 4s.
		angle := float64(i)*math.Pi + elapsed*math.Pi/2
		palm := tracking.Vector{
			X: float32(80 * math.Cos(angle)),
			Y: 150,
			Z: float32(80 * math.Sin(angle)),
		}
		hand := tracking.Hand{
			ID:         int32(i + 1),
			FrameID:    id,
			Timestamp:  now,
			IsLeft:     i%2 == 0,
			Confidence: 0.9 + 0.1*s.rng.Float32(),
			Palm:       palm,
		}
		ev.Hands = append(ev.Hands, hand)
		for f := 0; f < 5; f++ {
			ev.Fingers = append(ev.Fingers, tracking.Finger{
				ID:     hand.ID*10 + int32(f),
				HandID: hand.ID,
				Type:   int32(f),
				Tip:    tracking.Vector{X: palm.X + float32(f-2)*20, Y: palm.Y + 10, Z: palm.Z - 60},
			})
		}
	}
	s.queue = append(s.queue, ev)

	if s.policy.Has(tracking.PolicyImages) {
		s.announcePair(id, tracking.ImageTypeDefault, tracking.FormatIR)
	}
	if s.policy.Has(tracking.PolicyRawImages) {
		s.announcePair(id, tracking.ImageTypeRaw, tracking.FormatRGBIRBayer)
	}
	if s.policy.Has(tracking.PolicyTrackedQuads) {
		s.queue = append(s.queue, tracking.TrackedQuadEvent{
			FrameID:    id,
			Timestamp:  now,
			Width:      300,
			Height:     200,
			Resolution: 512,
			Visible:    true,
			Position:   tracking.Vector{Y: 250},
			Rotation:   [9]float32{1, 0, 0, 0, 1, 0, 0, 0, 1},
		})
	}
}

func (s *SyntheticSource) announcePair(id int64, typ tracking.ImageType, format tracking.ImageFormat) {
	sides := []int32{0, 1}
	if s.Reorder {
		sides = []int32{1, 0}
	}
	key := imageKey{frameID: id, typ: typ}
	for _, side := range sides {
		s.sides[key] = append(s.sides[key], side)
		s.queue = append(s.queue, tracking.ImageRequestEvent{
			FrameID:       id,
			Type:          typ,
			Format:        format,
			Width:         s.ImageWidth,
			Height:        s.ImageHeight,
			BytesPerPixel: 1,
		})
	}
}

// FillImage implements tracking.Source. The buffer is painted straight away
// and the completion queued.
func (s *SyntheticSource) FillImage(handle int, req tracking.ImageRequestEvent, buf []byte) tracking.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return tracking.ResultNotConnected
	}

	key := imageKey{frameID: req.FrameID, typ: req.Type}
	queue := s.sides[key]
	if len(queue) == 0 {
		return tracking.ResultInvalidArgument
	}
	side := queue[0]
	if len(queue) == 1 {
		delete(s.sides, key)
	} else {
		s.sides[key] = queue[1:]
	}

	for i := range buf {
		buf[i] = byte(int64(i) + req.FrameID + int64(side)*128)
	}

	perspective := tracking.PerspectiveStereoLeft
	if side != 0 {
		perspective = tracking.PerspectiveStereoRight
	}
	s.queue = append(s.queue, tracking.ImageCompleteEvent{
		Handle:            handle,
		FrameID:           req.FrameID,
		SequenceID:        req.FrameID,
		Side:              side,
		Perspective:       perspective,
		RayOffsetX:        0.5,
		RayOffsetY:        0.5,
		RayScaleX:         0.125,
		RayScaleY:         0.125,
		DistortionVersion: 1,
		DistortionMatrix:  s.distort,
	})
	return tracking.ResultSuccess
}

// SetPolicy implements tracking.Source.
func (s *SyntheticSource) SetPolicy(set, clear tracking.Policy) tracking.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return tracking.ResultNotConnected
	}
	s.policy = (s.policy | set) &^ clear
	s.queue = append(s.queue, tracking.PolicyEvent{Flags: s.policy})
	return tracking.ResultSuccess
}

// Devices implements tracking.Source.
func (s *SyntheticSource) Devices() ([]tracking.DeviceInfo, tracking.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, tracking.ResultNotConnected
	}
	return []tracking.DeviceInfo{s.device()}, tracking.ResultSuccess
}

// Now implements tracking.Source.
func (s *SyntheticSource) Now() int64 {
	return s.clock.Micros()
}
