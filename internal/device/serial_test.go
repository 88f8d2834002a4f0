package device

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/motionframe/internal/framecodec"
	"github.com/banshee-data/motionframe/internal/timeutil"
	"github.com/banshee-data/motionframe/internal/tracking"
)

func newBridge(t *testing.T) (*SerialSource, *TestablePort, *timeutil.MockClock) {
	t.Helper()
	port := NewTestablePort()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	opener := func(path string, mode *serial.Mode) (Port, error) {
		assert.Equal(t, "/dev/ttyBRIDGE", path)
		assert.Equal(t, DefaultBaudRate, mode.BaudRate)
		return port, nil
	}
	s := NewSerialSource("/dev/ttyBRIDGE", SerialOptions{}, opener, clock)
	require.NoError(t, s.Open())
	t.Cleanup(func() { _ = s.Close() })
	return s, port, clock
}

// feed writes messages to the bridge side of port.
func feed(t *testing.T, port *TestablePort, msgs ...framecodec.Message) {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		b, err := framecodec.EncodeMessage(m)
		require.NoError(t, err)
		require.NoError(t, framecodec.WriteDelimited(&buf, b))
	}
	port.AddReadData(buf.Bytes())
}

func event(ev tracking.Event) framecodec.Message { return framecodec.Message{Event: ev} }

func mustPoll(t *testing.T, s tracking.Source) tracking.Event {
	t.Helper()
	ev, res := s.Poll(time.Second)
	require.Equal(t, tracking.ResultSuccess, res)
	return ev
}

func TestSerialSource_PassesEventsThrough(t *testing.T) {
	s, port, clock := newBridge(t)
	assert.Equal(t, clock.Micros(), s.Now(), "before any bridge timestamp Now is local time")

	device := tracking.DeviceInfo{ID: 4, SerialNumber: "LP42", Streaming: true}
	feed(t, port,
		event(tracking.ConnectionEvent{}),
		event(tracking.DeviceEvent{Device: device}),
		event(tracking.TrackingEvent{FrameID: 10, Timestamp: 1000, Hands: []tracking.Hand{{ID: 1}}}),
	)

	assert.Equal(t, tracking.ConnectionEvent{}, mustPoll(t, s))
	assert.Equal(t, tracking.DeviceEvent{Device: device}, mustPoll(t, s))
	ev := mustPoll(t, s)
	te, ok := ev.(tracking.TrackingEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, int64(10), te.FrameID)
	assert.Len(t, te.Hands, 1)

	devs, res := s.Devices()
	assert.Equal(t, tracking.ResultSuccess, res)
	assert.Equal(t, []tracking.DeviceInfo{device}, devs)

	clock.Advance(250 * time.Microsecond)
	assert.Equal(t, int64(1250), s.Now())

	feed(t, port, event(tracking.DeviceLostEvent{Device: device}))
	mustPoll(t, s)
	devs, _ = s.Devices()
	assert.Empty(t, devs)
}

func TestSerialSource_ImageCompletionFillsBuffer(t *testing.T) {
	s, port, _ := newBridge(t)

	req := tracking.ImageRequestEvent{FrameID: 5, Width: 2, Height: 2, BytesPerPixel: 1}
	// The bridge runs ahead of the loop: both completions are already on
	// the wire before FillImage is called.
	feed(t, port,
		event(req),
		event(req),
		framecodec.Message{Event: tracking.ImageCompleteEvent{FrameID: 5, SequenceID: 1, Side: 0}, Pixels: []byte{1, 2, 3, 4}},
		framecodec.Message{Event: tracking.ImageCompleteEvent{FrameID: 5, SequenceID: 1, Side: 1}, Pixels: []byte{5, 6, 7, 8}},
	)

	left, right := make([]byte, 4), make([]byte, 4)
	assert.Equal(t, req, mustPoll(t, s))
	assert.Equal(t, tracking.ResultSuccess, s.FillImage(3, req, left))
	assert.Equal(t, req, mustPoll(t, s))
	assert.Equal(t, tracking.ResultSuccess, s.FillImage(8, req, right))

	first := mustPoll(t, s).(tracking.ImageCompleteEvent)
	second := mustPoll(t, s).(tracking.ImageCompleteEvent)
	assert.Equal(t, 3, first.Handle)
	assert.Equal(t, 8, second.Handle)
	assert.Equal(t, []byte{1, 2, 3, 4}, left)
	assert.Equal(t, []byte{5, 6, 7, 8}, right)
}

func TestSerialSource_SkipsUnrequestedCompletion(t *testing.T) {
	s, port, _ := newBridge(t)
	feed(t, port,
		framecodec.Message{Event: tracking.ImageCompleteEvent{FrameID: 9}, Pixels: []byte{1}},
		event(tracking.TrackingEvent{FrameID: 10}),
	)
	ev := mustPoll(t, s)
	assert.Equal(t, tracking.EventTracking, tracking.TypeOf(ev))
}

func TestSerialSource_FillBacklogBounded(t *testing.T) {
	s, _, _ := newBridge(t)
	for id := int64(1); id <= maxFillFrames+5; id++ {
		s.FillImage(int(id), tracking.ImageRequestEvent{FrameID: id}, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.fills, maxFillFrames)
	_, oldest := s.fills[1]
	assert.False(t, oldest, "oldest frame should have been abandoned")
}

func TestSerialSource_SkipsUndecodableMessage(t *testing.T) {
	s, port, _ := newBridge(t)
	var buf bytes.Buffer
	require.NoError(t, framecodec.WriteDelimited(&buf, []byte{0x00}))
	port.AddReadData(buf.Bytes())
	feed(t, port, event(tracking.LogEvent{Message: "ok"}))

	assert.Equal(t, tracking.LogEvent{Message: "ok"}, mustPoll(t, s))
}

func TestSerialSource_SetPolicyWritesRequest(t *testing.T) {
	s, port, _ := newBridge(t)
	want := tracking.PolicyImages | tracking.PolicyTrackedQuads
	require.Equal(t, tracking.ResultSuccess, s.SetPolicy(want, ^want))

	b, err := framecodec.NewReader(bytes.NewReader(port.Written()), 0).Next()
	require.NoError(t, err)
	msg, err := framecodec.DecodeMessage(b)
	require.NoError(t, err)
	require.NotNil(t, msg.Policy)
	assert.Equal(t, want, msg.Policy.Set)
	assert.Equal(t, ^want, msg.Policy.Clear)

	port.FailWrites(errors.New("cable pulled"))
	assert.Equal(t, tracking.ResultNotConnected, s.SetPolicy(want, 0))
}

func TestSerialSource_Hangup(t *testing.T) {
	s, port, _ := newBridge(t)
	port.Hangup()

	assert.Equal(t, tracking.ConnectionLostEvent{}, mustPoll(t, s))

	const wait = 20 * time.Millisecond
	for i := 0; i < 2; i++ {
		start := time.Now()
		_, res := s.Poll(wait)
		assert.Equal(t, tracking.ResultNotConnected, res)
		assert.GreaterOrEqual(t, time.Since(start), wait, "poll after hangup must honour its timeout")
	}
}

func TestSerialSource_CloseAfterHangupUnblocksPoll(t *testing.T) {
	s, port, _ := newBridge(t)
	port.Hangup()
	assert.Equal(t, tracking.ConnectionLostEvent{}, mustPoll(t, s))

	polled := make(chan tracking.Result, 1)
	go func() {
		_, res := s.Poll(5 * time.Second)
		polled <- res
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case res := <-polled:
		assert.Equal(t, tracking.ResultNotConnected, res)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Poll after hangup")
	}
}

func TestSerialSource_PollTimeout(t *testing.T) {
	s, _, _ := newBridge(t)
	ev, res := s.Poll(5 * time.Millisecond)
	assert.Nil(t, ev)
	assert.Equal(t, tracking.ResultTimeout, res)
}

func TestSerialSource_Close(t *testing.T) {
	s, port, _ := newBridge(t)

	polled := make(chan tracking.Result, 1)
	go func() {
		_, res := s.Poll(5 * time.Second)
		polled <- res
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case res := <-polled:
		assert.Equal(t, tracking.ResultNotConnected, res)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock Poll")
	}
	assert.True(t, port.Closed())
	assert.NoError(t, s.Close(), "second Close")

	assert.Equal(t, tracking.ResultNotConnected, s.FillImage(1, tracking.ImageRequestEvent{}, nil))
	assert.Equal(t, tracking.ResultNotConnected, s.SetPolicy(0, 0))
	_, res := s.Devices()
	assert.Equal(t, tracking.ResultNotConnected, res)
}

func TestSerialSource_OpenErrors(t *testing.T) {
	failing := func(string, *serial.Mode) (Port, error) { return nil, errors.New("no such device") }
	s := NewSerialSource("/dev/missing", SerialOptions{}, failing, nil)
	assert.EqualError(t, s.Open(), "no such device")
	_, res := s.Poll(time.Millisecond)
	assert.Equal(t, tracking.ResultNotConnected, res)

	bad := NewSerialSource("/dev/ttyX", SerialOptions{StopBits: 5}, failing, nil)
	assert.Error(t, bad.Open())
}

func TestSerialSource_DrivesConnection(t *testing.T) {
	s, port, _ := newBridge(t)
	require.NoError(t, s.Close())
	port = NewTestablePort()
	s.open = func(string, *serial.Mode) (Port, error) { return port, nil }

	cfg := tracking.DefaultConfig()
	cfg.Policy = tracking.PolicyImages
	cfg.PollTimeout = 5 * time.Millisecond
	conn := tracking.NewConnection(s, cfg)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.Start(context.Background()))

	req := tracking.ImageRequestEvent{FrameID: 1, Format: tracking.FormatIR, Width: 2, Height: 1, BytesPerPixel: 1}
	feed(t, port,
		event(tracking.ConnectionEvent{}),
		event(tracking.PolicyEvent{Flags: tracking.PolicyImages}),
		event(tracking.TrackingEvent{FrameID: 1, Timestamp: 100}),
		event(req),
		event(req),
		framecodec.Message{Event: tracking.ImageCompleteEvent{FrameID: 1, SequenceID: 7, Side: 0}, Pixels: []byte{10, 11}},
		framecodec.Message{Event: tracking.ImageCompleteEvent{FrameID: 1, SequenceID: 7, Side: 1}, Pixels: []byte{20, 21}},
	)

	require.Eventually(t, func() bool {
		f := conn.Frame(0)
		return f.ID == 1 && len(f.Images) == 2
	}, 2*time.Second, 5*time.Millisecond)

	f := conn.Frame(0)
	assert.Equal(t, []byte{10, 11}, f.Images[0].Data)
	assert.Equal(t, []byte{20, 21}, f.Images[1].Data)
	assert.True(t, conn.IsServiceConnected())

	// The connection pushed the startup policy to the bridge.
	b, err := framecodec.NewReader(bytes.NewReader(port.Written()), 0).Next()
	require.NoError(t, err)
	msg, err := framecodec.DecodeMessage(b)
	require.NoError(t, err)
	require.NotNil(t, msg.Policy)
	assert.Equal(t, tracking.PolicyImages, msg.Policy.Set)
}
