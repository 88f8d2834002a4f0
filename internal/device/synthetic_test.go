package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/motionframe/internal/timeutil"
	"github.com/banshee-data/motionframe/internal/tracking"
)

func newSynthetic(t *testing.T) (*SyntheticSource, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	s := NewSyntheticSource(clock, 1)
	s.ImageWidth, s.ImageHeight = 4, 2
	require.NoError(t, s.Open())
	return s, clock
}

func TestSyntheticSource_OpenAnnouncesServiceAndDevice(t *testing.T) {
	s, _ := newSynthetic(t)
	assert.Equal(t, tracking.ConnectionEvent{}, mustPoll(t, s))
	ev := mustPoll(t, s)
	dev, ok := ev.(tracking.DeviceEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, uint32(SyntheticDeviceID), dev.Device.ID)

	devs, res := s.Devices()
	assert.Equal(t, tracking.ResultSuccess, res)
	assert.Len(t, devs, 1)
}

func TestSyntheticSource_FramePacing(t *testing.T) {
	s, clock := newSynthetic(t)
	s.FrameRate = 100
	mustPoll(t, s)
	mustPoll(t, s)

	first := mustPoll(t, s).(tracking.TrackingEvent)
	assert.Equal(t, int64(1), first.FrameID)
	assert.Len(t, first.Hands, 2)
	assert.Len(t, first.Fingers, 10)

	// The next frame is 10ms out; a 4ms poll times out after sleeping.
	_, res := s.Poll(4 * time.Millisecond)
	assert.Equal(t, tracking.ResultTimeout, res)

	second := mustPoll(t, s).(tracking.TrackingEvent)
	assert.Equal(t, int64(2), second.FrameID)
	assert.Equal(t, int64(10000), second.Timestamp-first.Timestamp)
	assert.Equal(t, clock.Micros(), s.Now())
}

func TestSyntheticSource_PolicyGatesImages(t *testing.T) {
	s, _ := newSynthetic(t)
	mustPoll(t, s)
	mustPoll(t, s)

	mustPoll(t, s) // frame 1, no images yet
	require.Equal(t, tracking.ResultSuccess, s.SetPolicy(tracking.PolicyImages|tracking.PolicyTrackedQuads, 0))
	assert.Equal(t, tracking.PolicyEvent{Flags: tracking.PolicyImages | tracking.PolicyTrackedQuads}, mustPoll(t, s))

	assert.Equal(t, tracking.EventTracking, tracking.TypeOf(mustPoll(t, s)))
	reqs := []tracking.ImageRequestEvent{
		mustPoll(t, s).(tracking.ImageRequestEvent),
		mustPoll(t, s).(tracking.ImageRequestEvent),
	}
	quad := mustPoll(t, s).(tracking.TrackedQuadEvent)
	assert.Equal(t, int64(2), quad.FrameID)

	bufs := [][]byte{make([]byte, 8), make([]byte, 8)}
	for i, req := range reqs {
		assert.Equal(t, int64(2), req.FrameID)
		assert.Equal(t, 4, req.Width)
		require.Equal(t, tracking.ResultSuccess, s.FillImage(10+i, req, bufs[i]))
	}
	left := mustPoll(t, s).(tracking.ImageCompleteEvent)
	right := mustPoll(t, s).(tracking.ImageCompleteEvent)
	assert.Equal(t, 10, left.Handle)
	assert.Equal(t, int32(0), left.Side)
	assert.Equal(t, int32(1), right.Side)
	assert.Equal(t, int64(2), left.SequenceID, "a capture's sequence id is its frame id")
	assert.Equal(t, left.SequenceID, right.SequenceID)
	assert.Len(t, left.DistortionMatrix, 2*tracking.DistortionGridSize*tracking.DistortionGridSize)
	assert.NotEqual(t, bufs[0], bufs[1], "sides are painted differently")

	require.Equal(t, tracking.ResultSuccess, s.SetPolicy(0, tracking.PolicyImages))
	assert.Equal(t, tracking.PolicyEvent{Flags: tracking.PolicyTrackedQuads}, mustPoll(t, s))
}

func TestSyntheticSource_Reorder(t *testing.T) {
	s, _ := newSynthetic(t)
	s.Reorder = true
	s.SetPolicy(tracking.PolicyRawImages, 0)
	mustPoll(t, s) // connection
	mustPoll(t, s) // device
	mustPoll(t, s) // policy ack
	mustPoll(t, s) // tracking

	req := mustPoll(t, s).(tracking.ImageRequestEvent)
	assert.Equal(t, tracking.ImageTypeRaw, req.Type)
	require.Equal(t, tracking.ResultSuccess, s.FillImage(1, req, make([]byte, 8)))
	mustPoll(t, s) // second request
	done := mustPoll(t, s).(tracking.ImageCompleteEvent)
	assert.Equal(t, int32(1), done.Side, "right image completes first")
}

func TestSyntheticSource_RejectsUnknownRequest(t *testing.T) {
	s, _ := newSynthetic(t)
	res := s.FillImage(1, tracking.ImageRequestEvent{FrameID: 99}, nil)
	assert.Equal(t, tracking.ResultInvalidArgument, res)
}

func TestSyntheticSource_Closed(t *testing.T) {
	s, _ := newSynthetic(t)
	require.NoError(t, s.Close())
	_, res := s.Poll(time.Millisecond)
	assert.Equal(t, tracking.ResultNotConnected, res)
	assert.Equal(t, tracking.ResultNotConnected, s.SetPolicy(tracking.PolicyImages, 0))
	assert.Equal(t, tracking.ResultNotConnected, s.FillImage(0, tracking.ImageRequestEvent{}, nil))
	_, res = s.Devices()
	assert.Equal(t, tracking.ResultNotConnected, res)
}

func TestSyntheticSource_DrivesConnection(t *testing.T) {
	s := NewSyntheticSource(nil, 7)
	s.FrameRate = 200
	s.ImageWidth, s.ImageHeight = 8, 4

	cfg := tracking.DefaultConfig()
	cfg.Policy = tracking.PolicyImages | tracking.PolicyTrackedQuads
	cfg.PollTimeout = 10 * time.Millisecond
	conn := tracking.NewConnection(s, cfg)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.Start(context.Background()))

	require.Eventually(t, func() bool {
		f := conn.Frame(0)
		return f.ID > 0 && len(f.Images) == 2 && f.TrackedQuad.IsValid
	}, 3*time.Second, 5*time.Millisecond)

	left, right, ok := conn.LatestImagePair()
	require.True(t, ok)
	assert.Equal(t, left.SequenceID, right.SequenceID)
	assert.Len(t, left.Data, 32)

	f := conn.Frame(0)
	left, right, ok = conn.FrameImagePair(f.ID)
	require.True(t, ok, "frame %d has images in history", f.ID)
	assert.Equal(t, f.ID, left.ID)
	assert.Equal(t, f.ID, right.ID)
	assert.True(t, left.IsLeft())
	assert.True(t, conn.IsServiceConnected())
	assert.Equal(t, tracking.PolicyImages|tracking.PolicyTrackedQuads, conn.Policy())
	assert.NotNil(t, conn.Distortion(1))
}
