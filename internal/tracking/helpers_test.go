package tracking

import (
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/motionframe/internal/pool"
)

// recorder captures every notification it receives.
type recorder struct {
	BaseListener

	mu          sync.Mutex
	inits       int
	connects    int
	disconnects int
	frames      []Frame
	images      []Image
	quads       []TrackedQuad
	distortions []DistortionChange
	logs        []LogEvent
	policies    []Policy
	devices     []DeviceInfo
	lost        []DeviceInfo
	failures    []DeviceFailureEvent
	configs     []ConfigChangeEvent
	responses   []ConfigResponseEvent
	fatals      []error
}

func (r *recorder) OnInit()       { r.mu.Lock(); r.inits++; r.mu.Unlock() }
func (r *recorder) OnConnect()    { r.mu.Lock(); r.connects++; r.mu.Unlock() }
func (r *recorder) OnDisconnect() { r.mu.Lock(); r.disconnects++; r.mu.Unlock() }
func (r *recorder) OnFrame(f Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
}
func (r *recorder) OnImageReady(img Image) {
	r.mu.Lock()
	r.images = append(r.images, img)
	r.mu.Unlock()
}
func (r *recorder) OnTrackedQuad(q TrackedQuad) {
	r.mu.Lock()
	r.quads = append(r.quads, q)
	r.mu.Unlock()
}
func (r *recorder) OnDistortionChange(d DistortionChange) {
	r.mu.Lock()
	r.distortions = append(r.distortions, d)
	r.mu.Unlock()
}
func (r *recorder) OnLog(e LogEvent) {
	r.mu.Lock()
	r.logs = append(r.logs, e)
	r.mu.Unlock()
}
func (r *recorder) OnPolicyChange(p Policy) {
	r.mu.Lock()
	r.policies = append(r.policies, p)
	r.mu.Unlock()
}
func (r *recorder) OnDevice(d DeviceInfo) {
	r.mu.Lock()
	r.devices = append(r.devices, d)
	r.mu.Unlock()
}
func (r *recorder) OnDeviceLost(d DeviceInfo) {
	r.mu.Lock()
	r.lost = append(r.lost, d)
	r.mu.Unlock()
}
func (r *recorder) OnDeviceFailure(e DeviceFailureEvent) {
	r.mu.Lock()
	r.failures = append(r.failures, e)
	r.mu.Unlock()
}
func (r *recorder) OnConfigChange(e ConfigChangeEvent) {
	r.mu.Lock()
	r.configs = append(r.configs, e)
	r.mu.Unlock()
}
func (r *recorder) OnConfigResponse(e ConfigResponseEvent) {
	r.mu.Lock()
	r.responses = append(r.responses, e)
	r.mu.Unlock()
}
func (r *recorder) OnFatal(err error) {
	r.mu.Lock()
	r.fatals = append(r.fatals, err)
	r.mu.Unlock()
}

func (r *recorder) frameIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, len(r.frames))
	for i, f := range r.frames {
		ids[i] = f.ID
	}
	return ids
}

func (r *recorder) count(fn func(r *recorder) int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r)
}

// testConfig is a small, fast configuration for unit tests. No policy is
// requested so SetPolicy calls only appear when a test asks for them.
func testConfig() Config {
	return Config{
		FrameHistory:   8,
		ImageHistory:   8,
		QuadHistory:    8,
		Pool:           pool.Config{Capacity: 8},
		PollTimeout:    2 * time.Millisecond,
		PendingTimeout: 50 * time.Millisecond,
		MaxPending:     16,
		ListenerQueue:  1024,
	}
}

// newTestConnection returns a stopped connection with a recorder attached.
// Tests drive it synchronously through dispatch and step.
func newTestConnection(t *testing.T, cfg Config) (*Connection, *ScriptedSource, *recorder) {
	t.Helper()
	src := NewScriptedSource()
	c := NewConnection(src, cfg)
	rec := &recorder{}
	c.Subscribe(rec)
	t.Cleanup(func() { c.Close() })
	return c, src, rec
}

// deliverImage runs an image through request and completion.
func deliverImage(t *testing.T, c *Connection, src *ScriptedSource, frameID, seq int64, side int32, typ ImageType) Image {
	t.Helper()
	c.dispatch(ImageRequestEvent{
		FrameID:       frameID,
		Type:          typ,
		Format:        FormatIR,
		Width:         4,
		Height:        2,
		BytesPerPixel: 1,
	})
	fills := src.Fills()
	if len(fills) == 0 {
		t.Fatalf("no FillImage call for frame %d", frameID)
	}
	persp := PerspectiveStereoLeft
	if side != 0 {
		persp = PerspectiveStereoRight
	}
	c.dispatch(ImageCompleteEvent{
		Handle:            fills[len(fills)-1].Handle,
		FrameID:           frameID,
		SequenceID:        seq,
		Side:              side,
		Perspective:       persp,
		DistortionVersion: 1,
		DistortionMatrix:  []float32{0.5, 0.5},
	})
	img, _ := c.images.Get(0)
	if typ == ImageTypeRaw {
		img, _ = c.rawImages.Get(0)
	}
	return img
}

// deliverPair delivers both sides of a stereo capture for frameID.
func deliverPair(t *testing.T, c *Connection, src *ScriptedSource, frameID int64) {
	t.Helper()
	deliverImage(t, c, src, frameID, frameID, 0, ImageTypeDefault)
	deliverImage(t, c, src, frameID, frameID, 1, ImageTypeDefault)
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
