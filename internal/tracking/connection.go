package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/motionframe/internal/config"
	"github.com/banshee-data/motionframe/internal/pool"
	"github.com/banshee-data/motionframe/internal/ring"
	"github.com/banshee-data/motionframe/internal/timeutil"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("tracking: connection closed")

// State is the lifecycle state of a Connection.
type State int32

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// Config controls a Connection.
type Config struct {
	FrameHistory int
	ImageHistory int
	QuadHistory  int
	Pool         pool.Config

	PollTimeout    time.Duration
	PendingTimeout time.Duration // driver-clock time a frame may wait for its streams
	MaxPending     int
	ListenerQueue  int

	// Policy is requested from the driver when the service connects.
	Policy Policy

	AutoRestart  bool
	MaxRestarts  int
	RestartDelay time.Duration

	// Clock paces restarts. Defaults to the real clock.
	Clock timeutil.Clock
}

// DefaultConfig returns the values used when no config file is given.
func DefaultConfig() Config {
	return Config{
		FrameHistory:   60,
		ImageHistory:   20,
		QuadHistory:    60,
		Pool:           pool.Config{Capacity: 24, GrowthFactor: pool.DefaultGrowthFactor},
		PollTimeout:    time.Second,
		PendingTimeout: 50 * time.Millisecond,
		MaxPending:     64,
		ListenerQueue:  256,
		Policy:         PolicyImages,
		MaxRestarts:    3,
		RestartDelay:   500 * time.Millisecond,
	}
}

// ConfigFromPipeline converts a loaded pipeline config.
func ConfigFromPipeline(pc *config.PipelineConfig) (Config, error) {
	policy, err := ParsePolicies(pc.GetPolicies())
	if err != nil {
		return Config{}, fmt.Errorf("policies: %w", err)
	}
	return Config{
		FrameHistory: pc.GetFrameHistory(),
		ImageHistory: pc.GetImageHistory(),
		QuadHistory:  pc.GetQuadHistory(),
		Pool: pool.Config{
			Capacity:     pc.GetImagePoolSize(),
			Growable:     pc.GetImagePoolGrowable(),
			GrowthFactor: pc.GetImagePoolGrowth(),
		},
		PollTimeout:    pc.GetPollTimeout(),
		PendingTimeout: pc.GetPendingFrameTimeout(),
		MaxPending:     pc.GetMaxPendingFrames(),
		ListenerQueue:  pc.GetListenerQueueSize(),
		Policy:         policy,
		AutoRestart:    pc.GetAutoRestart(),
		MaxRestarts:    pc.GetMaxRestarts(),
		RestartDelay:   pc.GetRestartDelay(),
	}, nil
}

// Connection runs the dispatch loop for one Source and owns every piece of
// pipeline state: histories, image pool, distortion cache and the pending
// queue. The dispatch goroutine is the only writer; the snapshot methods
// read the histories from any goroutine.
type Connection struct {
	source Source
	cfg    Config

	mu      sync.Mutex // guards lifecycle transitions
	opened  bool
	closed  bool
	done    chan struct{} // closed when the dispatch goroutine exits
	running atomic.Bool

	frames     *ring.Buffer[Frame]
	images     *ImageBuffer
	rawImages  *ImageBuffer
	quads      *ring.Buffer[TrackedQuad]
	pool       *pool.Pool[*ImageData]
	distortion *DistortionCache
	pending    *pendingQueue
	listeners  *listenerSet

	desired     atomic.Uint64 // policy requested by the application
	policyDirty atomic.Bool
	active      atomic.Uint64 // policy last reported by the driver

	serviceConnected atomic.Bool
	devMu            sync.RWMutex
	devices          []DeviceInfo

	// last abnormal results, dispatch goroutine only
	lastPoll   Result
	lastPolicy Result
	lastFill   Result

	stats counters
}

// NewConnection creates a stopped connection reading from source. Zero
// fields in cfg take the DefaultConfig values.
func NewConnection(source Source, cfg Config) *Connection {
	def := DefaultConfig()
	if cfg.FrameHistory < 1 {
		cfg.FrameHistory = def.FrameHistory
	}
	if cfg.ImageHistory < 1 {
		cfg.ImageHistory = def.ImageHistory
	}
	if cfg.QuadHistory < 1 {
		cfg.QuadHistory = def.QuadHistory
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = def.PollTimeout
	}
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = def.PendingTimeout
	}
	if cfg.MaxPending < 1 {
		cfg.MaxPending = def.MaxPending
	}
	if cfg.ListenerQueue < 1 {
		cfg.ListenerQueue = def.ListenerQueue
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.NewRealClock()
	}

	c := &Connection{
		source:     source,
		cfg:        cfg,
		frames:     ring.New[Frame](cfg.FrameHistory),
		images:     NewImageBuffer(cfg.ImageHistory),
		rawImages:  NewImageBuffer(cfg.ImageHistory),
		quads:      ring.New[TrackedQuad](cfg.QuadHistory),
		pool:       pool.New(cfg.Pool, NewImageData),
		distortion: NewDistortionCache(),
		pending:    newPendingQueue(cfg.PendingTimeout.Microseconds(), cfg.MaxPending),
		listeners:  newListenerSet(cfg.ListenerQueue),
	}
	c.desired.Store(uint64(cfg.Policy))
	if cfg.Policy != 0 {
		c.policyDirty.Store(true)
	}
	return c
}

// Subscribe registers l and returns its subscription id.
func (c *Connection) Subscribe(l Listener) string {
	return c.listeners.subscribe(l)
}

// Unsubscribe removes the listener registered under id.
func (c *Connection) Unsubscribe(id string) bool {
	return c.listeners.unsubscribe(id)
}

// State reports whether the dispatch loop is running.
func (c *Connection) State() State {
	if c.running.Load() {
		return StateRunning
	}
	return StateStopped
}

// Start opens the source if needed and launches the dispatch goroutine.
// Calling Start on a running connection does nothing. Cancelling ctx stops
// the loop as Stop would.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.running.Load() {
		return nil
	}
	// A loop that just failed may still be unwinding.
	if c.done != nil {
		<-c.done
	}
	if !c.opened {
		if err := c.source.Open(); err != nil {
			return fmt.Errorf("open source: %w", err)
		}
		c.opened = true
	}

	c.running.Store(true)
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
	Opsf("dispatch loop started")
	return nil
}

// Stop clears the run flag and waits for the dispatch goroutine to finish
// its current iteration. The source stays open.
func (c *Connection) Stop() {
	c.mu.Lock()
	c.running.Store(false)
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Close stops the loop, closes the source and drains pending listener
// notifications.
func (c *Connection) Close() error {
	c.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.listeners.close()
	if c.opened {
		c.opened = false
		if err := c.source.Close(); err != nil {
			return fmt.Errorf("close source: %w", err)
		}
	}
	return nil
}

// SetPolicy asks the driver to enable flags. The full mask is pushed from
// the dispatch goroutine on its next iteration.
func (c *Connection) SetPolicy(flags Policy) {
	for {
		old := c.desired.Load()
		if c.desired.CompareAndSwap(old, old|uint64(flags)) {
			break
		}
	}
	c.policyDirty.Store(true)
}

// ClearPolicy asks the driver to disable flags.
func (c *Connection) ClearPolicy(flags Policy) {
	for {
		old := c.desired.Load()
		if c.desired.CompareAndSwap(old, old&^uint64(flags)) {
			break
		}
	}
	c.policyDirty.Store(true)
}

// Policy returns the flags most recently reported by the driver.
func (c *Connection) Policy() Policy {
	return Policy(c.active.Load())
}

func (c *Connection) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	restarts := 0
	for {
		err := c.loop(ctx)
		if err == nil {
			Opsf("dispatch loop stopped")
			return
		}

		Opsf("dispatch loop failed: %v", err)
		c.listeners.notify(func(l Listener) { l.OnFatal(err) })

		if !c.cfg.AutoRestart || restarts >= c.cfg.MaxRestarts || !c.running.Load() {
			c.running.Store(false)
			return
		}
		restarts++
		c.stats.restarts.Add(1)
		Opsf("restarting dispatch loop (%d/%d) in %v", restarts, c.cfg.MaxRestarts, c.cfg.RestartDelay)

		select {
		case <-ctx.Done():
			c.running.Store(false)
			return
		case <-c.cfg.Clock.After(c.cfg.RestartDelay):
		}
		if !c.running.Load() {
			return
		}
	}
}

// loop runs iterations until the run flag clears. A panic in any handler
// ends the loop with an error.
func (c *Connection) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch loop panic: %v", r)
		}
	}()

	c.listeners.notify(func(l Listener) { l.OnInit() })
	for c.running.Load() {
		if ctx.Err() != nil {
			c.running.Store(false)
			return nil
		}
		c.step()
	}
	return nil
}

// step is one loop iteration: poll, dispatch, push policy changes.
func (c *Connection) step() {
	ev, res := c.source.Poll(c.cfg.PollTimeout)
	switch {
	case res.OK() && ev != nil:
		c.dispatch(ev)
	case res == ResultTimeout || (res.OK() && ev == nil):
		// Idle. Frames whose streams stopped arriving still time out.
		if c.pending.Len() > 0 {
			c.reconcile()
		}
	default:
		c.reportResult("poll", &c.lastPoll, res)
	}
	c.pushPolicy()
}

// reportResult surfaces an abnormal driver result once per distinct value.
func (c *Connection) reportResult(op string, last *Result, res Result) {
	if res.OK() || res == ResultTimeout || res == *last {
		return
	}
	*last = res
	msg := fmt.Sprintf("%s: %v", op, res)
	Diagf("%s", msg)
	ev := LogEvent{Severity: SeverityWarning, Timestamp: c.source.Now(), Message: msg}
	c.listeners.notify(func(l Listener) { l.OnLog(ev) })
}

func (c *Connection) pushPolicy() {
	// Swap first so a SetPolicy racing with the push marks it dirty again.
	if !c.policyDirty.Swap(false) {
		return
	}
	desired := Policy(c.desired.Load())
	if res := c.source.SetPolicy(desired, ^desired); !res.OK() {
		c.policyDirty.Store(true)
		c.reportResult("set policy", &c.lastPolicy, res)
		return
	}
	Diagf("policy requested: %v", desired)
}

// reconcile releases every ready frame at the front of the pending queue.
func (c *Connection) reconcile() {
	now := c.source.Now()
	c.pending.reconcile(now, func(pf *pendingFrame, why releaseReason) {
		f := detachImages(*pf.frame)
		c.frames.Put(f)
		c.stats.recordRelease(why, now-pf.enqueuedAt)
		if why != releaseComplete {
			Tracef("frame %d released (%v) with %d images, %d raw, quad=%t",
				f.ID, why, len(f.Images), len(f.RawImages), f.TrackedQuad.IsValid)
		}
		c.listeners.notify(func(l Listener) { l.OnFrame(f) })
	})
	c.stats.pendingSize.Store(int64(c.pending.Len()))
}

// detachImages copies a frame's pixels out of the pool. Frame history
// outlives image history, so a released frame must not share buffers the
// pool will hand to the driver again.
func detachImages(f Frame) Frame {
	if len(f.Images) > 0 {
		imgs := make([]Image, len(f.Images))
		for i, img := range f.Images {
			imgs[i] = img.Clone()
		}
		f.Images = imgs
	}
	if len(f.RawImages) > 0 {
		raw := make([]Image, len(f.RawImages))
		for i, img := range f.RawImages {
			raw[i] = img.Clone()
		}
		f.RawImages = raw
	}
	return f
}

// releaseSlot returns an image's pool buffer once the image leaves history,
// unless the pool already recycled it for a newer image.
func (c *Connection) releaseSlot(img Image) {
	if img.slot == nil || img.slot.PoolAge() != img.slotAge {
		return
	}
	c.pool.CheckIn(img.slot)
}
