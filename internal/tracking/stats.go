package tracking

import (
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/motionframe/internal/pool"
)

// waitSampleCap bounds the pending-wait samples kept for Stats.
const waitSampleCap = 512

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	Running          bool   `json:"running"`
	ServiceConnected bool   `json:"service_connected"`
	Restarts         uint64 `json:"restarts"`

	FramesReleased uint64 `json:"frames_released"`
	FramesTimedOut uint64 `json:"frames_timed_out"`
	FramesEvicted  uint64 `json:"frames_evicted"`
	Pending        int    `json:"pending"`

	ImagesReceived  uint64 `json:"images_received"`
	ImageFillErrors uint64 `json:"image_fill_errors"`
	QuadsReceived   uint64 `json:"quads_received"`
	UnknownEvents   uint64 `json:"unknown_events"`
	ListenerDrops   uint64 `json:"listener_drops"`

	// Pending wait in microseconds of driver time, over recent frames.
	WaitMeanMicros   float64 `json:"wait_mean_us"`
	WaitStdDevMicros float64 `json:"wait_stddev_us"`

	Pool pool.Stats `json:"pool"`
}

type counters struct {
	released    atomic.Uint64
	timedOut    atomic.Uint64
	evicted     atomic.Uint64
	images      atomic.Uint64
	fillErrors  atomic.Uint64
	quads       atomic.Uint64
	unknown     atomic.Uint64
	restarts    atomic.Uint64
	pendingSize atomic.Int64

	waitMu   sync.Mutex
	waits    []float64
	waitNext int
}

func (c *counters) recordRelease(why releaseReason, waitMicros int64) {
	switch why {
	case releaseComplete:
		c.released.Add(1)
	case releaseTimeout:
		c.timedOut.Add(1)
	case releaseEvicted:
		c.evicted.Add(1)
	}

	c.waitMu.Lock()
	if len(c.waits) < waitSampleCap {
		c.waits = append(c.waits, float64(waitMicros))
	} else {
		c.waits[c.waitNext] = float64(waitMicros)
		c.waitNext = (c.waitNext + 1) % waitSampleCap
	}
	c.waitMu.Unlock()
}

func (c *counters) waitStats() (mean, std float64) {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	switch len(c.waits) {
	case 0:
		return 0, 0
	case 1:
		return c.waits[0], 0
	}
	return stat.MeanStdDev(c.waits, nil)
}
