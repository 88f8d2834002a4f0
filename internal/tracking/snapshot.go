package tracking

// Frame returns the frame released history frames ago; 0 is the newest.
// Out of range returns InvalidFrame.
func (c *Connection) Frame(history int) Frame {
	return c.frames.GetOr(history, InvalidFrame())
}

// Frames returns up to n of the newest frames, newest first.
func (c *Connection) Frames(n int) []Frame {
	all := c.frames.Snapshot()
	if n >= 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

// LatestImagePair returns the newest complete stereo pair.
func (c *Connection) LatestImagePair() (left, right Image, ok bool) {
	return c.images.LatestImages()
}

// FrameImagePair returns the stereo pair captured for frameID.
func (c *Connection) FrameImagePair(frameID int64) (left, right Image, ok bool) {
	return c.images.ImagesForFrame(frameID)
}

// LatestRawImagePair returns the newest complete raw stereo pair.
func (c *Connection) LatestRawImagePair() (left, right Image, ok bool) {
	return c.rawImages.LatestImages()
}

// LatestQuad returns the newest tracked quad, or InvalidQuad.
func (c *Connection) LatestQuad() TrackedQuad {
	return c.quads.GetOr(0, InvalidQuad())
}

// QuadForFrame returns the tracked quad delivered for frameID.
func (c *Connection) QuadForFrame(frameID int64) (TrackedQuad, bool) {
	quad, ok := InvalidQuad(), false
	c.quads.View(func(at func(int) (TrackedQuad, bool), count int) {
		for i := 0; i < count; i++ {
			q, _ := at(i)
			if q.ID == frameID {
				quad, ok = q, true
				return
			}
		}
	})
	return quad, ok
}

// Distortion returns the calibration grid stored under version, or nil.
func (c *Connection) Distortion(version uint64) *DistortionData {
	return c.distortion.Matrix(version)
}

// DistortionChanged reports whether either side's calibration rotated since
// the previous call.
func (c *Connection) DistortionChanged() bool {
	return c.distortion.TakeDirty()
}

// Now returns the driver clock in microseconds.
func (c *Connection) Now() int64 {
	return c.source.Now()
}

// IsConnected reports whether the dispatch loop is running against an open
// source.
func (c *Connection) IsConnected() bool {
	return c.running.Load()
}

// IsServiceConnected reports whether the tracking service has accepted the
// connection and not since dropped it.
func (c *Connection) IsServiceConnected() bool {
	return c.running.Load() && c.serviceConnected.Load()
}

// Devices returns the currently attached devices.
func (c *Connection) Devices() []DeviceInfo {
	c.devMu.RLock()
	defer c.devMu.RUnlock()
	return append([]DeviceInfo(nil), c.devices...)
}

// Stats returns a snapshot of the pipeline counters.
func (c *Connection) Stats() Stats {
	mean, std := c.stats.waitStats()
	return Stats{
		Running:          c.running.Load(),
		ServiceConnected: c.serviceConnected.Load(),
		Restarts:         c.stats.restarts.Load(),
		FramesReleased:   c.stats.released.Load(),
		FramesTimedOut:   c.stats.timedOut.Load(),
		FramesEvicted:    c.stats.evicted.Load(),
		Pending:          int(c.stats.pendingSize.Load()),
		ImagesReceived:   c.stats.images.Load(),
		ImageFillErrors:  c.stats.fillErrors.Load(),
		QuadsReceived:    c.stats.quads.Load(),
		UnknownEvents:    c.stats.unknown.Load(),
		ListenerDrops:    c.listeners.dropped.Load(),
		WaitMeanMicros:   mean,
		WaitStdDevMicros: std,
		Pool:             c.pool.Stats(),
	}
}
