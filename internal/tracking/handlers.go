package tracking

// dispatch routes one decoded event to its handler.
func (c *Connection) dispatch(ev Event) {
	switch e := ev.(type) {
	case ConnectionEvent:
		c.handleConnection(e)
	case ConnectionLostEvent:
		c.handleConnectionLost(e)
	case DeviceEvent:
		c.handleDevice(e)
	case DeviceLostEvent:
		c.handleDeviceLost(e)
	case DeviceFailureEvent:
		c.handleDeviceFailure(e)
	case TrackingEvent:
		c.handleTracking(e)
	case ImageRequestEvent:
		c.handleImageRequest(e)
	case ImageCompleteEvent:
		c.handleImageComplete(e)
	case TrackedQuadEvent:
		c.handleTrackedQuad(e)
	case LogEvent:
		c.handleLog(e)
	case PolicyEvent:
		c.handlePolicy(e)
	case ConfigChangeEvent:
		c.listeners.notify(func(l Listener) { l.OnConfigChange(e) })
	case ConfigResponseEvent:
		c.listeners.notify(func(l Listener) { l.OnConfigResponse(e) })
	default:
		c.stats.unknown.Add(1)
		if u, ok := ev.(UnknownEvent); ok {
			Diagf("discarding unknown event tag %#x", u.Tag)
		} else {
			Diagf("discarding unhandled event %T", ev)
		}
	}
}

func (c *Connection) handleConnection(e ConnectionEvent) {
	c.serviceConnected.Store(true)
	Opsf("service connected (flags %#x)", e.Flags)

	if devs, res := c.source.Devices(); res.OK() {
		c.devMu.Lock()
		c.devices = append(c.devices[:0], devs...)
		c.devMu.Unlock()
	}
	// Re-request the application's policy on every (re)connect.
	c.policyDirty.Store(true)
	c.listeners.notify(func(l Listener) { l.OnConnect() })
}

func (c *Connection) handleConnectionLost(e ConnectionLostEvent) {
	c.serviceConnected.Store(false)
	Opsf("service connection lost (flags %#x)", e.Flags)
	c.listeners.notify(func(l Listener) { l.OnDisconnect() })
}

func (c *Connection) handleDevice(e DeviceEvent) {
	c.devMu.Lock()
	replaced := false
	for i := range c.devices {
		if c.devices[i].ID == e.Device.ID {
			c.devices[i] = e.Device
			replaced = true
			break
		}
	}
	if !replaced {
		c.devices = append(c.devices, e.Device)
	}
	c.devMu.Unlock()

	Opsf("device %d attached (%s %s)", e.Device.ID, e.Device.Product, e.Device.SerialNumber)
	c.listeners.notify(func(l Listener) { l.OnDevice(e.Device) })
}

func (c *Connection) handleDeviceLost(e DeviceLostEvent) {
	c.devMu.Lock()
	for i := range c.devices {
		if c.devices[i].ID == e.Device.ID {
			c.devices = append(c.devices[:i], c.devices[i+1:]...)
			break
		}
	}
	c.devMu.Unlock()

	Opsf("device %d lost", e.Device.ID)
	c.listeners.notify(func(l Listener) { l.OnDeviceLost(e.Device) })
}

func (c *Connection) handleDeviceFailure(e DeviceFailureEvent) {
	Opsf("device failure at %s (status %#x)", e.Path, e.Status)
	c.listeners.notify(func(l Listener) { l.OnDeviceFailure(e) })
}

// handleTracking builds a frame and queues it. Images and quads that beat
// their tracking event are taken from history.
func (c *Connection) handleTracking(e TrackingEvent) {
	f := &Frame{
		ID:        e.FrameID,
		Timestamp: e.Timestamp,
		IsValid:   true,
		Hands:     e.Hands,
		Fingers:   e.Fingers,
		Tools:     e.Tools,
	}
	needs := requirementFor(Policy(c.active.Load()))

	if needs&needImages != 0 {
		f.Images = c.images.imagesWithID(f.ID)
	}
	if needs&needRawImages != 0 {
		f.RawImages = c.rawImages.imagesWithID(f.ID)
	}
	if needs&needQuad != 0 {
		if q, ok := c.QuadForFrame(f.ID); ok {
			f.TrackedQuad = q
		}
	}

	c.pending.push(f, needs, c.source.Now())
	Tracef("frame %d queued (%d hands, needs %03b)", f.ID, len(f.Hands), needs)
	c.reconcile()
}

// handleImageRequest hands a pool buffer to the driver for filling.
func (c *Connection) handleImageRequest(e ImageRequestEvent) {
	data := c.pool.Checkout()
	data.prepare(e)

	if res := c.source.FillImage(data.PoolIndex(), e, data.Pixels); !res.OK() {
		c.pool.CheckIn(data)
		c.stats.fillErrors.Add(1)
		c.reportResult("fill image", &c.lastFill, res)
	}
}

// handleImageComplete promotes a filled pool buffer to an Image.
func (c *Connection) handleImageComplete(e ImageCompleteEvent) {
	data, ok := c.pool.FindByPoolIndex(e.Handle)
	if !ok {
		Diagf("image complete for unknown buffer %d (frame %d)", e.Handle, e.FrameID)
		return
	}

	matrix, changed := c.distortion.Observe(e.Perspective, e.DistortionVersion, e.DistortionMatrix)
	img := Image{
		ID:            data.FrameID,
		SequenceID:    e.SequenceID,
		Side:          e.Side,
		IsValid:       true,
		Type:          data.Type,
		Format:        data.Format,
		Perspective:   e.Perspective,
		Width:         data.Width,
		Height:        data.Height,
		BytesPerPixel: data.BytesPerPixel,
		Data:          data.Pixels,
		RayOffsetX:    e.RayOffsetX,
		RayOffsetY:    e.RayOffsetY,
		RayScaleX:     e.RayScaleX,
		RayScaleY:     e.RayScaleY,
		Distortion:    matrix,
		slot:          data,
		slotAge:       data.PoolAge(),
	}
	if changed {
		change := DistortionChange{Perspective: e.Perspective, Version: e.DistortionVersion, Matrix: matrix}
		c.listeners.notify(func(l Listener) { l.OnDistortionChange(change) })
	}

	history := c.images
	if img.Type == ImageTypeRaw {
		history = c.rawImages
	}
	if old, evicted := history.Put(img); evicted {
		c.releaseSlot(old)
	}
	c.stats.images.Add(1)

	c.pending.attachImage(img)
	c.listeners.notify(func(l Listener) { l.OnImageReady(img) })
	c.reconcile()
}

func (c *Connection) handleTrackedQuad(e TrackedQuadEvent) {
	q := TrackedQuad{
		ID:         e.FrameID,
		Timestamp:  e.Timestamp,
		IsValid:    true,
		Width:      e.Width,
		Height:     e.Height,
		Resolution: e.Resolution,
		Visible:    e.Visible,
		Position:   e.Position,
		Rotation:   e.Rotation,
	}
	c.quads.Put(q)
	c.stats.quads.Add(1)

	c.pending.attachQuad(q)
	c.listeners.notify(func(l Listener) { l.OnTrackedQuad(q) })
	c.reconcile()
}

func (c *Connection) handleLog(e LogEvent) {
	Diagf("driver %v: %s", e.Severity, e.Message)
	c.listeners.notify(func(l Listener) { l.OnLog(e) })
}

func (c *Connection) handlePolicy(e PolicyEvent) {
	old := Policy(c.active.Swap(uint64(e.Flags)))
	if old == e.Flags {
		return
	}
	Diagf("driver policy %v -> %v", old, e.Flags)
	c.listeners.notify(func(l Listener) { l.OnPolicyChange(e.Flags) })
}
