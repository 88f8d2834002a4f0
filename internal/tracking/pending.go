package tracking

// pendingFrame is a frame waiting for its optional streams.
type pendingFrame struct {
	frame      *Frame
	needs      requirement
	enqueuedAt int64 // driver clock, for wait statistics
}

// releaseReason records why a frame left the pending queue.
type releaseReason int

const (
	releaseComplete releaseReason = iota
	releaseTimeout
	releaseEvicted
)

func (r releaseReason) String() string {
	switch r {
	case releaseComplete:
		return "complete"
	case releaseTimeout:
		return "timeout"
	default:
		return "evicted"
	}
}

// pendingQueue holds frames awaiting images and quads. Release order is
// strict FIFO; an index by frame id makes attachment O(1). It is owned by
// the dispatch goroutine and has no locking.
type pendingQueue struct {
	order   []int64 // frame ids, oldest first
	byID    map[int64]*pendingFrame
	timeout int64 // microseconds
	max     int
}

func newPendingQueue(timeoutMicros int64, maxPending int) *pendingQueue {
	if maxPending < 1 {
		maxPending = 1
	}
	return &pendingQueue{
		byID:    make(map[int64]*pendingFrame),
		timeout: timeoutMicros,
		max:     maxPending,
	}
}

func (q *pendingQueue) Len() int {
	return len(q.order)
}

// push appends f at the back. A repeated frame id replaces the tracking
// data of the queued frame in place and keeps its position.
func (q *pendingQueue) push(f *Frame, needs requirement, now int64) {
	if existing, ok := q.byID[f.ID]; ok {
		f.Images = existing.frame.Images
		f.RawImages = existing.frame.RawImages
		if existing.frame.TrackedQuad.IsValid {
			f.TrackedQuad = existing.frame.TrackedQuad
		}
		existing.frame = f
		return
	}
	q.byID[f.ID] = &pendingFrame{frame: f, needs: needs, enqueuedAt: now}
	q.order = append(q.order, f.ID)
}

// attachImage adds img to its frame. Returns false when no frame with the
// image's id is pending.
func (q *pendingQueue) attachImage(img Image) bool {
	pf, ok := q.byID[img.ID]
	if !ok {
		return false
	}
	if img.Type == ImageTypeRaw {
		pf.frame.RawImages = addImage(pf.frame.RawImages, img)
	} else {
		pf.frame.Images = addImage(pf.frame.Images, img)
	}
	return true
}

// addImage keeps at most one image per side, left first.
func addImage(images []Image, img Image) []Image {
	for i := range images {
		if images[i].Side == img.Side {
			images[i] = img
			return images
		}
	}
	if len(images) >= 2 {
		return images
	}
	if img.IsLeft() {
		return append([]Image{img}, images...)
	}
	return append(images, img)
}

// attachQuad sets the quad of its frame. Returns false when no frame with
// the quad's id is pending.
func (q *pendingQueue) attachQuad(quad TrackedQuad) bool {
	pf, ok := q.byID[quad.ID]
	if !ok {
		return false
	}
	pf.frame.TrackedQuad = quad
	return true
}

// complete reports whether every stream pf waits for has arrived.
func (pf *pendingFrame) complete() bool {
	f := pf.frame
	if pf.needs&needImages != 0 && len(f.Images) != 2 {
		return false
	}
	if pf.needs&needRawImages != 0 && len(f.RawImages) != 2 {
		return false
	}
	if pf.needs&needQuad != 0 && !f.TrackedQuad.IsValid {
		return false
	}
	return true
}

// expired reports whether pf waited past the timeout at driver time now.
func (q *pendingQueue) expired(pf *pendingFrame, now int64) bool {
	return pf.frame.Timestamp < now-q.timeout
}

// reconcile releases ready frames from the front, oldest first, and stops
// at the first frame still waiting. Frames beyond the queue bound are
// released regardless.
func (q *pendingQueue) reconcile(now int64, release func(pf *pendingFrame, why releaseReason)) int {
	released := 0
	for len(q.order) > 0 {
		pf := q.byID[q.order[0]]

		var why releaseReason
		switch {
		case pf.complete():
			why = releaseComplete
		case q.expired(pf, now):
			why = releaseTimeout
		case len(q.order) > q.max:
			why = releaseEvicted
		default:
			return released
		}

		q.order[0] = 0
		q.order = q.order[1:]
		delete(q.byID, pf.frame.ID)
		release(pf, why)
		released++
	}
	return released
}
