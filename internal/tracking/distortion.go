package tracking

import "sync"

// DistortionCache stores calibration grids by version and tracks which
// version is active for each stereo side.
type DistortionCache struct {
	mu       sync.RWMutex
	matrices map[uint64]*DistortionData

	currentLeft  uint64
	currentRight uint64
	haveLeft     bool
	haveRight    bool
	dirty        bool
}

// NewDistortionCache returns an empty cache.
func NewDistortionCache() *DistortionCache {
	return &DistortionCache{matrices: make(map[uint64]*DistortionData)}
}

// Matrix returns the grid stored under version, or nil.
func (c *DistortionCache) Matrix(version uint64) *DistortionData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.matrices[version]
}

// Current returns the active grid for the left or right side, or nil.
func (c *DistortionCache) Current(left bool) *DistortionData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if left {
		if !c.haveLeft {
			return nil
		}
		return c.matrices[c.currentLeft]
	}
	if !c.haveRight {
		return nil
	}
	return c.matrices[c.currentRight]
}

// Len returns the number of cached versions.
func (c *DistortionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.matrices)
}

// Observe records that an image with the given perspective was calibrated
// with version. An unknown version is stored as a new grid copied from raw.
// changed reports whether the active version for the perspective's side
// differs from the previous one; mono images count as the left side.
func (c *DistortionCache) Observe(perspective Perspective, version uint64, raw []float32) (matrix *DistortionData, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	matrix, ok := c.matrices[version]
	if !ok {
		matrix = newDistortionData(version, raw)
		c.matrices[version] = matrix
	}

	switch perspective {
	case PerspectiveStereoRight:
		changed = !c.haveRight || c.currentRight != version
		c.currentRight, c.haveRight = version, true
	case PerspectiveStereoLeft, PerspectiveMono:
		changed = !c.haveLeft || c.currentLeft != version
		c.currentLeft, c.haveLeft = version, true
	}
	if changed {
		c.dirty = true
	}
	return matrix, changed
}

// TakeDirty returns and clears the change flag.
func (c *DistortionCache) TakeDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.dirty
	c.dirty = false
	return d
}

func newDistortionData(version uint64, raw []float32) *DistortionData {
	d := &DistortionData{
		Version: version,
		Width:   DistortionGridSize,
		Height:  DistortionGridSize,
		Data:    make([]float32, 2*DistortionGridSize*DistortionGridSize),
	}
	copy(d.Data, raw)
	return d
}

// DistortionChange is raised when a side's active calibration rotates.
type DistortionChange struct {
	Perspective Perspective
	Version     uint64
	Matrix      *DistortionData
}
