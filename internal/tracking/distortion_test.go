package tracking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistortionCache_ObserveStoresGridCopy(t *testing.T) {
	c := NewDistortionCache()
	raw := []float32{1, 2, 3, 4}

	m, changed := c.Observe(PerspectiveStereoLeft, 7, raw)
	require.NotNil(t, m)
	assert.True(t, changed)
	assert.Equal(t, uint64(7), m.Version)
	assert.Equal(t, DistortionGridSize, m.Width)
	assert.Equal(t, DistortionGridSize, m.Height)
	assert.Len(t, m.Data, 2*DistortionGridSize*DistortionGridSize)
	assert.Equal(t, []float32{1, 2, 3, 4}, m.Data[:4])

	raw[0] = 99
	assert.Equal(t, float32(1), m.Data[0], "grid must not alias the driver slice")
	assert.Same(t, m, c.Matrix(7))
}

func TestDistortionCache_ChangedPerSide(t *testing.T) {
	c := NewDistortionCache()

	steps := []struct {
		perspective Perspective
		version     uint64
		changed     bool
	}{
		{PerspectiveStereoLeft, 1, true},
		{PerspectiveStereoRight, 1, true},
		{PerspectiveStereoLeft, 1, false},
		{PerspectiveStereoRight, 1, false},
		{PerspectiveStereoLeft, 2, true},
		{PerspectiveStereoRight, 1, false},
		{PerspectiveMono, 2, false}, // mono shares the left slot
		{PerspectiveMono, 3, true},
	}
	for i, s := range steps {
		_, changed := c.Observe(s.perspective, s.version, nil)
		assert.Equal(t, s.changed, changed, "step %d (%v v%d)", i, s.perspective, s.version)
	}

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, uint64(3), c.Current(true).Version)
	assert.Equal(t, uint64(1), c.Current(false).Version)
}

func TestDistortionCache_DirtyFlag(t *testing.T) {
	c := NewDistortionCache()
	assert.False(t, c.TakeDirty())

	c.Observe(PerspectiveStereoLeft, 1, nil)
	assert.True(t, c.TakeDirty())
	assert.False(t, c.TakeDirty(), "TakeDirty must clear the flag")

	c.Observe(PerspectiveStereoLeft, 1, nil)
	assert.False(t, c.TakeDirty())
}

func TestDistortionCache_EmptyLookups(t *testing.T) {
	c := NewDistortionCache()
	assert.Nil(t, c.Matrix(1))
	assert.Nil(t, c.Current(true))
	assert.Nil(t, c.Current(false))
}
