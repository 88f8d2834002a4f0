// Package pool recycles long-lived buffers on a high-frequency stream.
//
// A Pool hands out items by slot. Every checkout stamps the item with a
// strictly increasing age; an age of zero marks the slot free. When no slot
// is free a fixed pool recycles the item with the smallest age (the oldest
// checkout), and a growable pool appends new slots instead.
package pool

import "sync"

// DefaultGrowthFactor is applied to the capacity when a growable pool runs
// out of free slots.
const DefaultGrowthFactor = 1.5

// Item is the contract a pooled value fulfils. Age and index are stored on
// the item so that a consumer holding only the item can check it back in.
type Item interface {
	comparable
	PoolAge() uint64
	SetPoolAge(age uint64)
	PoolIndex() int
	SetPoolIndex(index int)
}

// Config controls pool sizing.
type Config struct {
	Capacity     int     // initial slot count (default: 8)
	Growable     bool    // append slots instead of recycling in-use items
	GrowthFactor float64 // capacity multiplier on growth (default: 1.5)
}

type slot[T Item] struct {
	item    T
	present bool
}

// Pool is an age-based object pool. It is safe for concurrent use, though in
// practice a single goroutine checks items out and in.
type Pool[T Item] struct {
	mu      sync.Mutex
	slots   []slot[T]
	newItem func() T

	growable bool
	factor   float64

	nextAge  uint64
	inUse    int
	recycled uint64
	grown    uint64
}

// New creates a pool. newItem is called lazily the first time a slot is used.
func New[T Item](cfg Config, newItem func() T) *Pool[T] {
	if cfg.Capacity < 1 {
		cfg.Capacity = 8
	}
	if cfg.GrowthFactor <= 1 {
		cfg.GrowthFactor = DefaultGrowthFactor
	}
	return &Pool[T]{
		slots:    make([]slot[T], cfg.Capacity),
		newItem:  newItem,
		growable: cfg.Growable,
		factor:   cfg.GrowthFactor,
	}
}

// Checkout returns an item stamped with a fresh age. It never fails: a free
// slot is preferred, then growth (growable pools only), then the oldest
// checked-out item is recycled.
func (p *Pool[T]) Checkout() T {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := -1
	oldest := -1
	var oldestAge uint64
	for i := range p.slots {
		s := &p.slots[i]
		if !s.present || s.item.PoolAge() == 0 {
			idx = i
			break
		}
		if oldest < 0 || s.item.PoolAge() < oldestAge {
			oldest, oldestAge = i, s.item.PoolAge()
		}
	}

	switch {
	case idx >= 0:
		p.inUse++
	case p.growable:
		idx = p.grow()
		p.inUse++
	default:
		// in-use count is unchanged: the victim stays checked out under a new age
		idx = oldest
		p.recycled++
	}

	s := &p.slots[idx]
	if !s.present {
		s.item = p.newItem()
		s.present = true
	}
	p.nextAge++
	s.item.SetPoolAge(p.nextAge)
	s.item.SetPoolIndex(idx)
	return s.item
}

// grow appends slots and returns the index of the first new one. Caller
// holds the lock.
func (p *Pool[T]) grow() int {
	old := len(p.slots)
	newCap := int(float64(old) * p.factor)
	if newCap <= old {
		newCap = old + 1
	}
	p.slots = append(p.slots, make([]slot[T], newCap-old)...)
	p.grown++
	return old
}

// CheckIn marks item free. Items that are no longer the current holder of
// their slot (already checked in, or recycled under pressure) are ignored.
func (p *Pool[T]) CheckIn(item T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := item.PoolIndex()
	if idx < 0 || idx >= len(p.slots) {
		return
	}
	s := &p.slots[idx]
	if !s.present || s.item != item || item.PoolAge() == 0 {
		return
	}
	item.SetPoolAge(0)
	p.inUse--
}

// FindByPoolIndex returns the checked-out item whose stored pool index is
// index.
func (p *Pool[T]) FindByPoolIndex(index int) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.slots {
		s := &p.slots[i]
		if s.present && s.item.PoolAge() > 0 && s.item.PoolIndex() == index {
			return s.item, true
		}
	}
	var zero T
	return zero, false
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Capacity int    `json:"capacity"`
	InUse    int    `json:"in_use"`
	Recycled uint64 `json:"recycled"`
	Grown    uint64 `json:"grown"`
}

// Stats returns current usage counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity: len(p.slots),
		InUse:    p.inUse,
		Recycled: p.recycled,
		Grown:    p.grown,
	}
}

// Capacity returns the current slot count.
func (p *Pool[T]) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// InUse returns the number of checked-out slots.
func (p *Pool[T]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}
