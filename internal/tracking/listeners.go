package tracking

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Listener receives pipeline notifications. All calls come from a single
// delivery goroutine, in the order the dispatch loop raised them. Embed
// BaseListener to implement only the callbacks you need.
type Listener interface {
	OnInit()
	OnConnect()
	OnDisconnect()
	OnDevice(DeviceInfo)
	OnDeviceLost(DeviceInfo)
	OnDeviceFailure(DeviceFailureEvent)
	OnFrame(Frame)
	OnImageReady(Image)
	OnTrackedQuad(TrackedQuad)
	OnDistortionChange(DistortionChange)
	OnLog(LogEvent)
	OnPolicyChange(Policy)
	OnConfigChange(ConfigChangeEvent)
	OnConfigResponse(ConfigResponseEvent)
	OnFatal(error)
}

// BaseListener implements Listener with no-ops.
type BaseListener struct{}

func (BaseListener) OnInit()                              {}
func (BaseListener) OnConnect()                           {}
func (BaseListener) OnDisconnect()                        {}
func (BaseListener) OnDevice(DeviceInfo)                  {}
func (BaseListener) OnDeviceLost(DeviceInfo)              {}
func (BaseListener) OnDeviceFailure(DeviceFailureEvent)   {}
func (BaseListener) OnFrame(Frame)                        {}
func (BaseListener) OnImageReady(Image)                   {}
func (BaseListener) OnTrackedQuad(TrackedQuad)            {}
func (BaseListener) OnDistortionChange(DistortionChange)  {}
func (BaseListener) OnLog(LogEvent)                       {}
func (BaseListener) OnPolicyChange(Policy)                {}
func (BaseListener) OnConfigChange(ConfigChangeEvent)     {}
func (BaseListener) OnConfigResponse(ConfigResponseEvent) {}
func (BaseListener) OnFatal(error)                        {}

// notification is one queued callback, or a flush barrier when ack is set.
type notification struct {
	fn  func(Listener)
	ack chan struct{}
}

type subscription struct {
	id string
	l  Listener
}

// listenerSet fans notifications out to subscribers on a dedicated worker
// goroutine so slow listeners never stall the dispatch loop.
type listenerSet struct {
	mu   sync.RWMutex
	subs []subscription

	notifyCh chan notification // serialises listener invocations
	done     chan struct{}     // closed when deliver exits
	closeMu  sync.Mutex
	closed   bool

	dropped atomic.Uint64
}

func newListenerSet(queueSize int) *listenerSet {
	if queueSize < 1 {
		queueSize = 1
	}
	s := &listenerSet{
		notifyCh: make(chan notification, queueSize),
		done:     make(chan struct{}),
	}
	go s.deliver()
	return s
}

func (s *listenerSet) subscribe(l Listener) string {
	id := uuid.New().String()
	s.mu.Lock()
	s.subs = append(s.subs, subscription{id: id, l: l})
	s.mu.Unlock()
	return id
}

func (s *listenerSet) unsubscribe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *listenerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// notify queues fn for every current subscriber. When the queue is full
// the notification is dropped and counted.
func (s *listenerSet) notify(fn func(Listener)) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.notifyCh <- notification{fn: fn}:
	default:
		n := s.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			Diagf("listener queue full, dropped %d notifications", n)
		}
	}
}

func (s *listenerSet) deliver() {
	defer close(s.done)
	for n := range s.notifyCh {
		if n.ack != nil {
			close(n.ack)
			continue
		}
		s.mu.RLock()
		subs := append([]subscription(nil), s.subs...)
		s.mu.RUnlock()
		for _, sub := range subs {
			s.call(sub, n.fn)
		}
	}
}

func (s *listenerSet) call(sub subscription, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			Opsf("listener %s panicked: %v", sub.id, r)
		}
	}()
	fn(sub.l)
}

// close drains queued notifications and stops the worker.
func (s *listenerSet) close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.notifyCh)
	s.closeMu.Unlock()
	<-s.done
}

// flush blocks until every notification queued before the call has been
// delivered. The barrier is sent blocking so it is never dropped.
func (s *listenerSet) flush() {
	ack := make(chan struct{})
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.notifyCh <- notification{ack: ack}
	s.closeMu.Unlock()
	<-ack
}

func (s *listenerSet) String() string {
	return fmt.Sprintf("listeners(%d, dropped=%d)", s.len(), s.dropped.Load())
}
