package tracking

import (
	"sync"
	"testing"
	"time"
)

func TestListenerSet_DeliversInOrder(t *testing.T) {
	s := newListenerSet(16)
	defer s.close()

	rec := &recorder{}
	s.subscribe(rec)
	for id := int64(1); id <= 5; id++ {
		f := Frame{ID: id}
		s.notify(func(l Listener) { l.OnFrame(f) })
	}
	s.flush()

	got := rec.frameIDs()
	for i, id := range got {
		if id != int64(i+1) {
			t.Fatalf("frames = %v, want 1..5 in order", got)
		}
	}
	if len(got) != 5 {
		t.Errorf("got %d frames, want 5", len(got))
	}
}

func TestListenerSet_Unsubscribe(t *testing.T) {
	s := newListenerSet(16)
	defer s.close()

	a, b := &recorder{}, &recorder{}
	idA := s.subscribe(a)
	s.subscribe(b)
	if idA == "" {
		t.Fatal("empty subscription id")
	}

	if !s.unsubscribe(idA) {
		t.Fatal("unsubscribe returned false for a live id")
	}
	if s.unsubscribe(idA) {
		t.Error("unsubscribe returned true twice")
	}

	s.notify(func(l Listener) { l.OnInit() })
	s.flush()

	if a.count(func(r *recorder) int { return r.inits }) != 0 {
		t.Error("unsubscribed listener was called")
	}
	if b.count(func(r *recorder) int { return r.inits }) != 1 {
		t.Error("remaining listener was not called")
	}
}

// blocker holds the delivery goroutine until released.
type blocker struct {
	BaseListener
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blocker) OnInit() {
	b.once.Do(func() { close(b.entered) })
	<-b.release
}

func TestListenerSet_DropsWhenFull(t *testing.T) {
	s := newListenerSet(2)
	b := &blocker{entered: make(chan struct{}), release: make(chan struct{})}
	s.subscribe(b)

	s.notify(func(l Listener) { l.OnInit() })
	select {
	case <-b.entered:
	case <-time.After(time.Second):
		t.Fatal("listener never called")
	}

	// Worker is blocked: two fit in the queue, the rest are dropped.
	for i := 0; i < 5; i++ {
		s.notify(func(l Listener) { l.OnInit() })
	}
	if got := s.dropped.Load(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}

	close(b.release)
	s.close()
}

func TestListenerSet_RecoversPanics(t *testing.T) {
	s := newListenerSet(8)
	defer s.close()

	rec := &recorder{}
	s.subscribe(panicky{})
	s.subscribe(rec)

	s.notify(func(l Listener) { l.OnFrame(Frame{ID: 1}) })
	s.notify(func(l Listener) { l.OnFrame(Frame{ID: 2}) })
	s.flush()

	if got := rec.frameIDs(); len(got) != 2 {
		t.Errorf("frames after panic = %v, want 2", got)
	}
}

func TestListenerSet_NotifyAfterClose(t *testing.T) {
	s := newListenerSet(4)
	s.close()
	s.close()

	// Neither call may panic on the closed channel or block.
	s.notify(func(l Listener) { l.OnInit() })
	s.flush()
}

func TestListenerSet_FlushWithoutSubscribers(t *testing.T) {
	s := newListenerSet(4)
	defer s.close()

	done := make(chan struct{})
	go func() {
		s.flush()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("flush blocked with no subscribers")
	}
}
