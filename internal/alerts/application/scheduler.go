package application

import (
	"sync"
	"time"
)

// Stopper cancels a pending task.
type Stopper interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Stopper

func defaultAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// scheduler owns the delayed tasks of one session so they can all be cancelled on teardown.
type scheduler struct {
	mu      sync.Mutex
	after   AfterFunc
	pending map[string]Stopper
	closed  bool
}

func newScheduler(after AfterFunc) *scheduler {
	if after == nil {
		after = defaultAfterFunc
	}
	return &scheduler{after: after, pending: make(map[string]Stopper)}
}

// Schedule runs f after d unless the key is cancelled first. A pending task with the same key is
// replaced.
func (s *scheduler) Schedule(key string, d time.Duration, f func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if previous, ok := s.pending[key]; ok {
		previous.Stop()
	}
	var timer Stopper
	timer = s.after(d, func() {
		s.mu.Lock()
		current, ok := s.pending[key]
		if !ok || current != timer || s.closed {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()
		f()
	})
	s.pending[key] = timer
	return true
}

// Cancel stops a pending task.
func (s *scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.pending[key]
	if !ok {
		return false
	}
	delete(s.pending, key)
	timer.Stop()
	return true
}

// Pending returns the number of scheduled tasks.
func (s *scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels every pending task; later Schedule calls are ignored.
func (s *scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, timer := range s.pending {
		timer.Stop()
		delete(s.pending, key)
	}
}
