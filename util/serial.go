package util

import "sync"

// Serial runs posted functions one at a time, in posting order, on a
// single goroutine.  Post never blocks, so it is safe to call from a
// function that is itself running on the queue.
type Serial struct {
	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewSerial starts an empty queue.
func NewSerial() *Serial {
	s := &Serial{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

// Post appends fn to the queue.  It reports false, dropping fn, once
// the queue has been closed.
func (s *Serial) Post(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// Close refuses further posts.  Functions already queued still run,
// after which the worker goroutine exits and [Serial.Done] is closed.
func (s *Serial) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the worker has drained the queue after Close.
func (s *Serial) Done() <-chan struct{} { return s.done }

// Flush blocks until everything posted before the call has run.  It
// must not be called from a function running on the same queue.
func (s *Serial) Flush() {
	ch := make(chan struct{})
	if !s.Post(func() { close(ch) }) {
		<-s.done
		return
	}
	<-ch
}

func (s *Serial) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			<-s.wake
			continue
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}
