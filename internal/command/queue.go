// Package command runs remote ON/OFF commands one at a time, in the order
// they arrived, on a worker goroutine of their own.
package command

import "sync"

// Queue hands commands to a single worker. Push never blocks, so transport
// callbacks (MQTT router, HAP connection) stay responsive while a pulse runs.
type Queue struct {
	handle func(on bool)

	mu      sync.Mutex
	pending []bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewQueue starts the worker that calls handle for each pushed command.
func NewQueue(handle func(on bool)) *Queue {
	q := &Queue{
		handle: handle,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Push appends a command. It reports false once the queue is closed.
func (q *Queue) Push(on bool) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, on)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of commands not yet started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close discards commands that have not started and waits for the one in
// progress. It returns the number discarded.
func (q *Queue) Close() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return 0
	}
	q.closed = true
	discarded := len(q.pending)
	q.pending = nil
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
	return discarded
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		on := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.handle(on)
	}
}
