package command

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects handled commands; gate, when set, holds each one until
// the test releases it.
type recorder struct {
	mu   sync.Mutex
	got  []bool
	gate chan struct{}
	seen chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 64)}
}

func (r *recorder) handle(on bool) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	r.got = append(r.got, on)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) all() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.got...)
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("handled %d of %d commands", i, n)
		}
	}
}

func TestQueueRunsInArrivalOrder(t *testing.T) {
	r := newRecorder()
	q := NewQueue(func(on bool) {
		time.Sleep(time.Millisecond)
		r.handle(on)
	})
	defer q.Close()

	want := []bool{true, false, true, true, false, false, true, false}
	for _, on := range want {
		require.True(t, q.Push(on))
	}
	r.wait(t, len(want))

	assert.Equal(t, want, r.all())
}

func TestQueuePushDoesNotWaitForHandler(t *testing.T) {
	r := newRecorder()
	r.gate = make(chan struct{})
	q := NewQueue(r.handle)

	for _, on := range []bool{true, false, true} {
		q.Push(on)
	}
	require.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, time.Millisecond,
		"first command taken by the worker, two waiting")

	close(r.gate)
	r.wait(t, 3)
	assert.Equal(t, []bool{true, false, true}, r.all())
	assert.Zero(t, q.Close())
}

func TestQueueCloseDiscardsPending(t *testing.T) {
	r := newRecorder()
	r.gate = make(chan struct{})
	q := NewQueue(r.handle)

	q.Push(true)
	q.Push(false)
	q.Push(true)
	require.Eventually(t, func() bool { return q.Len() == 2 }, time.Second, time.Millisecond)

	closed := make(chan int)
	go func() { closed <- q.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while a command was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(r.gate)
	assert.Equal(t, 2, <-closed)
	assert.Equal(t, []bool{true}, r.all())

	assert.False(t, q.Push(false))
	assert.Zero(t, q.Close())
}
