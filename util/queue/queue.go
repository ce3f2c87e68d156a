package queue

import (
	"sync"

	"github.com/gammazero/deque"
)

// Queue is unbounded FIFO queue with one consumer goroutine. Unlike channels, Push never blocks
type Queue[T any] struct {
	mutex   sync.Mutex
	d       *deque.Deque[T]
	notify  chan struct{}
	done    chan struct{}
	consume func(e T)
	closing bool
	drain   bool
}

func New[T any](consume func(e T)) *Queue[T] {
	ret := &Queue[T]{
		d:       new(deque.Deque[T]),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		consume: consume,
	}
	go ret.consumeLoop()
	return ret
}

// Push places element into the queue. Ignored after Close
func (q *Queue[T]) Push(e T) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closing {
		return
	}
	q.d.PushBack(e)
	q.signal()
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.d.Len()
}

// Close stops the consumer. With processRemaining, elements already in the queue are consumed first
func (q *Queue[T]) Close(processRemaining bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closing {
		return
	}
	q.closing = true
	q.drain = processRemaining
	q.signal()
}

// Done is closed when consumer goroutine exits
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

func (q *Queue[T]) pop() (e T, ok bool, exit bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.closing && (!q.drain || q.d.Len() == 0) {
		return e, false, true
	}
	if q.d.Len() == 0 {
		return e, false, false
	}
	return q.d.PopFront(), true, false
}

func (q *Queue[T]) consumeLoop() {
	defer close(q.done)

	for {
		e, ok, exit := q.pop()
		if exit {
			return
		}
		if !ok {
			<-q.notify
			continue
		}
		q.consume(e)
	}
}
