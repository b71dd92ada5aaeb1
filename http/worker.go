package http

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

const DefaultWorkQueueSize = 4096

var (
	ErrFull  = errors.New("ring buffer is full")
	ErrEmpty = errors.New("ring buffer is empty")
)

// Dispatcher runs CPU-bound work (handlers, WebSocket message callbacks) away
// from the code that feeds input to connections.
type Dispatcher interface {
	Dispatch(task func())
}

type inline struct{}

func (inline) Dispatch(task func()) {
	task()
}

// Inline runs every task on the calling goroutine. It suits the
// goroutine-per-connection transport.
var Inline Dispatcher = inline{}

// RingBuffer is a bounded lock-free multi-producer multi-consumer queue.
type RingBuffer[T any] struct {
	buffer []slot[T]
	mask   uint64
	enqPos atomic.Uint64
	deqPos atomic.Uint64
}

type slot[T any] struct {
	sequence atomic.Uint64
	value    T
}

// NewRingBuffer creates a ring buffer holding size items, rounded up to a
// power of two.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	n := 2
	for n < size {
		n <<= 1
	}
	q := &RingBuffer[T]{
		buffer: make([]slot[T], n),
		mask:   uint64(n - 1),
	}
	for i := range q.buffer {
		q.buffer[i].sequence.Store(uint64(i))
	}
	return q
}

// Enqueue adds an item to the ring buffer
func (q *RingBuffer[T]) Enqueue(val T) error {
	for {
		pos := q.enqPos.Load()
		slot := &q.buffer[pos&q.mask]

		seq := slot.sequence.Load()
		delta := int64(seq) - int64(pos)

		if delta == 0 {
			if q.enqPos.CompareAndSwap(pos, pos+1) {
				slot.value = val
				slot.sequence.Store(pos + 1)
				return nil
			}
		} else if delta < 0 {
			return ErrFull
		} else {
			runtime.Gosched()
		}
	}
}

// Dequeue removes and returns the oldest item
func (q *RingBuffer[T]) Dequeue() (T, error) {
	var zero T
	for {
		pos := q.deqPos.Load()
		slot := &q.buffer[pos&q.mask]

		seq := slot.sequence.Load()
		delta := int64(seq) - int64(pos+1)

		if delta == 0 {
			if q.deqPos.CompareAndSwap(pos, pos+1) {
				val := slot.value
				slot.value = zero
				slot.sequence.Store(pos + q.mask + 1)
				return val, nil
			}
		} else if delta < 0 {
			return zero, ErrEmpty
		} else {
			runtime.Gosched()
		}
	}
}

// WorkerPool is a fixed set of goroutines draining a RingBuffer of tasks.
type WorkerPool struct {
	queue  *RingBuffer[func()]
	wake   chan struct{}
	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewWorkerPool starts workers goroutines. Zero workers means GOMAXPROCS.
func NewWorkerPool(workers, queueSize int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if queueSize <= 0 {
		queueSize = DefaultWorkQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	wp := &WorkerPool{
		queue:  NewRingBuffer[func()](queueSize),
		wake:   make(chan struct{}, workers),
		done:   make(chan struct{}),
		logger: logger,
	}
	wp.wg.Add(workers)
	for range workers {
		go wp.work()
	}
	return wp
}

// Dispatch queues task. When the queue is full or the pool is closed the task
// runs on the caller, which throttles the producer.
func (wp *WorkerPool) Dispatch(task func()) {
	if wp.closed.Load() || wp.queue.Enqueue(task) != nil {
		wp.run(task)
		return
	}
	select {
	case wp.wake <- struct{}{}:
	default:
	}
}

func (wp *WorkerPool) work() {
	defer wp.wg.Done()
	for {
		task, err := wp.queue.Dequeue()
		if err == nil {
			wp.run(task)
			continue
		}
		select {
		case <-wp.wake:
		case <-wp.done:
			for {
				task, err := wp.queue.Dequeue()
				if err != nil {
					return
				}
				wp.run(task)
			}
		}
	}
}

func (wp *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("worker task panicked", "panic", r)
		}
	}()
	task()
}

// Close stops the workers after the queued tasks ran.
func (wp *WorkerPool) Close() {
	if wp.closed.Swap(true) {
		return
	}
	close(wp.done)
	wp.wg.Wait()
	for {
		task, err := wp.queue.Dequeue()
		if err != nil {
			return
		}
		wp.run(task)
	}
}
