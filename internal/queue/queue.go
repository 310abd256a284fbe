// Package queue runs submitted work one item at a time, in arrival order.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrClosed is returned by Submit after the queue stops accepting work.
var ErrClosed = errors.New("queue: closed")

// Handler processes one item. It runs to completion; the queue never
// cancels it.
type Handler[T any] func(ctx context.Context, item T)

// Queue is a single-consumer FIFO. Submit may be called from any goroutine;
// Run drains items on exactly one worker.
type Queue[T any] struct {
	ch      chan T
	handler Handler[T]
	depth   func(int)

	mu      sync.RWMutex
	closed  bool
	pending atomic.Int64
}

// New creates a Queue with room for buffer items before Submit blocks.
func New[T any](buffer int, h Handler[T]) *Queue[T] {
	if buffer < 0 {
		buffer = 0
	}
	return &Queue[T]{ch: make(chan T, buffer), handler: h}
}

// OnDepth registers fn to observe the number of waiting items. Call before
// Run.
func (q *Queue[T]) OnDepth(fn func(int)) {
	q.depth = fn
}

// Submit appends item. It blocks while the buffer is full.
func (q *Queue[T]) Submit(item T) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	q.report(q.pending.Add(1))
	q.ch <- item
	return nil
}

// Len returns the number of items waiting.
func (q *Queue[T]) Len() int {
	return int(q.pending.Load())
}

// Close stops accepting work. Items already submitted are still processed.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Run processes items until the queue is closed and drained. Cancelling ctx
// closes the queue; the item in flight and those already queued still run
// to completion.
func (q *Queue[T]) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, q.Close)
	defer stop()

	work := context.WithoutCancel(ctx)
	for item := range q.ch {
		q.report(q.pending.Add(-1))
		q.handle(work, item)
	}
	zap.L().Info("queue: drained")
	return nil
}

func (q *Queue[T]) handle(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("queue: handler panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	q.handler(ctx, item)
}

func (q *Queue[T]) report(n int64) {
	if q.depth != nil {
		q.depth(int(n))
	}
}
