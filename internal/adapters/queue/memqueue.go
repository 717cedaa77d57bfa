package queue

import (
	"sync"

	"github.com/ghalamif/sensorhub/internal/ports"
)

// MemQueue is a bounded in-memory queue that preserves FIFO ordering.
// A capacity of zero or less means unbounded.
type MemQueue[T any] struct {
	mu   sync.Mutex
	data []T
	cap  int
}

func NewMemQueue[T any](capacity int) *MemQueue[T] {
	initial := capacity
	if initial <= 0 || initial > 1024 {
		initial = 1024
	}
	return &MemQueue[T]{
		data: make([]T, 0, initial),
		cap:  capacity,
	}
}

func (q *MemQueue[T]) Enqueue(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cap > 0 && len(q.data) >= q.cap {
		return false
	}
	q.data = append(q.data, v)
	return true
}

func (q *MemQueue[T]) DequeueBatch(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]T, max)
	copy(out, q.data[:max])
	var zero T
	for i := range q.data[:max] {
		q.data[i] = zero
	}
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

var _ ports.Queue[int] = (*MemQueue[int])(nil)
