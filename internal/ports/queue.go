package ports

// Queue is a bounded FIFO shared between a producer and one draining goroutine.
type Queue[T any] interface {
	Enqueue(v T) bool
	DequeueBatch(max int) []T
	Len() int
}
