package sensorhub

import (
	"errors"
	"fmt"
	"sync"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("sensorhub: channel sink closed")

// EventBatchFunc handles one batch of hub events drained by the event pipeline.
type EventBatchFunc func([]HubEvent) error

// NewCallbackSink adapts a function into an EventSink so callers can observe hub
// events without defining a type.
func NewCallbackSink(name string, fn EventBatchFunc) EventSink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes batches via a channel; it returns the sink, the read-only channel,
// and a close function that the caller should invoke during shutdown.
func NewChannelSink(name string, buffer int) (EventSink, <-chan []HubEvent, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []HubEvent, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   EventBatchFunc
}

func (s *callbackSink) WriteBatch(events []HubEvent) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	if len(events) == 0 {
		return nil
	}
	return s.fn(copyEvents(events))
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan []HubEvent
	closed chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	done   bool
}

func (s *channelSink) WriteBatch(events []HubEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.done {
		return ErrChannelSinkClosed
	}
	if len(events) == 0 {
		return nil
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- copyEvents(events):
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

// close unblocks pending writers first, then closes the channel once they drain.
func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.done = true
		close(s.ch)
	})
}

// copyEvents detaches the batch from the pipeline's buffer.
func copyEvents(events []HubEvent) []HubEvent {
	out := make([]HubEvent, len(events))
	copy(out, events)
	return out
}
