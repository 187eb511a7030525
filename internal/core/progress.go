package core

import (
	"log/slog"
	"sync"
)

// ProgressReporter receives percent-complete values (0-100) for a
// correlation id. Delivery is fire-and-forget: Report must not block, and a
// missing or slow listener never affects the caller.
type ProgressReporter interface {
	Report(correlationID string, percent int)
}

// MultiReporter fans a report out to several reporters.
type MultiReporter []ProgressReporter

func (m MultiReporter) Report(correlationID string, percent int) {
	for _, r := range m {
		if r != nil {
			r.Report(correlationID, percent)
		}
	}
}

// ProgressEvent is what in-process listeners receive.
type ProgressEvent struct {
	CorrelationID string `json:"correlationId"`
	Percent       int    `json:"percent"`
}

// Broadcaster delivers progress to in-process subscribers (the SSE handler).
// Sends never block; a full subscriber buffer drops the event.
type Broadcaster struct {
	mu        sync.Mutex
	listeners map[string][]chan ProgressEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[string][]chan ProgressEvent)}
}

// Subscribe returns a channel of events for correlationID and a function
// that unsubscribes. The channel is closed by Close or unsubscribe.
func (b *Broadcaster) Subscribe(correlationID string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 16)

	b.mu.Lock()
	b.listeners[correlationID] = append(b.listeners[correlationID], ch)
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { b.remove(correlationID, ch) })
	}
}

func (b *Broadcaster) remove(correlationID string, ch chan ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.listeners[correlationID]
	for i, c := range list {
		if c == ch {
			close(c)
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.listeners, correlationID)
	} else {
		b.listeners[correlationID] = list
	}
}

func (b *Broadcaster) Report(correlationID string, percent int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev := ProgressEvent{CorrelationID: correlationID, Percent: percent}
	for _, ch := range b.listeners[correlationID] {
		select {
		case ch <- ev:
		default:
			slog.Debug("progress listener slow, event dropped", "correlation_id", correlationID, "percent", percent)
		}
	}
}

// Close ends every subscription for correlationID.
func (b *Broadcaster) Close(correlationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.listeners[correlationID] {
		close(ch)
	}
	delete(b.listeners, correlationID)
}

// Listeners returns the number of subscribers for correlationID.
func (b *Broadcaster) Listeners(correlationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[correlationID])
}
