package feed

import (
	"context"
	"sync"

	"github.com/roach88/watergrant/internal/sawtooth"
)

// Memory is an in-process Feed. Batches pushed before or after Subscribe
// are delivered in order; after Finish, Receive drains what is left and
// then returns ErrEndOfStream.
type Memory struct {
	mu       sync.Mutex
	batches  [][]sawtooth.Event
	finished bool
	closed   bool
	signal   chan struct{}

	// SubscribeErr, when set, is returned by the next Subscribe calls.
	SubscribeErr error

	lastKnown    []string
	subs         []sawtooth.EventSubscription
	unsubscribed bool
}

// NewMemory returns an empty in-process feed.
func NewMemory() *Memory {
	return &Memory{signal: make(chan struct{}, 1)}
}

// Push appends one batch.
func (m *Memory) Push(events ...sawtooth.Event) {
	m.mu.Lock()
	m.batches = append(m.batches, events)
	m.mu.Unlock()
	m.wake()
}

// Finish marks the end of the stream.
func (m *Memory) Finish() {
	m.mu.Lock()
	m.finished = true
	m.mu.Unlock()
	m.wake()
}

func (m *Memory) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *Memory) Subscribe(_ context.Context, subs []sawtooth.EventSubscription, lastKnownBlockIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.SubscribeErr != nil {
		return m.SubscribeErr
	}
	m.subs = subs
	m.lastKnown = append([]string(nil), lastKnownBlockIDs...)
	return nil
}

func (m *Memory) Receive(ctx context.Context) ([]sawtooth.Event, error) {
	for {
		m.mu.Lock()
		switch {
		case m.closed:
			m.mu.Unlock()
			return nil, ErrClosed
		case len(m.batches) > 0:
			b := m.batches[0]
			m.batches[0] = nil
			m.batches = m.batches[1:]
			m.mu.Unlock()
			return b, nil
		case m.finished:
			m.mu.Unlock()
			return nil, ErrEndOfStream
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.signal:
		}
	}
}

func (m *Memory) Unsubscribe(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = true
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
	return nil
}

// LastKnownBlockIDs returns the block ids passed to the last successful
// Subscribe.
func (m *Memory) LastKnownBlockIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lastKnown...)
}

// Subscriptions returns the subscriptions passed to the last successful
// Subscribe.
func (m *Memory) Subscriptions() []sawtooth.EventSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subs
}

// Unsubscribed reports whether Unsubscribe was called.
func (m *Memory) Unsubscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribed
}
