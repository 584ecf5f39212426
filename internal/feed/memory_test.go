package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watergrant/internal/sawtooth"
)

func TestMemory_DeliversInOrderThenEnds(t *testing.T) {
	m := NewMemory()
	m.Push(sawtooth.Event{Type: "a"})
	m.Push(sawtooth.Event{Type: "b"})
	m.Finish()

	ctx := context.Background()
	got, err := m.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got[0].Type)

	got, err = m.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", got[0].Type)

	_, err = m.Receive(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestMemory_ReceiveWaitsForPush(t *testing.T) {
	m := NewMemory()

	go func() {
		time.Sleep(10 * time.Millisecond)
		m.Push(sawtooth.Event{Type: "late"})
	}()

	got, err := m.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", got[0].Type)
}

func TestMemory_ReceiveHonoursContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemory_Subscribe(t *testing.T) {
	m := NewMemory()
	subs := []sawtooth.EventSubscription{{EventType: sawtooth.EventBlockCommit}}

	require.NoError(t, m.Subscribe(context.Background(), subs, []string{"B2", "B1"}))
	assert.Equal(t, []string{"B2", "B1"}, m.LastKnownBlockIDs())
	assert.Equal(t, subs, m.Subscriptions())

	m.SubscribeErr = ErrUnknownBlock
	err := m.Subscribe(context.Background(), subs, nil)
	assert.True(t, errors.Is(err, ErrUnknownBlock))
}

func TestMemory_Close(t *testing.T) {
	m := NewMemory()
	m.Push(sawtooth.Event{Type: "a"})
	require.NoError(t, m.Close())

	_, err := m.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Subscribe(context.Background(), nil, nil), ErrClosed)
}

var _ Feed = (*Memory)(nil)
var _ Feed = (*Client)(nil)
