package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchQueue_FIFO(t *testing.T) {
	q := newBatchQueue()
	for i := int64(1); i <= 3; i++ {
		require.True(t, q.Enqueue(Batch{Seq: i}))
	}
	assert.Equal(t, 3, q.Len())

	for i := int64(1); i <= 3; i++ {
		b, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, i, b.Seq)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestBatchQueue_EnqueueAfterClose(t *testing.T) {
	q := newBatchQueue()
	q.Close()
	q.Close()

	assert.False(t, q.Enqueue(Batch{Seq: 1}))
}

func TestBatchQueue_WaitSignals(t *testing.T) {
	q := newBatchQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(Batch{Seq: 7})
	}()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("no signal after enqueue")
	}
	b, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, int64(7), b.Seq)
}

func TestBatchQueue_CloseWakesWaiters(t *testing.T) {
	q := newBatchQueue()
	q.Close()

	select {
	case <-q.Wait():
	case <-time.After(time.Second):
		t.Fatal("Close did not wake waiter")
	}
}

func TestBatchQueue_DrainAfterClose(t *testing.T) {
	q := newBatchQueue()
	q.Enqueue(Batch{Seq: 1})
	q.Close()

	b, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, int64(1), b.Seq)
	assert.Equal(t, 0, q.Len())
}

func TestBatchQueue_Drained(t *testing.T) {
	q := newBatchQueue()
	q.Enqueue(Batch{Seq: 1})
	q.TryDequeue()

	// The signal from the first enqueue is still buffered.
	<-q.Wait()
	assert.False(t, q.Drained())

	q.Close()
	assert.True(t, q.Drained())
}
