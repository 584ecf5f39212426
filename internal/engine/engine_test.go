package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/feed"
	"github.com/roach88/watergrant/internal/fork"
	"github.com/roach88/watergrant/internal/model"
	"github.com/roach88/watergrant/internal/retry"
	"github.com/roach88/watergrant/internal/sawtooth"
	"github.com/roach88/watergrant/internal/state"
	"github.com/roach88/watergrant/internal/store"
	"github.com/roach88/watergrant/internal/testutil"
)

var ns = address.Default()

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}
}

func newTestEngine(t *testing.T, f feed.Feed) (*Engine, *store.Store) {
	t.Helper()
	s := setupTestStore(t)
	return New(s, f, state.NewDecoder(ns), WithRetryPolicy(fastPolicy())), s
}

func user(key string, quota float64) model.User {
	return model.User{PublicKey: key, Name: key, CreatedAt: 1, Quota: quota, CreatedByAdminKey: "A1"}
}

func TestEngine_RunAppliesBatchesInOrder(t *testing.T) {
	f := feed.NewMemory()
	e, s := newTestEngine(t, f)

	f.Push(testutil.Batch(5, "B5", testutil.UserChange(ns, user("U1", 0)))...)
	f.Push(testutil.Batch(9, "B9", testutil.UserChange(ns, user("U1", 100)))...)
	f.Push(testutil.Batch(9, "B9x")...)
	f.Finish()

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{sawtooth.NullBlockID}, f.LastKnownBlockIDs())
	assert.Len(t, f.Subscriptions(), 2)
	assert.True(t, f.Unsubscribed())

	hist, err := s.UserHistory(context.Background(), "U1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.Interval{Start: 5, End: model.OpenBlock}, hist[0].Interval)
	assert.Equal(t, 0.0, hist[0].Quota)
}

func TestEngine_RunResumesFromLastKnownBlocks(t *testing.T) {
	f := feed.NewMemory()
	s := setupTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"B1", "B2", "B3"} {
		_, err := s.ApplyBlock(ctx, model.Block{Num: int64(i + 1), ID: id}, nil)
		require.NoError(t, err)
	}

	e := New(s, f, state.NewDecoder(ns), WithKnownBlocks(2), WithRetryPolicy(fastPolicy()))
	f.Finish()
	require.NoError(t, e.Run(ctx))

	assert.Equal(t, []string{"B3", "B2"}, f.LastKnownBlockIDs())
}

func TestEngine_SubscribeUnknownBlockIsTerminal(t *testing.T) {
	f := &flakyFeed{Memory: feed.NewMemory(), failures: 100, err: feed.ErrUnknownBlock}
	e, _ := newTestEngine(t, f)

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeSubscribeFailed))
	assert.ErrorIs(t, err, feed.ErrUnknownBlock)
	assert.Equal(t, 1, f.attempts)
}

func TestEngine_SubscribeRetriesTransientFailures(t *testing.T) {
	f := &flakyFeed{Memory: feed.NewMemory(), failures: 2, err: feed.ErrTimeout}
	e, _ := newTestEngine(t, f)
	f.Finish()

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, 3, f.attempts)
}

func TestEngine_SubscribeGivesUp(t *testing.T) {
	f := &flakyFeed{Memory: feed.NewMemory(), failures: 100, err: feed.ErrTimeout}
	e, _ := newTestEngine(t, f)

	err := e.Run(context.Background())
	assert.True(t, HasCode(err, ErrCodeSubscribeFailed))
	var ex *retry.ExhaustedError
	assert.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, f.attempts)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	f := feed.NewMemory()
	e, s := newTestEngine(t, f)
	ctx, cancel := context.WithCancel(context.Background())

	f.Push(testutil.Batch(1, "B1")...)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := s.Block(context.Background(), 1)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, f.Unsubscribed())
}

func TestEngine_RunReportsFeedFailure(t *testing.T) {
	boom := errors.New("socket gone")
	f := &brokenFeed{Memory: feed.NewMemory(), err: boom}
	e, _ := newTestEngine(t, f)

	err := e.Run(context.Background())
	assert.True(t, HasCode(err, ErrCodeFeedFailed))
	assert.ErrorIs(t, err, boom)
}

func TestEngine_RunSkipsMalformedBatch(t *testing.T) {
	f := feed.NewMemory()
	e, s := newTestEngine(t, f)

	bad := testutil.BlockCommit(2, "B2")
	bad.Attributes[1].Value = "two"
	f.Push(testutil.Batch(1, "B1")...)
	f.Push(bad)
	f.Push(testutil.Batch(3, "B3")...)
	f.Finish()

	require.NoError(t, e.Run(context.Background()))

	blocks, err := s.RecentBlocks(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []model.Block{{Num: 3, ID: "B3"}, {Num: 1, ID: "B1"}}, blocks)
}

func TestEngine_ObserverSeesAppliedBatches(t *testing.T) {
	f := feed.NewMemory()
	s := setupTestStore(t)

	var seqs []int64
	var dispositions []fork.Disposition
	e := New(s, f, state.NewDecoder(ns),
		WithRetryPolicy(fastPolicy()),
		WithObserver(func(b Batch, res Result) {
			seqs = append(seqs, b.Seq)
			dispositions = append(dispositions, res.Disposition)
		}),
	)

	bad := testutil.BlockCommit(2, "B2")
	bad.Attributes[1].Value = "two"

	f.Push(testutil.Batch(1, "B1", testutil.UserChange(ns, user("U1", 1)))...)
	f.Push(bad)
	f.Push(testutil.Batch(1, "B1")...)
	f.Push(testutil.Batch(1, "B1x")...)
	f.Finish()

	require.NoError(t, e.Run(context.Background()))

	// The malformed second batch is skipped without an observation.
	assert.Equal(t, []int64{1, 3, 4}, seqs)
	assert.Equal(t, []fork.Disposition{fork.New, fork.Duplicate, fork.Fork}, dispositions)
	assert.Equal(t, int64(4), e.Received())
}

func TestEngine_StorageFailureExhaustsPolicy(t *testing.T) {
	e, s := newTestEngine(t, feed.NewMemory())
	require.NoError(t, s.Close())

	err := e.process(context.Background(), Batch{Seq: 1, Events: testutil.Batch(4, "B4")})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeStorageFailed))

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, int64(4), re.BlockNum)

	var serr *store.StorageError
	assert.ErrorAs(t, err, &serr)
	var ex *retry.ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, uint(3), ex.Attempts)
}

func TestHandleBatch_Dispositions(t *testing.T) {
	e, _ := newTestEngine(t, feed.NewMemory())
	ctx := context.Background()

	res, err := e.HandleBatch(ctx, testutil.Batch(1, "B1", testutil.UserChange(ns, user("U1", 1))))
	require.NoError(t, err)
	assert.Equal(t, fork.New, res.Disposition)
	assert.Equal(t, 1, res.Records)

	res, err = e.HandleBatch(ctx, testutil.Batch(1, "B1", testutil.UserChange(ns, user("U1", 1))))
	require.NoError(t, err)
	assert.Equal(t, fork.Duplicate, res.Disposition)

	res, err = e.HandleBatch(ctx, testutil.Batch(1, "B1b"))
	require.NoError(t, err)
	assert.Equal(t, fork.Fork, res.Disposition)
}

func TestHandleBatch_NoBlockCommitIsNoOp(t *testing.T) {
	e, s := newTestEngine(t, feed.NewMemory())

	res, err := e.HandleBatch(context.Background(), []sawtooth.Event{
		testutil.StateDelta(testutil.UserChange(ns, user("U1", 1))),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Block)

	_, err = s.MaxBlockNum(context.Background())
	assert.ErrorIs(t, err, store.ErrEmpty)
}

func TestHandleBatch_SkipsUndecodableAndForeign(t *testing.T) {
	e, s := newTestEngine(t, feed.NewMemory())
	ctx := context.Background()

	other := address.NewNamespace("intkey")
	res, err := e.HandleBatch(ctx, testutil.Batch(2, "B2",
		testutil.Set(ns.UserAddress("broken"), []byte{0xff, 0xff}),
		testutil.Set(other.UserAddress("U9"), []byte{0x01}),
		testutil.UserChange(ns, user("U1", 7)),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
	assert.Equal(t, 1, res.Skipped)

	u, err := s.CurrentUser(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 7.0, u.Quota)
}

func TestHandleBatch_Malformed(t *testing.T) {
	e, _ := newTestEngine(t, feed.NewMemory())

	bad := testutil.BlockCommit(2, "B2")
	bad.Attributes[1].Value = "-"
	_, err := e.HandleBatch(context.Background(), []sawtooth.Event{bad})
	assert.True(t, HasCode(err, ErrCodeMalformedBatch))
}

func TestRuntimeError_Message(t *testing.T) {
	err := NewStorageError(9, errors.New("disk full"))
	assert.Equal(t, "STORAGE_FAILED: apply block: disk full (block=9)", err.Error())

	err = &RuntimeError{Code: ErrCodeFeedFailed, BlockNum: -1, Err: errors.New("eof")}
	assert.Equal(t, "FEED_FAILED: eof", err.Error())
}

// flakyFeed fails the first failures Subscribe calls with err.
type flakyFeed struct {
	*feed.Memory
	failures int
	err      error
	attempts int
}

func (f *flakyFeed) Subscribe(ctx context.Context, subs []sawtooth.EventSubscription, ids []string) error {
	f.attempts++
	if f.attempts <= f.failures {
		return f.err
	}
	return f.Memory.Subscribe(ctx, subs, ids)
}

// brokenFeed fails every Receive.
type brokenFeed struct {
	*feed.Memory
	err error
}

func (f *brokenFeed) Receive(context.Context) ([]sawtooth.Event, error) {
	return nil, f.err
}
