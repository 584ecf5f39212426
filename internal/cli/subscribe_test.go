package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/config"
	"github.com/roach88/watergrant/internal/feed"
	"github.com/roach88/watergrant/internal/model"
	"github.com/roach88/watergrant/internal/sawtooth"
	"github.com/roach88/watergrant/internal/store"
	"github.com/roach88/watergrant/internal/testutil"
)

func subscribeCommand(opts *RootOptions, f feed.Feed, dialErr error) *SubscribeOptions {
	return &SubscribeOptions{
		RootOptions: opts,
		Dial: func(config.Config) (feed.Feed, error) {
			if dialErr != nil {
				return nil, dialErr
			}
			return f, nil
		},
	}
}

func TestSubscribe_AppliesFeedUntilDrained(t *testing.T) {
	opts := testOptions(t, "text")
	ns := address.Default()

	f := feed.NewMemory()
	f.Push(testutil.Batch(5, "B5", testutil.UserChange(ns, model.User{PublicKey: "U1", Quota: 0}))...)
	f.Push(testutil.Batch(9, "B9", testutil.UserChange(ns, model.User{PublicKey: "U1", Quota: 100}))...)
	f.Push(testutil.Batch(9, "B9x")...)
	f.Finish()

	sub := subscribeCommand(opts, f, nil)
	cmd := NewSubscribeCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, runSubscribe(sub, cmd))

	assert.Contains(t, out.String(), "Listening to tcp://validator:4004")
	assert.Equal(t, []string{sawtooth.NullBlockID}, f.LastKnownBlockIDs())
	assert.True(t, f.Unsubscribed())

	st, err := store.Open(opts.Database)
	require.NoError(t, err)
	defer st.Close()
	hist, err := st.UserHistory(context.Background(), "U1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, model.Interval{Start: 5, End: model.OpenBlock}, hist[0].Interval)

	b, err := st.Block(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "B9x", b.ID)
}

func TestSubscribe_ResumesFromStoredBlocks(t *testing.T) {
	opts := testOptions(t, "text")
	opts.Environ = map[string]string{"WATERGRANT_KNOWN_BLOCKS": "2"}
	seedDatabase(t, opts.Database)

	f := feed.NewMemory()
	f.Finish()

	cmd := NewSubscribeCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, runSubscribe(subscribeCommand(opts, f, nil), cmd))
	assert.Equal(t, []string{"B3", "B2"}, f.LastKnownBlockIDs())
}

func TestSubscribe_StopsOnCancel(t *testing.T) {
	opts := testOptions(t, "text")
	f := feed.NewMemory()

	ctx, cancel := context.WithCancel(context.Background())
	cmd := NewSubscribeCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runSubscribe(subscribeCommand(opts, f, nil), cmd) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe did not stop")
	}
}

func TestSubscribe_UnknownBlockFails(t *testing.T) {
	opts := testOptions(t, "text")
	f := feed.NewMemory()
	f.SubscribeErr = feed.ErrUnknownBlock

	cmd := NewSubscribeCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := runSubscribe(subscribeCommand(opts, f, nil), cmd)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, feed.ErrUnknownBlock)
}

func TestSubscribe_DialFailure(t *testing.T) {
	opts := testOptions(t, "text")

	cmd := NewSubscribeCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := runSubscribe(subscribeCommand(opts, nil, errors.New("connection refused")), cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to connect to validator")
}

func TestSubscribe_InvalidConfig(t *testing.T) {
	opts := testOptions(t, "text")
	opts.Environ = map[string]string{"WATERGRANT_VALIDATOR_URL": "http://validator"}

	cmd := NewSubscribeCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	err := runSubscribe(subscribeCommand(opts, feed.NewMemory(), nil), cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
