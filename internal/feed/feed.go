// Package feed delivers validator event batches to the subscriber.
//
// Client speaks the validator's client-events protocol over a ZeroMQ
// DEALER socket. Memory is an in-process feed for tests and offline
// replays.
package feed

import (
	"context"
	"errors"

	"github.com/roach88/watergrant/internal/sawtooth"
)

var (
	// ErrClosed is returned by operations on a closed feed.
	ErrClosed = errors.New("feed: closed")
	// ErrEndOfStream is returned by Receive when a finite feed is drained.
	ErrEndOfStream = errors.New("feed: end of stream")
	// ErrUnknownBlock means the validator knows none of the block ids the
	// subscriber resumed from.
	ErrUnknownBlock = errors.New("feed: validator does not know the last known blocks")
	// ErrInvalidFilter means the validator rejected an event filter.
	ErrInvalidFilter = errors.New("feed: invalid event filter")
	// ErrTimeout means the validator did not answer a request in time.
	ErrTimeout = errors.New("feed: request timed out")
)

// Feed is a source of event batches. One batch is the event list of one
// CLIENT_EVENTS message.
//
// A Feed is used from one goroutine at a time.
type Feed interface {
	// Subscribe registers the subscriptions and resumes after the newest
	// of lastKnownBlockIDs the validator knows.
	Subscribe(ctx context.Context, subs []sawtooth.EventSubscription, lastKnownBlockIDs []string) error
	// Receive blocks until the next batch arrives or ctx ends.
	Receive(ctx context.Context) ([]sawtooth.Event, error)
	// Unsubscribe ends the subscription.
	Unsubscribe(ctx context.Context) error
	Close() error
}
