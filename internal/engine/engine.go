package engine

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/watergrant/internal/event"
	"github.com/roach88/watergrant/internal/feed"
	"github.com/roach88/watergrant/internal/fork"
	"github.com/roach88/watergrant/internal/model"
	"github.com/roach88/watergrant/internal/retry"
	"github.com/roach88/watergrant/internal/sawtooth"
	"github.com/roach88/watergrant/internal/state"
	"github.com/roach88/watergrant/internal/store"
)

// DefaultKnownBlocks is how many recent block ids are sent when resuming
// a subscription.
const DefaultKnownBlocks = 15

// unsubscribeTimeout bounds the unsubscribe request sent on shutdown.
const unsubscribeTimeout = 5 * time.Second

// Engine is the single-consumer subscriber loop.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine
//   - HandleBatch(): must not run concurrently with Run or itself
//   - Stop(): safe from any goroutine
type Engine struct {
	store       *store.Store
	feed        feed.Feed
	decoder     *state.Decoder
	parser      *event.Parser
	policy      retry.Policy
	knownBlocks int
	seq         sequence
	queue       *batchQueue
	tracer      trace.Tracer
	observe     func(Batch, Result)
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy sets the policy for subscribing and for applying blocks.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithKnownBlocks sets how many recent block ids resume the subscription.
func WithKnownBlocks(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.knownBlocks = n
		}
	}
}

// WithTracer replaces the tracer obtained from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithObserver registers fn to be called from Run after each batch is
// handled successfully.
func WithObserver(fn func(Batch, Result)) Option {
	return func(e *Engine) {
		e.observe = fn
	}
}

// New creates an Engine that applies batches from f to s. The decoder's
// namespace scopes both the subscription filter and the parser.
func New(s *store.Store, f feed.Feed, dec *state.Decoder, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		feed:        f,
		decoder:     dec,
		parser:      event.NewParser(dec.Namespace()),
		policy:      retry.Default(),
		knownBlocks: DefaultKnownBlocks,
		queue:       newBatchQueue(),
		tracer:      otel.Tracer("github.com/roach88/watergrant/internal/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers with the validator, resuming from the store's most
// recent blocks, or from the null block when the store is empty.
// Transient failures are retried with the engine's policy.
func (e *Engine) Subscribe(ctx context.Context) error {
	ids, err := e.store.LastKnownBlockIDs(ctx, e.knownBlocks)
	if err != nil {
		return &RuntimeError{Code: ErrCodeSubscribeFailed, Message: "read last known blocks", BlockNum: -1, Err: err}
	}
	if len(ids) == 0 {
		ids = []string{sawtooth.NullBlockID}
	}
	subs := event.Subscriptions(e.decoder.Namespace())

	err = e.policy.Do(ctx, func(ctx context.Context) error {
		err := e.feed.Subscribe(ctx, subs, ids)
		if errors.Is(err, feed.ErrUnknownBlock) || errors.Is(err, feed.ErrInvalidFilter) || errors.Is(err, feed.ErrClosed) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt uint, err error, delay time.Duration) {
		slog.Warn("subscribe failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RuntimeError{Code: ErrCodeSubscribeFailed, Message: err.Error(), BlockNum: -1, Err: err}
	}

	slog.Info("subscribed",
		"namespace", e.decoder.Namespace().Prefix(),
		"last_known_block_id", ids[0],
		"known_blocks", len(ids),
	)
	return nil
}

// Run subscribes, then applies batches until ctx is cancelled, the feed
// ends, or a block cannot be stored.
//
// Cancellation is observed between batches; a block being applied always
// commits or rolls back first. Run unsubscribes before returning.
//
// Returns nil when a finite feed is drained, ctx.Err() on cancellation,
// and a *RuntimeError otherwise.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Subscribe(ctx); err != nil {
		return err
	}
	defer e.unsubscribe()

	rctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	var recvErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		recvErr = e.receive(rctx)
	}()
	// The receiver owns the feed until it returns.
	defer wg.Wait()
	defer cancel()

	slog.Info("engine starting")

	for {
		batch, ok := e.queue.TryDequeue()
		if ok {
			if err := e.process(ctx, batch); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed once the receiver is done.
			if e.queue.Drained() {
				cancel()
				wg.Wait()
				if recvErr != nil {
					return &RuntimeError{Code: ErrCodeFeedFailed, Message: recvErr.Error(), BlockNum: -1, Err: recvErr}
				}
				slog.Info("engine stopping: feed drained")
				return nil
			}
		}
	}
}

// Received reports how many batches the feed has delivered so far.
func (e *Engine) Received() int64 {
	return e.seq.last()
}

// Stop closes the batch queue; Run returns once the queued batches are
// applied.
func (e *Engine) Stop() {
	e.queue.Close()
}

// receive moves batches from the feed into the queue. It returns nil when
// the feed ends or ctx is cancelled.
func (e *Engine) receive(ctx context.Context) error {
	defer e.queue.Close()
	for {
		events, err := e.feed.Receive(ctx)
		switch {
		case err == nil:
		case errors.Is(err, feed.ErrEndOfStream), ctx.Err() != nil:
			return nil
		default:
			return err
		}

		b := Batch{Seq: e.seq.next(), Events: events}
		if !e.queue.Enqueue(b) {
			return nil
		}
		slog.Debug("batch received", "seq", b.Seq, "events", len(events))
	}
}

func (e *Engine) unsubscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := e.feed.Unsubscribe(ctx); err != nil {
		slog.Warn("unsubscribe failed", "error", err)
	}
}

// process applies one batch, retrying storage failures with the policy.
// A malformed batch is logged and skipped.
func (e *Engine) process(ctx context.Context, b Batch) error {
	var blockNum int64 = -1
	var last Result
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		res, err := e.HandleBatch(ctx, b.Events)
		last = res
		if res.Block != nil {
			blockNum = res.Block.Num
		}
		var serr *store.StorageError
		if err != nil && !errors.As(err, &serr) {
			return retry.Permanent(err)
		}
		return err
	}, func(attempt uint, err error, delay time.Duration) {
		slog.Warn("apply failed, retrying",
			"seq", b.Seq,
			"block_num", blockNum,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	})

	switch {
	case err == nil:
		if e.observe != nil {
			e.observe(b, last)
		}
		return nil
	case HasCode(err, ErrCodeMalformedBatch):
		slog.Error("skipping malformed batch", "seq", b.Seq, "error", err)
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		slog.Error("block could not be applied",
			"seq", b.Seq,
			"block_num", blockNum,
			"error", err,
		)
		return NewStorageError(blockNum, err)
	}
}

// Result describes what HandleBatch did with one batch.
type Result struct {
	// Block is nil when the batch carried no block commit.
	Block       *model.Block
	Disposition fork.Disposition
	// Records is the number of decoded records handed to the store.
	Records int
	// Skipped is the number of in-namespace changes that failed to decode.
	Skipped int
}

// HandleBatch parses, decodes and applies one batch.
//
// A batch without a block commit is a no-op. A parse failure returns a
// MALFORMED_BATCH *RuntimeError; a store failure returns the
// *store.StorageError unchanged so callers can retry it.
//
// The store transaction runs detached from ctx cancellation so an
// in-flight block is never abandoned halfway.
func (e *Engine) HandleBatch(ctx context.Context, events []sawtooth.Event) (Result, error) {
	parsed, err := e.parser.Parse(events)
	if err != nil {
		return Result{}, NewMalformedBatchError(err)
	}
	if parsed.Block == nil {
		slog.Debug("batch has no block commit, skipping", "changes", len(parsed.Changes))
		return Result{}, nil
	}
	block := *parsed.Block
	res := Result{Block: &block}

	records, skipped := e.decode(block, parsed.Changes)
	res.Records = len(records)
	res.Skipped = skipped

	ctx, span := e.tracer.Start(ctx, "engine.apply_block", trace.WithAttributes(
		attribute.Int64("block.num", block.Num),
		attribute.String("block.id", block.ID),
		attribute.Int("block.records", len(records)),
		attribute.Int("block.skipped", skipped),
	))
	defer span.End()

	previous, err := e.store.Block(ctx, block.Num)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read block")
		return res, &store.StorageError{Op: "read block", BlockNum: block.Num, Err: err}
	}

	d, err := e.store.ApplyBlock(context.WithoutCancel(ctx), block, records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply block")
		return res, err
	}
	res.Disposition = d
	span.SetAttributes(attribute.String("block.disposition", d.String()))

	switch d {
	case fork.Duplicate:
		slog.Debug("duplicate block, skipped",
			"block_num", block.Num,
			"block_id", block.ID,
		)
	case fork.Fork:
		slog.Info("fork resolved",
			"block_num", block.Num,
			"old_block_id", previous.ID,
			"new_block_id", block.ID,
			"records", len(records),
		)
	default:
		slog.Info("block applied",
			"block_num", block.Num,
			"block_id", block.ID,
			"records", len(records),
			"skipped", skipped,
		)
	}
	return res, nil
}

// decode turns the block's changes into records. Foreign addresses are
// dropped silently and undecodable ones are skipped with a warning.
func (e *Engine) decode(block model.Block, changes []sawtooth.StateChange) ([]model.Record, int) {
	var records []model.Record
	skipped := 0
	for _, c := range changes {
		recs, err := e.decoder.Decode(c.Address, c.Value)
		if errors.Is(err, state.ErrForeignAddress) {
			slog.Debug("foreign address ignored", "address", c.Address)
			continue
		}
		if err != nil {
			skipped++
			var de *state.DecodeError
			kind := "unknown"
			if errors.As(err, &de) {
				kind = de.Kind.String()
			}
			slog.Warn("skipping undecodable state",
				"block_num", block.Num,
				"address", c.Address,
				"kind", kind,
				"error", err,
			)
			continue
		}
		records = append(records, recs...)
	}
	return records, skipped
}

// QueueLen returns the number of received batches not yet applied.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}
