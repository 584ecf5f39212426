package harness

import (
	"context"
	"fmt"

	"github.com/roach88/watergrant/internal/engine"
	"github.com/roach88/watergrant/internal/feed"
	"github.com/roach88/watergrant/internal/retry"
	"github.com/roach88/watergrant/internal/state"
	"github.com/roach88/watergrant/internal/store"
)

// Run executes a scenario against a fresh in-memory store and returns the
// result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	return Apply(context.Background(), st, scenario)
}

// Apply delivers the scenario's blocks to st through the engine, then
// checks block expectations and assertions.
//
// Blocks are pushed through an in-memory feed so they take the same path
// as validator events: parse, decode, fork resolution and apply. The
// returned error covers harness failures only; failed expectations are
// reported in the Result.
func Apply(ctx context.Context, st *store.Store, scenario *Scenario, opts ...engine.Option) (*Result, error) {
	batches, err := scenario.Batches()
	if err != nil {
		return nil, err
	}

	f := feed.NewMemory()
	for _, b := range batches {
		f.Push(b...)
	}
	f.Finish()
	defer f.Close()

	result := NewResult()
	observe := func(b engine.Batch, res engine.Result) {
		if res.Block == nil {
			return
		}
		result.Trace = append(result.Trace, TraceEvent{
			Seq:         b.Seq,
			BlockNum:    res.Block.Num,
			BlockID:     res.Block.ID,
			Disposition: res.Disposition.String(),
			Records:     res.Records,
			Skipped:     res.Skipped,
		})
	}

	// Storage failures surface immediately unless the caller overrides.
	once := retry.Default()
	once.MaxAttempts = 1
	opts = append([]engine.Option{engine.WithRetryPolicy(once)}, opts...)
	opts = append(opts, engine.WithObserver(observe))

	eng := engine.New(st, f, state.NewDecoder(scenario.Namespace()), opts...)
	if err := eng.Run(ctx); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	checkExpectations(scenario, result)

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}

	snap, err := st.Dump(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to dump state: %w", err)
	}
	result.State = snap

	return result, nil
}

// checkExpectations compares each block's expected disposition with the
// trace. Batches are numbered from 1 in delivery order.
func checkExpectations(scenario *Scenario, result *Result) {
	bySeq := make(map[int64]TraceEvent, len(result.Trace))
	for _, ev := range result.Trace {
		bySeq[ev.Seq] = ev
	}

	for i, b := range scenario.Blocks {
		ev, ok := bySeq[int64(i)+1]
		if !ok {
			result.AddError(fmt.Sprintf("block %d (%s): not applied", b.Num, b.ID))
			continue
		}
		if b.Expect != "" && ev.Disposition != b.Expect {
			result.AddError(fmt.Sprintf("block %d (%s): expected %s, got %s",
				b.Num, b.ID, b.Expect, ev.Disposition))
		}
	}
}
