// Package harness replays YAML block scenarios through the subscriber
// engine and checks the resulting projection.
//
// A scenario lists blocks in delivery order. Each block carries the
// entities whose containers changed in it, and may repeat an earlier
// height with a different id to deliver a fork. The harness encodes the
// entities exactly as a transaction processor would, feeds the batches to
// engine.Run through an in-memory feed, and evaluates the scenario's
// assertions against the store.
//
// Golden snapshots of the trace and the full projection live in
// testdata/golden. Regenerate them with:
//
//	go test ./internal/harness -update
package harness
