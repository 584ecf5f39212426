// Package engine runs the subscriber: it receives validator event
// batches, decodes the namespace's state changes and applies each block
// to the projection store.
//
// Single consumer:
// A receiver goroutine reads batches from the feed into a FIFO queue. Run
// dequeues and applies them one at a time, in delivery order. Fork
// resolution compares every block with what is already stored, so block
// N+1 is never applied before block N has been committed or rejected.
//
// Batch processing:
//  1. EventParser extracts the committed block and the namespace's changes.
//  2. StateDecoder turns each change into records. Foreign addresses are
//     dropped, undecodable ones are logged and skipped.
//  3. ProjectionStore.ApplyBlock resolves the block and applies it in one
//     transaction.
//
// A storage failure is retried with the configured policy. Once the
// policy is exhausted Run returns, and a restart resumes the subscription
// from the store's last known blocks.
package engine
