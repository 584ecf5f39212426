// Package state decodes the container payloads the water-grant transaction
// processor writes at each state address.
//
// Entities whose addresses collide share one container; decoding yields
// the container's entries in order. The decoder never merges history: a
// sensor entry carries its owners, locations and measurements exactly as
// stored on the ledger.
package state
