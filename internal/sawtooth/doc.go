// Package sawtooth carries the validator messages a state subscriber
// exchanges over the validator's client endpoint: the message envelope,
// event subscription requests and responses, event lists and state change
// lists. Wire encoding goes through the generated types of the Sawtooth
// Go SDK; this package keeps plain value types for the rest of the module.
package sawtooth
