// Package event extracts the committed block and the namespace's state
// changes from one batch of validator events.
package event

import (
	"fmt"
	"strconv"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/model"
	"github.com/roach88/watergrant/internal/sawtooth"
)

// Parsed is the content of one notification batch.
//
// Block is nil when the batch carried no block-commit event; such a
// batch does not advance the chain and callers treat it as a no-op.
type Parsed struct {
	Block   *model.Block
	Changes []sawtooth.StateChange
}

// Parser extracts blocks and namespace-filtered changes.
type Parser struct {
	ns address.Namespace
}

// NewParser returns a parser scoped to the namespace.
func NewParser(ns address.Namespace) *Parser {
	return &Parser{ns: ns}
}

// Parse reads the first block-commit and the first state-delta event of
// the batch. Either may be absent.
func (p *Parser) Parse(events []sawtooth.Event) (Parsed, error) {
	parsed := Parsed{Changes: []sawtooth.StateChange{}}

	for _, e := range events {
		if e.Type != sawtooth.EventBlockCommit {
			continue
		}
		block, err := parseBlock(e)
		if err != nil {
			return Parsed{}, err
		}
		parsed.Block = &block
		break
	}

	for _, e := range events {
		if e.Type != sawtooth.EventStateDelta {
			continue
		}
		changes, err := sawtooth.UnmarshalStateChangeList(e.Data)
		if err != nil {
			return Parsed{}, fmt.Errorf("state delta: %w", err)
		}
		for _, c := range changes {
			if p.ns.Contains(c.Address) {
				parsed.Changes = append(parsed.Changes, c)
			}
		}
		break
	}

	return parsed, nil
}

// ParseMessage decodes a CLIENT_EVENTS envelope content and parses it.
func (p *Parser) ParseMessage(content []byte) (Parsed, error) {
	events, err := sawtooth.UnmarshalEventList(content)
	if err != nil {
		return Parsed{}, err
	}
	return p.Parse(events)
}

func parseBlock(e sawtooth.Event) (model.Block, error) {
	rawNum, ok := e.Attr("block_num")
	if !ok {
		return model.Block{}, fmt.Errorf("block-commit event has no block_num")
	}
	num, err := strconv.ParseInt(rawNum, 10, 64)
	if err != nil || num < 0 {
		return model.Block{}, fmt.Errorf("block-commit event has invalid block_num %q", rawNum)
	}
	id, ok := e.Attr("block_id")
	if !ok || id == "" {
		return model.Block{}, fmt.Errorf("block-commit event has no block_id")
	}
	return model.Block{Num: num, ID: id}, nil
}

// Subscriptions returns the event subscriptions a projection of ns needs:
// every block commit, and state deltas for addresses in the namespace.
func Subscriptions(ns address.Namespace) []sawtooth.EventSubscription {
	return []sawtooth.EventSubscription{
		{EventType: sawtooth.EventBlockCommit},
		{
			EventType: sawtooth.EventStateDelta,
			Filters: []sawtooth.EventFilter{{
				Key:         "address",
				MatchString: "^" + ns.Prefix() + ".*",
				Type:        sawtooth.FilterRegexAny,
			}},
		},
	}
}
