package testutil

import (
	"strconv"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/model"
	"github.com/roach88/watergrant/internal/sawtooth"
	"github.com/roach88/watergrant/internal/state"
)

// Batch returns the event list of one CLIENT_EVENTS message: a block
// commit for (num, id) and, when changes are given, a state delta.
func Batch(num int64, id string, changes ...sawtooth.StateChange) []sawtooth.Event {
	events := []sawtooth.Event{BlockCommit(num, id)}
	if len(changes) > 0 {
		events = append(events, StateDelta(changes...))
	}
	return events
}

// BlockCommit returns a sawtooth/block-commit event.
func BlockCommit(num int64, id string) sawtooth.Event {
	return sawtooth.Event{
		Type: sawtooth.EventBlockCommit,
		Attributes: []sawtooth.Attribute{
			{Key: "block_id", Value: id},
			{Key: "block_num", Value: strconv.FormatInt(num, 10)},
			{Key: "state_root_hash", Value: "00"},
			{Key: "previous_block_id", Value: sawtooth.NullBlockID},
		},
	}
}

// StateDelta returns a sawtooth/state-delta event carrying changes. It
// panics if the list cannot be encoded, which only happens for addresses
// that are not valid UTF-8.
func StateDelta(changes ...sawtooth.StateChange) sawtooth.Event {
	data, err := sawtooth.MarshalStateChangeList(changes)
	if err != nil {
		panic(err)
	}
	return sawtooth.Event{
		Type: sawtooth.EventStateDelta,
		Data: data,
	}
}

// AdminChange sets the admin container at the first admin's address.
// Further admins share the bucket.
func AdminChange(ns address.Namespace, admins ...model.Admin) sawtooth.StateChange {
	return Set(ns.AdminAddress(admins[0].PublicKey), state.EncodeAdmins(admins...))
}

// UserChange sets the user container at the first user's address.
func UserChange(ns address.Namespace, users ...model.User) sawtooth.StateChange {
	return Set(ns.UserAddress(users[0].PublicKey), state.EncodeUsers(users...))
}

// SensorChange sets the sensor container at the first sensor's address.
func SensorChange(ns address.Namespace, sensors ...model.Sensor) sawtooth.StateChange {
	return Set(ns.SensorAddress(sensors[0].SensorID), state.EncodeSensors(sensors...))
}

// Set returns a SET state change.
func Set(addr string, value []byte) sawtooth.StateChange {
	return sawtooth.StateChange{Address: addr, Value: value, Type: sawtooth.ChangeSet}
}
