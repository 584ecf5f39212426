package state

import (
	"fmt"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/model"
)

// DecodeFunc turns a container payload into records.
type DecodeFunc func(value []byte) ([]model.Record, error)

// Decoder classifies addresses and dispatches their payloads to the
// decode function registered for the kind.
type Decoder struct {
	ns    address.Namespace
	funcs map[address.Kind]DecodeFunc
}

// NewDecoder returns a decoder for the namespace with the admin, user and
// sensor containers registered.
func NewDecoder(ns address.Namespace) *Decoder {
	d := &Decoder{
		ns:    ns,
		funcs: make(map[address.Kind]DecodeFunc),
	}
	d.Register(address.KindAdmin, decodeAdminRecords)
	d.Register(address.KindUser, decodeUserRecords)
	d.Register(address.KindSensor, decodeSensorRecords)
	return d
}

// Register installs or replaces the decode function for a kind.
func (d *Decoder) Register(kind address.Kind, fn DecodeFunc) {
	d.funcs[kind] = fn
}

// Namespace returns the namespace the decoder classifies against.
func (d *Decoder) Namespace() address.Namespace {
	return d.ns
}

// Decode returns the records stored at addr. Foreign addresses return
// ErrForeignAddress; malformed payloads return a *DecodeError.
func (d *Decoder) Decode(addr string, value []byte) ([]model.Record, error) {
	kind := d.ns.Classify(addr)
	fn, ok := d.funcs[kind]
	if !ok {
		return nil, ErrForeignAddress
	}
	records, err := fn(value)
	if err != nil {
		return nil, &DecodeError{Address: addr, Kind: kind, Err: err}
	}
	for i, r := range records {
		if r.Key() == "" {
			return nil, &DecodeError{Address: addr, Kind: kind, Err: fmt.Errorf("entry %d has no key", i)}
		}
	}
	return records, nil
}

func decodeAdminRecords(value []byte) ([]model.Record, error) {
	admins, err := DecodeAdmins(value)
	if err != nil {
		return nil, err
	}
	records := make([]model.Record, len(admins))
	for i, a := range admins {
		records[i] = a
	}
	return records, nil
}

func decodeUserRecords(value []byte) ([]model.Record, error) {
	users, err := DecodeUsers(value)
	if err != nil {
		return nil, err
	}
	records := make([]model.Record, len(users))
	for i, u := range users {
		records[i] = u
	}
	return records, nil
}

func decodeSensorRecords(value []byte) ([]model.Record, error) {
	sensors, err := DecodeSensors(value)
	if err != nil {
		return nil, err
	}
	records := make([]model.Record, len(sensors))
	for i, s := range sensors {
		records[i] = s
	}
	return records, nil
}
