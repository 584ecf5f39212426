package model

import (
	"math"

	"github.com/roach88/watergrant/internal/address"
)

// OpenBlock is the end_block sentinel of the current version of a row.
const OpenBlock int64 = math.MaxInt64

// Block is a committed ledger block as seen by the projection.
type Block struct {
	Num int64  `json:"block_num" yaml:"block_num"`
	ID  string `json:"block_id" yaml:"block_id"`
}

// Interval is the half-open validity range [Start, End) of a stored row.
type Interval struct {
	Start int64 `json:"start_block" yaml:"start_block"`
	End   int64 `json:"end_block" yaml:"end_block"`
}

// IsOpen reports whether the row is the current version.
func (i Interval) IsOpen() bool {
	return i.End == OpenBlock
}

// Contains reports whether the row was valid at the given height.
func (i Interval) Contains(height int64) bool {
	return i.Start <= height && height < i.End
}

// Record is a decoded entity ready to be versioned into the store.
type Record interface {
	Kind() address.Kind
	Key() string
}

// Admin is a registered administrator.
type Admin struct {
	PublicKey string `json:"public_key" yaml:"public_key"`
	Name      string `json:"name" yaml:"name"`
	CreatedAt uint64 `json:"created_at" yaml:"created_at"`
}

func (Admin) Kind() address.Kind { return address.KindAdmin }
func (a Admin) Key() string      { return a.PublicKey }

// User is a water-grant holder with a quota set by an admin.
type User struct {
	PublicKey         string  `json:"public_key" yaml:"public_key"`
	Name              string  `json:"name" yaml:"name"`
	CreatedAt         uint64  `json:"created_at" yaml:"created_at"`
	Quota             float64 `json:"quota" yaml:"quota"`
	CreatedByAdminKey string  `json:"created_by_admin_key" yaml:"created_by_admin_key"`
	UpdatedByAdminKey string  `json:"updated_by_admin_key" yaml:"updated_by_admin_key"`
	UpdatedAt         uint64  `json:"updated_at" yaml:"updated_at"`
}

func (User) Kind() address.Kind { return address.KindUser }
func (u User) Key() string      { return u.PublicKey }

// Sensor is a metering device with its full observed history.
type Sensor struct {
	SensorID     string        `json:"sensor_id" yaml:"sensor_id"`
	CreatedAt    uint64        `json:"created_at" yaml:"created_at"`
	Owners       []Owner       `json:"owners" yaml:"owners"`
	Locations    []Location    `json:"locations" yaml:"locations"`
	Measurements []Measurement `json:"measurements" yaml:"measurements"`
}

func (Sensor) Kind() address.Kind { return address.KindSensor }
func (s Sensor) Key() string      { return s.SensorID }

// Location is a sensor position in integer micro-degrees.
type Location struct {
	Latitude  int64  `json:"latitude" yaml:"latitude"`
	Longitude int64  `json:"longitude" yaml:"longitude"`
	Timestamp uint64 `json:"timestamp" yaml:"timestamp"`
}

// Owner assigns a sensor to a user.
type Owner struct {
	UserPublicKey string `json:"user_public_key" yaml:"user_public_key"`
	Timestamp     uint64 `json:"timestamp" yaml:"timestamp"`
}

// Measurement is one metered value reported by a sensor.
type Measurement struct {
	Value     float64 `json:"value" yaml:"value"`
	Timestamp uint64  `json:"timestamp" yaml:"timestamp"`
}
