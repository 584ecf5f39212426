package model

// NOTE: These are store-layer rows: an entity version plus its interval.

// AdminVersion is one stored version of an admin.
type AdminVersion struct {
	Admin
	Interval
}

// UserVersion is one stored version of a user.
type UserVersion struct {
	User
	Interval
}

// SensorVersion is one stored version of a sensor. The child slices hold
// the rows valid at the queried height, not the full history.
type SensorVersion struct {
	SensorID     string               `json:"sensor_id" yaml:"sensor_id"`
	CreatedAt    uint64               `json:"created_at" yaml:"created_at"`
	Owners       []OwnerVersion       `json:"owners" yaml:"owners"`
	Locations    []LocationVersion    `json:"locations" yaml:"locations"`
	Measurements []MeasurementVersion `json:"measurements" yaml:"measurements"`
	Interval
}

// LocationVersion is a stored location row.
type LocationVersion struct {
	Location
	Interval
}

// OwnerVersion is a stored owner row.
type OwnerVersion struct {
	Owner
	Interval
}

// MeasurementVersion is a stored measurement row.
type MeasurementVersion struct {
	Measurement
	Interval
}
