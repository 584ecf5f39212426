package state

import (
	"fmt"

	"github.com/roach88/watergrant/internal/model"
	"github.com/roach88/watergrant/internal/pbwire"
)

// Container field numbers. Every container stores its entries in field 1.
const (
	fieldEntries = 1

	fieldAdminPublicKey = 1
	fieldAdminName      = 2
	fieldAdminCreatedAt = 3

	fieldUserPublicKey      = 1
	fieldUserName           = 2
	fieldUserCreatedAt      = 3
	fieldUserQuota          = 4
	fieldUserCreatedByAdmin = 5
	fieldUserUpdatedByAdmin = 6
	fieldUserUpdatedAt      = 7

	fieldSensorID           = 1
	fieldSensorCreatedAt    = 2
	fieldSensorOwners       = 3
	fieldSensorLocations    = 4
	fieldSensorMeasurements = 5

	fieldOwnerUserPublicKey = 1
	fieldOwnerTimestamp     = 2

	fieldLocationLatitude  = 1
	fieldLocationLongitude = 2
	fieldLocationTimestamp = 3

	fieldMeasurementValue     = 1
	fieldMeasurementTimestamp = 2
)

// entries splits a container into its raw entry messages.
func entries(b []byte) ([][]byte, error) {
	var out [][]byte
	err := pbwire.Fields(b, func(f pbwire.Field) error {
		if f.Num != fieldEntries {
			return nil
		}
		msg, err := f.Bytes()
		if err != nil {
			return fmt.Errorf("entries: %w", err)
		}
		out = append(out, msg)
		return nil
	})
	return out, err
}

// DecodeAdmins parses an AdminContainer.
func DecodeAdmins(b []byte) ([]model.Admin, error) {
	raw, err := entries(b)
	if err != nil {
		return nil, err
	}
	admins := make([]model.Admin, 0, len(raw))
	for i, msg := range raw {
		var a model.Admin
		err := pbwire.Fields(msg, func(f pbwire.Field) (err error) {
			switch f.Num {
			case fieldAdminPublicKey:
				a.PublicKey, err = f.String()
			case fieldAdminName:
				a.Name, err = f.String()
			case fieldAdminCreatedAt:
				a.CreatedAt, err = f.Uint64()
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("admin entry %d: %w", i, err)
		}
		admins = append(admins, a)
	}
	return admins, nil
}

// DecodeUsers parses a UserContainer.
func DecodeUsers(b []byte) ([]model.User, error) {
	raw, err := entries(b)
	if err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(raw))
	for i, msg := range raw {
		var u model.User
		err := pbwire.Fields(msg, func(f pbwire.Field) (err error) {
			switch f.Num {
			case fieldUserPublicKey:
				u.PublicKey, err = f.String()
			case fieldUserName:
				u.Name, err = f.String()
			case fieldUserCreatedAt:
				u.CreatedAt, err = f.Uint64()
			case fieldUserQuota:
				u.Quota, err = f.Double()
			case fieldUserCreatedByAdmin:
				u.CreatedByAdminKey, err = f.String()
			case fieldUserUpdatedByAdmin:
				u.UpdatedByAdminKey, err = f.String()
			case fieldUserUpdatedAt:
				u.UpdatedAt, err = f.Uint64()
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("user entry %d: %w", i, err)
		}
		users = append(users, u)
	}
	return users, nil
}

// DecodeSensors parses a SensorContainer including each sensor's nested
// owners, locations and measurements.
func DecodeSensors(b []byte) ([]model.Sensor, error) {
	raw, err := entries(b)
	if err != nil {
		return nil, err
	}
	sensors := make([]model.Sensor, 0, len(raw))
	for i, msg := range raw {
		s, err := decodeSensor(msg)
		if err != nil {
			return nil, fmt.Errorf("sensor entry %d: %w", i, err)
		}
		sensors = append(sensors, s)
	}
	return sensors, nil
}

func decodeSensor(msg []byte) (model.Sensor, error) {
	s := model.Sensor{
		Owners:       []model.Owner{},
		Locations:    []model.Location{},
		Measurements: []model.Measurement{},
	}
	err := pbwire.Fields(msg, func(f pbwire.Field) error {
		switch f.Num {
		case fieldSensorID:
			v, err := f.String()
			s.SensorID = v
			return err
		case fieldSensorCreatedAt:
			v, err := f.Uint64()
			s.CreatedAt = v
			return err
		case fieldSensorOwners:
			sub, err := f.Bytes()
			if err != nil {
				return err
			}
			o, err := decodeOwner(sub)
			if err != nil {
				return fmt.Errorf("owner: %w", err)
			}
			s.Owners = append(s.Owners, o)
		case fieldSensorLocations:
			sub, err := f.Bytes()
			if err != nil {
				return err
			}
			l, err := decodeLocation(sub)
			if err != nil {
				return fmt.Errorf("location: %w", err)
			}
			s.Locations = append(s.Locations, l)
		case fieldSensorMeasurements:
			sub, err := f.Bytes()
			if err != nil {
				return err
			}
			m, err := decodeMeasurement(sub)
			if err != nil {
				return fmt.Errorf("measurement: %w", err)
			}
			s.Measurements = append(s.Measurements, m)
		}
		return nil
	})
	return s, err
}

func decodeOwner(msg []byte) (o model.Owner, err error) {
	err = pbwire.Fields(msg, func(f pbwire.Field) (err error) {
		switch f.Num {
		case fieldOwnerUserPublicKey:
			o.UserPublicKey, err = f.String()
		case fieldOwnerTimestamp:
			o.Timestamp, err = f.Uint64()
		}
		return err
	})
	return o, err
}

func decodeLocation(msg []byte) (l model.Location, err error) {
	err = pbwire.Fields(msg, func(f pbwire.Field) (err error) {
		switch f.Num {
		case fieldLocationLatitude:
			l.Latitude, err = f.Sint64()
		case fieldLocationLongitude:
			l.Longitude, err = f.Sint64()
		case fieldLocationTimestamp:
			l.Timestamp, err = f.Uint64()
		}
		return err
	})
	return l, err
}

func decodeMeasurement(msg []byte) (m model.Measurement, err error) {
	err = pbwire.Fields(msg, func(f pbwire.Field) (err error) {
		switch f.Num {
		case fieldMeasurementValue:
			m.Value, err = f.Double()
		case fieldMeasurementTimestamp:
			m.Timestamp, err = f.Uint64()
		}
		return err
	})
	return m, err
}

// EncodeAdmins serialises admins into an AdminContainer.
func EncodeAdmins(admins ...model.Admin) []byte {
	var b []byte
	for _, a := range admins {
		var msg []byte
		msg = pbwire.AppendString(msg, fieldAdminPublicKey, a.PublicKey)
		msg = pbwire.AppendString(msg, fieldAdminName, a.Name)
		msg = pbwire.AppendUint64(msg, fieldAdminCreatedAt, a.CreatedAt)
		b = pbwire.AppendMessage(b, fieldEntries, msg)
	}
	return b
}

// EncodeUsers serialises users into a UserContainer.
func EncodeUsers(users ...model.User) []byte {
	var b []byte
	for _, u := range users {
		var msg []byte
		msg = pbwire.AppendString(msg, fieldUserPublicKey, u.PublicKey)
		msg = pbwire.AppendString(msg, fieldUserName, u.Name)
		msg = pbwire.AppendUint64(msg, fieldUserCreatedAt, u.CreatedAt)
		msg = pbwire.AppendDouble(msg, fieldUserQuota, u.Quota)
		msg = pbwire.AppendString(msg, fieldUserCreatedByAdmin, u.CreatedByAdminKey)
		msg = pbwire.AppendString(msg, fieldUserUpdatedByAdmin, u.UpdatedByAdminKey)
		msg = pbwire.AppendUint64(msg, fieldUserUpdatedAt, u.UpdatedAt)
		b = pbwire.AppendMessage(b, fieldEntries, msg)
	}
	return b
}

// EncodeSensors serialises sensors into a SensorContainer.
func EncodeSensors(sensors ...model.Sensor) []byte {
	var b []byte
	for _, s := range sensors {
		var msg []byte
		msg = pbwire.AppendString(msg, fieldSensorID, s.SensorID)
		msg = pbwire.AppendUint64(msg, fieldSensorCreatedAt, s.CreatedAt)
		for _, o := range s.Owners {
			var sub []byte
			sub = pbwire.AppendString(sub, fieldOwnerUserPublicKey, o.UserPublicKey)
			sub = pbwire.AppendUint64(sub, fieldOwnerTimestamp, o.Timestamp)
			msg = pbwire.AppendMessage(msg, fieldSensorOwners, sub)
		}
		for _, l := range s.Locations {
			var sub []byte
			sub = pbwire.AppendSint64(sub, fieldLocationLatitude, l.Latitude)
			sub = pbwire.AppendSint64(sub, fieldLocationLongitude, l.Longitude)
			sub = pbwire.AppendUint64(sub, fieldLocationTimestamp, l.Timestamp)
			msg = pbwire.AppendMessage(msg, fieldSensorLocations, sub)
		}
		for _, m := range s.Measurements {
			var sub []byte
			sub = pbwire.AppendDouble(sub, fieldMeasurementValue, m.Value)
			sub = pbwire.AppendUint64(sub, fieldMeasurementTimestamp, m.Timestamp)
			msg = pbwire.AppendMessage(msg, fieldSensorMeasurements, sub)
		}
		b = pbwire.AppendMessage(b, fieldEntries, msg)
	}
	return b
}
