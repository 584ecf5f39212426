package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/watergrant/internal/model"
)

// ErrEmpty is returned by current-state reads before any block is stored.
var ErrEmpty = errors.New("projection is empty")

// MaxBlockNum returns the highest stored block number.
// Returns ErrEmpty if no block has been applied.
func (s *Store) MaxBlockNum(ctx context.Context) (int64, error) {
	var num int64
	err := s.view(ctx, func(q queryer) (err error) {
		num, err = currentHeight(ctx, q)
		return err
	})
	return num, err
}

// Block returns the stored block at num.
// Returns sql.ErrNoRows if not found.
func (s *Store) Block(ctx context.Context, num int64) (model.Block, error) {
	var b *model.Block
	err := s.view(ctx, func(q queryer) (err error) {
		b, err = blockAt(ctx, q, num)
		return err
	})
	if err != nil {
		return model.Block{}, fmt.Errorf("read block %d: %w", num, err)
	}
	if b == nil {
		return model.Block{}, fmt.Errorf("read block %d: %w", num, sql.ErrNoRows)
	}
	return *b, nil
}

// RecentBlocks returns up to limit blocks, highest first.
func (s *Store) RecentBlocks(ctx context.Context, limit int) ([]model.Block, error) {
	var blocks []model.Block
	err := s.view(ctx, func(q queryer) error {
		rows, err := q.QueryContext(ctx, `
			SELECT block_num, block_id FROM blocks
			ORDER BY block_num DESC
			LIMIT ?
		`, limit)
		if err != nil {
			return fmt.Errorf("query blocks: %w", err)
		}
		blocks, err = collect(rows, scanBlock)
		return err
	})
	return blocks, err
}

// LastKnownBlockIDs returns the ids of the count most recent blocks,
// highest first. The subscriber sends them so the validator can resume
// the stream, or report a fork, from the projection's tip.
func (s *Store) LastKnownBlockIDs(ctx context.Context, count int) ([]string, error) {
	blocks, err := s.RecentBlocks(ctx, count)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.ID
	}
	return ids, nil
}

// currentHeight resolves the height used by current-state reads.
func currentHeight(ctx context.Context, q queryer) (int64, error) {
	num, err := maxBlockNum(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("read max block: %w", err)
	}
	if num < 0 {
		return 0, ErrEmpty
	}
	return num, nil
}

// Admin returns the admin version valid at height.
// Returns sql.ErrNoRows if not found.
func (s *Store) Admin(ctx context.Context, publicKey string, height int64) (model.AdminVersion, error) {
	var a model.AdminVersion
	err := s.view(ctx, func(q queryer) (err error) {
		a, err = adminAt(ctx, q, publicKey, height)
		return err
	})
	return a, err
}

// CurrentAdmin returns the admin as of the latest block.
func (s *Store) CurrentAdmin(ctx context.Context, publicKey string) (model.AdminVersion, error) {
	var a model.AdminVersion
	err := s.view(ctx, func(q queryer) error {
		h, err := currentHeight(ctx, q)
		if err != nil {
			return err
		}
		a, err = adminAt(ctx, q, publicKey, h)
		return err
	})
	return a, err
}

func adminAt(ctx context.Context, q queryer, publicKey string, height int64) (model.AdminVersion, error) {
	row := q.QueryRowContext(ctx, `
		SELECT public_key, name, created_at, start_block, end_block
		FROM admins
		WHERE public_key = ? AND start_block <= ? AND end_block > ?
	`, publicKey, height, height)

	a, err := scanAdmin(row)
	if err != nil {
		return model.AdminVersion{}, fmt.Errorf("read admin %s: %w", publicKey, err)
	}
	return a, nil
}

// Admins returns every admin valid at height, ordered by public key.
func (s *Store) Admins(ctx context.Context, height int64) ([]model.AdminVersion, error) {
	return viewAll(ctx, s, scanAdmin, "query admins", `
		SELECT public_key, name, created_at, start_block, end_block
		FROM admins
		WHERE start_block <= ? AND end_block > ?
		ORDER BY public_key COLLATE BINARY ASC
	`, height, height)
}

// AdminHistory returns every stored version of an admin, oldest first.
func (s *Store) AdminHistory(ctx context.Context, publicKey string) ([]model.AdminVersion, error) {
	return viewAll(ctx, s, scanAdmin, "query admin history", `
		SELECT public_key, name, created_at, start_block, end_block
		FROM admins
		WHERE public_key = ?
		ORDER BY start_block ASC
	`, publicKey)
}

// User returns the user version valid at height.
// Returns sql.ErrNoRows if not found.
func (s *Store) User(ctx context.Context, publicKey string, height int64) (model.UserVersion, error) {
	var u model.UserVersion
	err := s.view(ctx, func(q queryer) (err error) {
		u, err = userAt(ctx, q, publicKey, height)
		return err
	})
	return u, err
}

// CurrentUser returns the user as of the latest block.
func (s *Store) CurrentUser(ctx context.Context, publicKey string) (model.UserVersion, error) {
	var u model.UserVersion
	err := s.view(ctx, func(q queryer) error {
		h, err := currentHeight(ctx, q)
		if err != nil {
			return err
		}
		u, err = userAt(ctx, q, publicKey, h)
		return err
	})
	return u, err
}

func userAt(ctx context.Context, q queryer, publicKey string, height int64) (model.UserVersion, error) {
	row := q.QueryRowContext(ctx, `
		SELECT public_key, name, created_at, quota, created_by_admin_key,
		       updated_by_admin_key, updated_at, start_block, end_block
		FROM users
		WHERE public_key = ? AND start_block <= ? AND end_block > ?
	`, publicKey, height, height)

	u, err := scanUser(row)
	if err != nil {
		return model.UserVersion{}, fmt.Errorf("read user %s: %w", publicKey, err)
	}
	return u, nil
}

// Users returns every user valid at height, ordered by public key.
func (s *Store) Users(ctx context.Context, height int64) ([]model.UserVersion, error) {
	return viewAll(ctx, s, scanUser, "query users", `
		SELECT public_key, name, created_at, quota, created_by_admin_key,
		       updated_by_admin_key, updated_at, start_block, end_block
		FROM users
		WHERE start_block <= ? AND end_block > ?
		ORDER BY public_key COLLATE BINARY ASC
	`, height, height)
}

// UserHistory returns every stored version of a user, oldest first.
func (s *Store) UserHistory(ctx context.Context, publicKey string) ([]model.UserVersion, error) {
	return viewAll(ctx, s, scanUser, "query user history", `
		SELECT public_key, name, created_at, quota, created_by_admin_key,
		       updated_by_admin_key, updated_at, start_block, end_block
		FROM users
		WHERE public_key = ?
		ORDER BY start_block ASC
	`, publicKey)
}

// Sensor returns the sensor version valid at height with the child rows
// valid at that height.
// Returns sql.ErrNoRows if not found.
func (s *Store) Sensor(ctx context.Context, sensorID string, height int64) (model.SensorVersion, error) {
	var sv model.SensorVersion
	err := s.view(ctx, func(q queryer) (err error) {
		sv, err = sensorAt(ctx, q, sensorID, height)
		return err
	})
	return sv, err
}

// CurrentSensor returns the sensor as of the latest block.
func (s *Store) CurrentSensor(ctx context.Context, sensorID string) (model.SensorVersion, error) {
	var sv model.SensorVersion
	err := s.view(ctx, func(q queryer) error {
		h, err := currentHeight(ctx, q)
		if err != nil {
			return err
		}
		sv, err = sensorAt(ctx, q, sensorID, h)
		return err
	})
	return sv, err
}

func sensorAt(ctx context.Context, q queryer, sensorID string, height int64) (model.SensorVersion, error) {
	row := q.QueryRowContext(ctx, `
		SELECT sensor_id, created_at, start_block, end_block
		FROM sensors
		WHERE sensor_id = ? AND start_block <= ? AND end_block > ?
	`, sensorID, height, height)

	sv, err := scanSensor(row)
	if err != nil {
		return model.SensorVersion{}, fmt.Errorf("read sensor %s: %w", sensorID, err)
	}
	if err := fillSensorChildren(ctx, q, &sv, height); err != nil {
		return model.SensorVersion{}, err
	}
	return sv, nil
}

// Sensors returns every sensor valid at height with its child rows,
// ordered by sensor id.
func (s *Store) Sensors(ctx context.Context, height int64) ([]model.SensorVersion, error) {
	var sensors []model.SensorVersion
	err := s.view(ctx, func(q queryer) error {
		rows, err := q.QueryContext(ctx, `
			SELECT sensor_id, created_at, start_block, end_block
			FROM sensors
			WHERE start_block <= ? AND end_block > ?
			ORDER BY sensor_id COLLATE BINARY ASC
		`, height, height)
		if err != nil {
			return fmt.Errorf("query sensors: %w", err)
		}
		if sensors, err = collect(rows, scanSensor); err != nil {
			return err
		}
		for i := range sensors {
			if err := fillSensorChildren(ctx, q, &sensors[i], height); err != nil {
				return err
			}
		}
		return nil
	})
	return sensors, err
}

func fillSensorChildren(ctx context.Context, q queryer, sv *model.SensorVersion, height int64) error {
	locRows, err := q.QueryContext(ctx, `
		SELECT latitude, longitude, timestamp, start_block, end_block
		FROM sensor_locations
		WHERE sensor_id = ? AND start_block <= ? AND end_block > ?
		ORDER BY id ASC
	`, sv.SensorID, height, height)
	if err != nil {
		return fmt.Errorf("query sensor locations: %w", err)
	}
	if sv.Locations, err = collect(locRows, scanLocation); err != nil {
		return err
	}

	ownerRows, err := q.QueryContext(ctx, `
		SELECT user_public_key, timestamp, start_block, end_block
		FROM sensor_owners
		WHERE sensor_id = ? AND start_block <= ? AND end_block > ?
		ORDER BY id ASC
	`, sv.SensorID, height, height)
	if err != nil {
		return fmt.Errorf("query sensor owners: %w", err)
	}
	if sv.Owners, err = collect(ownerRows, scanOwner); err != nil {
		return err
	}

	measRows, err := q.QueryContext(ctx, `
		SELECT value, timestamp, start_block, end_block
		FROM measurements
		WHERE sensor_id = ? AND start_block <= ? AND end_block > ?
		ORDER BY id ASC
	`, sv.SensorID, height, height)
	if err != nil {
		return fmt.Errorf("query measurements: %w", err)
	}
	if sv.Measurements, err = collect(measRows, scanMeasurement); err != nil {
		return err
	}
	return nil
}

// viewAll runs one listing query in a read transaction.
func viewAll[T any](ctx context.Context, s *Store, scan func(scanner) (T, error), what, query string, args ...any) ([]T, error) {
	var out []T
	err := s.view(ctx, func(q queryer) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		out, err = collect(rows, scan)
		return err
	})
	return out, err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// collect scans every row and closes rows. Returns an empty slice, not
// nil, when there are no rows.
func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func scanBlock(sc scanner) (model.Block, error) {
	var b model.Block
	err := sc.Scan(&b.Num, &b.ID)
	return b, err
}

func scanAdmin(sc scanner) (model.AdminVersion, error) {
	var a model.AdminVersion
	var createdAt int64
	if err := sc.Scan(&a.PublicKey, &a.Name, &createdAt, &a.Start, &a.End); err != nil {
		return a, err
	}
	a.CreatedAt = uint64(createdAt)
	return a, nil
}

func scanUser(sc scanner) (model.UserVersion, error) {
	var u model.UserVersion
	var createdAt, updatedAt int64
	err := sc.Scan(
		&u.PublicKey,
		&u.Name,
		&createdAt,
		&u.Quota,
		&u.CreatedByAdminKey,
		&u.UpdatedByAdminKey,
		&updatedAt,
		&u.Start,
		&u.End,
	)
	if err != nil {
		return u, err
	}
	u.CreatedAt = uint64(createdAt)
	u.UpdatedAt = uint64(updatedAt)
	return u, nil
}

func scanSensor(sc scanner) (model.SensorVersion, error) {
	var sv model.SensorVersion
	var createdAt int64
	if err := sc.Scan(&sv.SensorID, &createdAt, &sv.Start, &sv.End); err != nil {
		return sv, err
	}
	sv.CreatedAt = uint64(createdAt)
	return sv, nil
}

func scanLocation(sc scanner) (model.LocationVersion, error) {
	var l model.LocationVersion
	var ts int64
	if err := sc.Scan(&l.Latitude, &l.Longitude, &ts, &l.Start, &l.End); err != nil {
		return l, fmt.Errorf("scan location: %w", err)
	}
	l.Timestamp = uint64(ts)
	return l, nil
}

func scanOwner(sc scanner) (model.OwnerVersion, error) {
	var o model.OwnerVersion
	var ts int64
	if err := sc.Scan(&o.UserPublicKey, &ts, &o.Start, &o.End); err != nil {
		return o, fmt.Errorf("scan owner: %w", err)
	}
	o.Timestamp = uint64(ts)
	return o, nil
}

func scanMeasurement(sc scanner) (model.MeasurementVersion, error) {
	var m model.MeasurementVersion
	var ts int64
	if err := sc.Scan(&m.Value, &ts, &m.Start, &m.End); err != nil {
		return m, fmt.Errorf("scan measurement: %w", err)
	}
	m.Timestamp = uint64(ts)
	return m, nil
}
