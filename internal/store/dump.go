package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/watergrant/internal/model"
)

// SensorRow is one stored sensor version without its children.
type SensorRow struct {
	SensorID  string `json:"sensor_id"`
	CreatedAt uint64 `json:"created_at"`
	model.Interval
}

// LocationRow is one stored location row.
type LocationRow struct {
	SensorID string `json:"sensor_id"`
	model.Location
	model.Interval
}

// OwnerRow is one stored owner row.
type OwnerRow struct {
	SensorID string `json:"sensor_id"`
	model.Owner
	model.Interval
}

// MeasurementRow is one stored measurement row.
type MeasurementRow struct {
	SensorID string `json:"sensor_id"`
	model.Measurement
	model.Interval
}

// Snapshot is every stored row of the projection, in deterministic order:
// blocks by number, versions by key then start_block, child rows by
// sensor then insertion order.
type Snapshot struct {
	Blocks       []model.Block        `json:"blocks"`
	Admins       []model.AdminVersion `json:"admins"`
	Users        []model.UserVersion  `json:"users"`
	Sensors      []SensorRow          `json:"sensors"`
	Locations    []LocationRow        `json:"locations"`
	Owners       []OwnerRow           `json:"owners"`
	Measurements []MeasurementRow     `json:"measurements"`
}

// Dump reads the whole projection inside one read transaction.
func (s *Store) Dump(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	tx, err := s.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return snap, fmt.Errorf("dump: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT block_num, block_id FROM blocks ORDER BY block_num ASC`)
	if err != nil {
		return snap, fmt.Errorf("dump blocks: %w", err)
	}
	if snap.Blocks, err = collect(rows, scanBlock); err != nil {
		return snap, err
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT public_key, name, created_at, start_block, end_block
		FROM admins ORDER BY public_key COLLATE BINARY ASC, start_block ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("dump admins: %w", err)
	}
	if snap.Admins, err = collect(rows, scanAdmin); err != nil {
		return snap, err
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT public_key, name, created_at, quota, created_by_admin_key,
		       updated_by_admin_key, updated_at, start_block, end_block
		FROM users ORDER BY public_key COLLATE BINARY ASC, start_block ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("dump users: %w", err)
	}
	if snap.Users, err = collect(rows, scanUser); err != nil {
		return snap, err
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT sensor_id, created_at, start_block, end_block
		FROM sensors ORDER BY sensor_id COLLATE BINARY ASC, start_block ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("dump sensors: %w", err)
	}
	if snap.Sensors, err = collect(rows, func(sc scanner) (SensorRow, error) {
		sv, err := scanSensor(sc)
		return SensorRow{SensorID: sv.SensorID, CreatedAt: sv.CreatedAt, Interval: sv.Interval}, err
	}); err != nil {
		return snap, err
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT sensor_id, latitude, longitude, timestamp, start_block, end_block
		FROM sensor_locations ORDER BY sensor_id COLLATE BINARY ASC, id ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("dump locations: %w", err)
	}
	if snap.Locations, err = collect(rows, func(sc scanner) (LocationRow, error) {
		var r LocationRow
		var ts int64
		err := sc.Scan(&r.SensorID, &r.Latitude, &r.Longitude, &ts, &r.Start, &r.End)
		r.Timestamp = uint64(ts)
		return r, err
	}); err != nil {
		return snap, err
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT sensor_id, user_public_key, timestamp, start_block, end_block
		FROM sensor_owners ORDER BY sensor_id COLLATE BINARY ASC, id ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("dump owners: %w", err)
	}
	if snap.Owners, err = collect(rows, func(sc scanner) (OwnerRow, error) {
		var r OwnerRow
		var ts int64
		err := sc.Scan(&r.SensorID, &r.UserPublicKey, &ts, &r.Start, &r.End)
		r.Timestamp = uint64(ts)
		return r, err
	}); err != nil {
		return snap, err
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT sensor_id, value, timestamp, start_block, end_block
		FROM measurements ORDER BY sensor_id COLLATE BINARY ASC, id ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("dump measurements: %w", err)
	}
	if snap.Measurements, err = collect(rows, func(sc scanner) (MeasurementRow, error) {
		var r MeasurementRow
		var ts int64
		err := sc.Scan(&r.SensorID, &r.Value, &ts, &r.Start, &r.End)
		r.Timestamp = uint64(ts)
		return r, err
	}); err != nil {
		return snap, err
	}

	return snap, nil
}

// CheckIntervals verifies the versioning invariants over a snapshot: at
// most one open version per entity key, strictly increasing and
// non-overlapping intervals per key, and a block row for every
// start_block. It returns the first violation found.
func (snap Snapshot) CheckIntervals() error {
	blocks := make(map[int64]bool, len(snap.Blocks))
	for _, b := range snap.Blocks {
		blocks[b.Num] = true
	}

	type keyed struct {
		key string
		iv  model.Interval
	}
	check := func(table string, rows []keyed) error {
		last := make(map[string]model.Interval)
		for _, r := range rows {
			if !blocks[r.iv.Start] {
				return fmt.Errorf("%s %q: start_block %d has no block row", table, r.key, r.iv.Start)
			}
			if r.iv.Start >= r.iv.End {
				return fmt.Errorf("%s %q: empty interval [%d, %d)", table, r.key, r.iv.Start, r.iv.End)
			}
			prev, seen := last[r.key]
			if seen {
				if prev.IsOpen() {
					return fmt.Errorf("%s %q: more than one open version", table, r.key)
				}
				if r.iv.Start <= prev.Start || r.iv.Start < prev.End {
					return fmt.Errorf("%s %q: interval [%d, %d) overlaps or precedes [%d, %d)",
						table, r.key, r.iv.Start, r.iv.End, prev.Start, prev.End)
				}
			}
			last[r.key] = r.iv
		}
		return nil
	}

	admins := make([]keyed, len(snap.Admins))
	for i, a := range snap.Admins {
		admins[i] = keyed{a.PublicKey, a.Interval}
	}
	users := make([]keyed, len(snap.Users))
	for i, u := range snap.Users {
		users[i] = keyed{u.PublicKey, u.Interval}
	}
	sensors := make([]keyed, len(snap.Sensors))
	for i, s := range snap.Sensors {
		sensors[i] = keyed{s.SensorID, s.Interval}
	}

	if err := check("admin", admins); err != nil {
		return err
	}
	if err := check("user", users); err != nil {
		return err
	}
	if err := check("sensor", sensors); err != nil {
		return err
	}

	for _, l := range snap.Locations {
		if !blocks[l.Start] {
			return fmt.Errorf("location of %q: start_block %d has no block row", l.SensorID, l.Start)
		}
	}
	for _, o := range snap.Owners {
		if !blocks[o.Start] {
			return fmt.Errorf("owner of %q: start_block %d has no block row", o.SensorID, o.Start)
		}
	}
	for _, m := range snap.Measurements {
		if !blocks[m.Start] {
			return fmt.Errorf("measurement of %q: start_block %d has no block row", m.SensorID, m.Start)
		}
	}
	return nil
}
