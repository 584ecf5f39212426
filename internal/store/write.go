package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/fork"
	"github.com/roach88/watergrant/internal/model"
)

// applyFunc versions one decoded record into the store at height.
type applyFunc func(ctx context.Context, tx *sql.Tx, height int64, r model.Record) error

func defaultAppliers() map[address.Kind]applyFunc {
	return map[address.Kind]applyFunc{
		address.KindAdmin:  applyAdmin,
		address.KindUser:   applyUser,
		address.KindSensor: applySensor,
	}
}

// ApplyBlock applies one block and its decoded records in a single
// transaction and reports how the block was resolved.
//
//   - fork.Duplicate: the block is already stored; nothing is written.
//   - fork.Fork: rows from block.Num upwards are rolled back first, then
//     the block is applied as new.
//   - fork.New: the block row is inserted and every record is versioned.
//
// On error the transaction is rolled back and a *StorageError is returned.
func (s *Store) ApplyBlock(ctx context.Context, block model.Block, records []model.Record) (fork.Disposition, error) {
	fail := func(op string, err error) (fork.Disposition, error) {
		return 0, &StorageError{Op: op, BlockNum: block.Num, Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fail("begin tx", err)
	}
	defer tx.Rollback() // No-op if committed

	existing, err := blockAt(ctx, tx, block.Num)
	if err != nil {
		return fail("read block", err)
	}
	tip, err := maxBlockNum(ctx, tx)
	if err != nil {
		return fail("read tip", err)
	}

	disposition := fork.ResolveAt(existing, tip, block)
	switch disposition {
	case fork.Duplicate:
		return disposition, nil
	case fork.Fork:
		if err := fork.Drop(&txRollback{ctx: ctx, tx: tx}, block.Num); err != nil {
			return fail("rollback", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO blocks (block_num, block_id) VALUES (?, ?)`,
		block.Num, block.ID,
	); err != nil {
		return fail("insert block", err)
	}

	for _, r := range records {
		apply, ok := s.appliers[r.Kind()]
		if !ok {
			return fail("apply record", fmt.Errorf("no applier for %s record %q", r.Kind(), r.Key()))
		}
		if err := apply(ctx, tx, block.Num, r); err != nil {
			return fail("apply record", fmt.Errorf("%s %q: %w", r.Kind(), r.Key(), err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	return disposition, nil
}

// blockAt returns the stored block at num, or nil.
func blockAt(ctx context.Context, q queryer, num int64) (*model.Block, error) {
	var b model.Block
	err := q.QueryRowContext(ctx,
		`SELECT block_num, block_id FROM blocks WHERE block_num = ?`, num,
	).Scan(&b.Num, &b.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// maxBlockNum returns the highest stored block number, or -1 when empty.
func maxBlockNum(ctx context.Context, q queryer) (int64, error) {
	var num sql.NullInt64
	if err := q.QueryRowContext(ctx, `SELECT MAX(block_num) FROM blocks`).Scan(&num); err != nil {
		return 0, err
	}
	if !num.Valid {
		return -1, nil
	}
	return num.Int64, nil
}

// Rollback statements, one per versioned table.
var (
	deleteFromStmts = []string{
		`DELETE FROM admins WHERE start_block >= ?`,
		`DELETE FROM users WHERE start_block >= ?`,
		`DELETE FROM sensors WHERE start_block >= ?`,
		`DELETE FROM sensor_locations WHERE start_block >= ?`,
		`DELETE FROM sensor_owners WHERE start_block >= ?`,
		`DELETE FROM measurements WHERE start_block >= ?`,
	}
	reopenFromStmts = []string{
		`UPDATE admins SET end_block = ? WHERE end_block >= ? AND end_block <> ?`,
		`UPDATE users SET end_block = ? WHERE end_block >= ? AND end_block <> ?`,
		`UPDATE sensors SET end_block = ? WHERE end_block >= ? AND end_block <> ?`,
		`UPDATE sensor_locations SET end_block = ? WHERE end_block >= ? AND end_block <> ?`,
		`UPDATE sensor_owners SET end_block = ? WHERE end_block >= ? AND end_block <> ?`,
		`UPDATE measurements SET end_block = ? WHERE end_block >= ? AND end_block <> ?`,
	}
)

// txRollback runs fork rollback steps inside the block transaction.
type txRollback struct {
	ctx context.Context
	tx  *sql.Tx
}

func (r *txRollback) DeleteFrom(height int64) error {
	for _, stmt := range deleteFromStmts {
		if _, err := r.tx.ExecContext(r.ctx, stmt, height); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRollback) ReopenFrom(height int64) error {
	for _, stmt := range reopenFromStmts {
		if _, err := r.tx.ExecContext(r.ctx, stmt, model.OpenBlock, height, model.OpenBlock); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRollback) DeleteBlocksFrom(height int64) error {
	_, err := r.tx.ExecContext(r.ctx, `DELETE FROM blocks WHERE block_num >= ?`, height)
	return err
}

// versionStatements close the open version of one key before a new
// version is inserted. A version opened at the same height is deleted
// instead of closed, so a key changed twice in one block keeps one row
// for that block and no empty interval is ever stored.
type versionStatements struct {
	dropSameHeight string
	closeOpen      string
}

func (v versionStatements) close(ctx context.Context, tx *sql.Tx, key string, height int64) error {
	if _, err := tx.ExecContext(ctx, v.dropSameHeight, key, height, model.OpenBlock); err != nil {
		return fmt.Errorf("drop same-height version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, v.closeOpen, height, key, model.OpenBlock); err != nil {
		return fmt.Errorf("close open version: %w", err)
	}
	return nil
}

var (
	adminVersions = versionStatements{
		dropSameHeight: `DELETE FROM admins WHERE public_key = ? AND start_block = ? AND end_block = ?`,
		closeOpen:      `UPDATE admins SET end_block = ? WHERE public_key = ? AND end_block = ?`,
	}
	userVersions = versionStatements{
		dropSameHeight: `DELETE FROM users WHERE public_key = ? AND start_block = ? AND end_block = ?`,
		closeOpen:      `UPDATE users SET end_block = ? WHERE public_key = ? AND end_block = ?`,
	}
	sensorVersions = versionStatements{
		dropSameHeight: `DELETE FROM sensors WHERE sensor_id = ? AND start_block = ? AND end_block = ?`,
		closeOpen:      `UPDATE sensors SET end_block = ? WHERE sensor_id = ? AND end_block = ?`,
	}
	locationVersions = versionStatements{
		dropSameHeight: `DELETE FROM sensor_locations WHERE sensor_id = ? AND start_block = ? AND end_block = ?`,
		closeOpen:      `UPDATE sensor_locations SET end_block = ? WHERE sensor_id = ? AND end_block = ?`,
	}
	ownerVersions = versionStatements{
		dropSameHeight: `DELETE FROM sensor_owners WHERE sensor_id = ? AND start_block = ? AND end_block = ?`,
		closeOpen:      `UPDATE sensor_owners SET end_block = ? WHERE sensor_id = ? AND end_block = ?`,
	}
	measurementVersions = versionStatements{
		dropSameHeight: `DELETE FROM measurements WHERE sensor_id = ? AND start_block = ? AND end_block = ?`,
		closeOpen:      `UPDATE measurements SET end_block = ? WHERE sensor_id = ? AND end_block = ?`,
	}
)

func applyAdmin(ctx context.Context, tx *sql.Tx, height int64, r model.Record) error {
	a, ok := r.(model.Admin)
	if !ok {
		return fmt.Errorf("unexpected record type %T", r)
	}
	if err := adminVersions.close(ctx, tx, a.PublicKey, height); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO admins (public_key, name, created_at, start_block, end_block)
		VALUES (?, ?, ?, ?, ?)
	`, a.PublicKey, a.Name, int64(a.CreatedAt), height, model.OpenBlock)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	return nil
}

func applyUser(ctx context.Context, tx *sql.Tx, height int64, r model.Record) error {
	u, ok := r.(model.User)
	if !ok {
		return fmt.Errorf("unexpected record type %T", r)
	}
	if err := userVersions.close(ctx, tx, u.PublicKey, height); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users
		(public_key, name, created_at, quota, created_by_admin_key, updated_by_admin_key, updated_at, start_block, end_block)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.PublicKey,
		u.Name,
		int64(u.CreatedAt),
		u.Quota,
		u.CreatedByAdminKey,
		u.UpdatedByAdminKey,
		int64(u.UpdatedAt),
		height,
		model.OpenBlock,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func applySensor(ctx context.Context, tx *sql.Tx, height int64, r model.Record) error {
	s, ok := r.(model.Sensor)
	if !ok {
		return fmt.Errorf("unexpected record type %T", r)
	}
	if err := sensorVersions.close(ctx, tx, s.SensorID, height); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sensors (sensor_id, created_at, start_block, end_block)
		VALUES (?, ?, ?, ?)
	`, s.SensorID, int64(s.CreatedAt), height, model.OpenBlock)
	if err != nil {
		return fmt.Errorf("insert sensor: %w", err)
	}

	if err := applyLocations(ctx, tx, s.SensorID, height, s.Locations); err != nil {
		return fmt.Errorf("locations: %w", err)
	}
	if err := applyOwners(ctx, tx, s.SensorID, height, s.Owners); err != nil {
		return fmt.Errorf("owners: %w", err)
	}
	if err := applyMeasurements(ctx, tx, s.SensorID, height, s.Measurements); err != nil {
		return fmt.Errorf("measurements: %w", err)
	}
	return nil
}

// appendOnly compares a sensor's open child rows with the sequence just
// delivered. When the open rows are a prefix of it, only the tail is new.
// Otherwise the delivered sequence replaces the open rows entirely.
func appendOnly[T comparable](open, delivered []T) (fresh []T, replace bool) {
	if len(open) > len(delivered) {
		return delivered, true
	}
	for i := range open {
		if open[i] != delivered[i] {
			return delivered, true
		}
	}
	return delivered[len(open):], false
}

func applyLocations(ctx context.Context, tx *sql.Tx, sensorID string, height int64, delivered []model.Location) error {
	open, err := openLocations(ctx, tx, sensorID)
	if err != nil {
		return err
	}
	fresh, replace := appendOnly(open, delivered)
	if replace {
		if err := locationVersions.close(ctx, tx, sensorID, height); err != nil {
			return err
		}
	}
	for _, l := range fresh {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sensor_locations (sensor_id, latitude, longitude, timestamp, start_block, end_block)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sensorID, l.Latitude, l.Longitude, int64(l.Timestamp), height, model.OpenBlock)
		if err != nil {
			return fmt.Errorf("insert location: %w", err)
		}
	}
	return nil
}

func applyOwners(ctx context.Context, tx *sql.Tx, sensorID string, height int64, delivered []model.Owner) error {
	open, err := openOwners(ctx, tx, sensorID)
	if err != nil {
		return err
	}
	fresh, replace := appendOnly(open, delivered)
	if replace {
		if err := ownerVersions.close(ctx, tx, sensorID, height); err != nil {
			return err
		}
	}
	for _, o := range fresh {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sensor_owners (sensor_id, user_public_key, timestamp, start_block, end_block)
			VALUES (?, ?, ?, ?, ?)
		`, sensorID, o.UserPublicKey, int64(o.Timestamp), height, model.OpenBlock)
		if err != nil {
			return fmt.Errorf("insert owner: %w", err)
		}
	}
	return nil
}

func applyMeasurements(ctx context.Context, tx *sql.Tx, sensorID string, height int64, delivered []model.Measurement) error {
	open, err := openMeasurements(ctx, tx, sensorID)
	if err != nil {
		return err
	}
	fresh, replace := appendOnly(open, delivered)
	if replace {
		if err := measurementVersions.close(ctx, tx, sensorID, height); err != nil {
			return err
		}
	}
	for _, m := range fresh {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO measurements (sensor_id, value, timestamp, start_block, end_block)
			VALUES (?, ?, ?, ?, ?)
		`, sensorID, m.Value, int64(m.Timestamp), height, model.OpenBlock)
		if err != nil {
			return fmt.Errorf("insert measurement: %w", err)
		}
	}
	return nil
}

func openLocations(ctx context.Context, q queryer, sensorID string) ([]model.Location, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT latitude, longitude, timestamp FROM sensor_locations
		WHERE sensor_id = ? AND end_block = ?
		ORDER BY id ASC
	`, sensorID, model.OpenBlock)
	if err != nil {
		return nil, fmt.Errorf("query open locations: %w", err)
	}
	defer rows.Close()

	var out []model.Location
	for rows.Next() {
		var l model.Location
		var ts int64
		if err := rows.Scan(&l.Latitude, &l.Longitude, &ts); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		l.Timestamp = uint64(ts)
		out = append(out, l)
	}
	return out, rows.Err()
}

func openOwners(ctx context.Context, q queryer, sensorID string) ([]model.Owner, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_public_key, timestamp FROM sensor_owners
		WHERE sensor_id = ? AND end_block = ?
		ORDER BY id ASC
	`, sensorID, model.OpenBlock)
	if err != nil {
		return nil, fmt.Errorf("query open owners: %w", err)
	}
	defer rows.Close()

	var out []model.Owner
	for rows.Next() {
		var o model.Owner
		var ts int64
		if err := rows.Scan(&o.UserPublicKey, &ts); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		o.Timestamp = uint64(ts)
		out = append(out, o)
	}
	return out, rows.Err()
}

func openMeasurements(ctx context.Context, q queryer, sensorID string) ([]model.Measurement, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT value, timestamp FROM measurements
		WHERE sensor_id = ? AND end_block = ?
		ORDER BY id ASC
	`, sensorID, model.OpenBlock)
	if err != nil {
		return nil, fmt.Errorf("query open measurements: %w", err)
	}
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		var m model.Measurement
		var ts int64
		if err := rows.Scan(&m.Value, &ts); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		m.Timestamp = uint64(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}
