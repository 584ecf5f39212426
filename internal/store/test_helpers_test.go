package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/watergrant/internal/fork"
	"github.com/roach88/watergrant/internal/model"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// apply applies a block and fails the test on error.
func apply(t *testing.T, s *Store, num int64, id string, records ...model.Record) fork.Disposition {
	t.Helper()
	d, err := s.ApplyBlock(context.Background(), model.Block{Num: num, ID: id}, records)
	require.NoError(t, err)
	return d
}

// dump reads the snapshot and checks the interval invariants.
func dump(t *testing.T, s *Store) Snapshot {
	t.Helper()
	snap, err := s.Dump(context.Background())
	require.NoError(t, err)
	require.NoError(t, snap.CheckIntervals())
	return snap
}

func testUser(key string, quota float64) model.User {
	return model.User{
		PublicKey:         key,
		Name:              "user " + key,
		CreatedAt:         1546300800,
		Quota:             quota,
		CreatedByAdminKey: "admin-1",
	}
}

func testSensor(id string, measurements ...float64) model.Sensor {
	s := model.Sensor{
		SensorID:  id,
		CreatedAt: 100,
		Owners:    []model.Owner{{UserPublicKey: "U1", Timestamp: 100}},
		Locations: []model.Location{{Latitude: -15793889, Longitude: -47882778, Timestamp: 100}},
	}
	for i, v := range measurements {
		s.Measurements = append(s.Measurements, model.Measurement{Value: v, Timestamp: uint64(100 + i)})
	}
	return s
}
