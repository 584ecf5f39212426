package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watergrant/internal/model"
)

func seedHistory(t *testing.T, s *Store) {
	t.Helper()
	apply(t, s, 1, "B1", model.Admin{PublicKey: "A1", Name: "root", CreatedAt: 1})
	apply(t, s, 2, "B2", testUser("U2", 5), testUser("U1", 10))
	apply(t, s, 3, "B3", testSensor("S1", 1))
	apply(t, s, 4, "B4", testUser("U1", 20))
}

func TestUser_AsOfHeight(t *testing.T) {
	s := createTestStore(t)
	seedHistory(t, s)
	ctx := context.Background()

	tests := []struct {
		height  int64
		quota   float64
		wantErr bool
	}{
		{height: 1, wantErr: true},
		{height: 2, quota: 10},
		{height: 3, quota: 10},
		{height: 4, quota: 20},
		{height: 100, quota: 20},
	}
	for _, tt := range tests {
		u, err := s.User(ctx, "U1", tt.height)
		if tt.wantErr {
			assert.ErrorIs(t, err, sql.ErrNoRows, "height %d", tt.height)
			continue
		}
		require.NoError(t, err, "height %d", tt.height)
		assert.Equal(t, tt.quota, u.Quota, "height %d", tt.height)
	}
}

func TestUsers_OrderedByKey(t *testing.T) {
	s := createTestStore(t)
	seedHistory(t, s)

	users, err := s.Users(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "U1", users[0].PublicKey)
	assert.Equal(t, "U2", users[1].PublicKey)
}

func TestAdmins_AsOfHeight(t *testing.T) {
	s := createTestStore(t)
	seedHistory(t, s)
	ctx := context.Background()

	admins, err := s.Admins(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, admins)

	admins, err = s.Admins(ctx, 4)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "root", admins[0].Name)

	a, err := s.CurrentAdmin(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), a.CreatedAt)

	hist, err := s.AdminHistory(ctx, "A1")
	require.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestSensors_AsOfHeight(t *testing.T) {
	s := createTestStore(t)
	seedHistory(t, s)
	ctx := context.Background()

	sensors, err := s.Sensors(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, sensors)

	sensors, err = s.Sensors(ctx, 4)
	require.NoError(t, err)
	require.Len(t, sensors, 1)
	assert.Equal(t, "S1", sensors[0].SensorID)
	require.Len(t, sensors[0].Owners, 1)
	assert.Equal(t, "U1", sensors[0].Owners[0].UserPublicKey)
	require.Len(t, sensors[0].Locations, 1)
	assert.Equal(t, int64(-47882778), sensors[0].Locations[0].Longitude)
	require.Len(t, sensors[0].Measurements, 1)
}

func TestBlocks(t *testing.T) {
	s := createTestStore(t)
	seedHistory(t, s)
	ctx := context.Background()

	num, err := s.MaxBlockNum(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), num)

	b, err := s.Block(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "B3", b.ID)

	_, err = s.Block(ctx, 42)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	recent, err := s.RecentBlocks(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []model.Block{{Num: 4, ID: "B4"}, {Num: 3, ID: "B3"}}, recent)

	ids, err := s.LastKnownBlockIDs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"B4", "B3", "B2", "B1"}, ids)
}

func TestLastKnownBlockIDs_Empty(t *testing.T) {
	s := createTestStore(t)

	ids, err := s.LastKnownBlockIDs(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCheckIntervals_Violations(t *testing.T) {
	blocks := []model.Block{{Num: 1, ID: "B1"}, {Num: 2, ID: "B2"}}
	user := func(start, end int64) model.UserVersion {
		return model.UserVersion{
			User:     model.User{PublicKey: "U1"},
			Interval: model.Interval{Start: start, End: end},
		}
	}

	tests := []struct {
		name    string
		snap    Snapshot
		wantErr string
	}{
		{
			name: "valid history",
			snap: Snapshot{Blocks: blocks, Users: []model.UserVersion{user(1, 2), user(2, model.OpenBlock)}},
		},
		{
			name:    "two open versions",
			snap:    Snapshot{Blocks: blocks, Users: []model.UserVersion{user(1, model.OpenBlock), user(2, model.OpenBlock)}},
			wantErr: "more than one open version",
		},
		{
			name:    "overlap",
			snap:    Snapshot{Blocks: blocks, Users: []model.UserVersion{user(1, 3), user(2, model.OpenBlock)}},
			wantErr: "overlaps",
		},
		{
			name:    "empty interval",
			snap:    Snapshot{Blocks: blocks, Users: []model.UserVersion{user(2, 2)}},
			wantErr: "empty interval",
		},
		{
			name:    "orphan start block",
			snap:    Snapshot{Blocks: blocks, Users: []model.UserVersion{user(7, model.OpenBlock)}},
			wantErr: "has no block row",
		},
		{
			name: "orphan measurement",
			snap: Snapshot{Blocks: blocks, Measurements: []MeasurementRow{{
				SensorID: "S1",
				Interval: model.Interval{Start: 9, End: model.OpenBlock},
			}}},
			wantErr: "measurement",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snap.CheckIntervals()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
