package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watergrant/internal/model"
	"github.com/roach88/watergrant/internal/store"
)

// testOptions returns root options isolated from the process environment,
// pointing at a fresh database path.
func testOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	return &RootOptions{
		Format:   format,
		Database: filepath.Join(t.TempDir(), "watergrant.db"),
		Environ:  map[string]string{},
	}
}

// execute runs cmd with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// createDatabase creates an empty projection at path.
func createDatabase(t *testing.T, path string) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

// seedDatabase stores A1 and U1 (quota 10) at block 1, raises U1 to 20 at
// block 2 and adds sensor S1 at block 3.
func seedDatabase(t *testing.T, path string) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	blocks := []struct {
		num     int64
		id      string
		records []model.Record
	}{
		{1, "B1", []model.Record{
			model.Admin{PublicKey: "A1", Name: "Agency", CreatedAt: 1},
			model.User{PublicKey: "U1", Name: "Farm", Quota: 10, CreatedByAdminKey: "A1"},
		}},
		{2, "B2", []model.Record{
			model.User{PublicKey: "U1", Name: "Farm", Quota: 20, CreatedByAdminKey: "A1", UpdatedByAdminKey: "A1"},
		}},
		{3, "B3", []model.Record{
			model.Sensor{
				SensorID:     "S1",
				CreatedAt:    3,
				Owners:       []model.Owner{{UserPublicKey: "U1", Timestamp: 3}},
				Locations:    []model.Location{{Latitude: -15793889, Longitude: -47882778, Timestamp: 3}},
				Measurements: []model.Measurement{{Value: 1.5, Timestamp: 3}, {Value: 2.5, Timestamp: 4}},
			},
		}},
	}
	for _, b := range blocks {
		_, err := st.ApplyBlock(ctx, model.Block{Num: b.num, ID: b.id}, b.records)
		require.NoError(t, err)
	}
}

// seedHighBlock stores A1 and U1 with a four-digit quota at a seven-digit
// block height.
func seedHighBlock(t *testing.T, path string) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.ApplyBlock(context.Background(), model.Block{Num: 1234567, ID: "BH"}, []model.Record{
		model.Admin{PublicKey: "A1", Name: "Agency", CreatedAt: 1},
		model.User{PublicKey: "U1", Name: "Farm", Quota: 1234.5, CreatedByAdminKey: "A1"},
	})
	require.NoError(t, err)
}
