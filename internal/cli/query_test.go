package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryCommand_UserAsOf(t *testing.T) {
	opts := testOptions(t, "text")
	seedDatabase(t, opts.Database)

	out, err := execute(t, NewQueryCommand(opts), "user", "U1", "--at", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "quota=10")
	assert.Contains(t, out, "[1, 2)")
	assert.Contains(t, out, "1 user(s) at block 1")
}

func TestQueryCommand_CurrentUser(t *testing.T) {
	opts := testOptions(t, "text")
	seedDatabase(t, opts.Database)

	out, err := execute(t, NewQueryCommand(opts), "user", "U1")
	require.NoError(t, err)
	assert.Contains(t, out, "quota=20")
	assert.Contains(t, out, "[2, open)")
	assert.Contains(t, out, "at block 3")
}

func TestQueryCommand_HeightAndQuotaUngrouped(t *testing.T) {
	opts := testOptions(t, "text")
	seedHighBlock(t, opts.Database)

	out, err := execute(t, NewQueryCommand(opts), "user", "U1")
	require.NoError(t, err)
	assert.Contains(t, out, "quota=1234.5")
	assert.Contains(t, out, "[1234567, open)")
	assert.Contains(t, out, "1 user(s) at block 1234567\n")
	assert.NotContains(t, out, "1,234")
}

func TestQueryCommand_ListJSON(t *testing.T) {
	opts := testOptions(t, "json")
	seedDatabase(t, opts.Database)

	out, err := execute(t, NewQueryCommand(opts), "admin")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Kind   string           `json:"kind"`
			Height int64            `json:"height"`
			Rows   []map[string]any `json:"rows"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "admin", resp.Data.Kind)
	assert.Equal(t, int64(3), resp.Data.Height)
	require.Len(t, resp.Data.Rows, 1)
	assert.Equal(t, "A1", resp.Data.Rows[0]["public_key"])
}

func TestQueryCommand_Sensor(t *testing.T) {
	opts := testOptions(t, "text")
	opts.Verbose = true
	seedDatabase(t, opts.Database)

	out, err := execute(t, NewQueryCommand(opts), "sensor", "S1")
	require.NoError(t, err)
	assert.Contains(t, out, "S1  [3, open)")
	assert.Contains(t, out, "owner U1 since 3")
	assert.Contains(t, out, "location -15793889,-47882778 at 3")
	assert.Contains(t, out, "2 measurement(s)")
	assert.Contains(t, out, "2.5 at 4")
}

func TestQueryCommand_NotFound(t *testing.T) {
	opts := testOptions(t, "text")
	seedDatabase(t, opts.Database)

	out, err := execute(t, NewQueryCommand(opts), "sensor", "S1", "--at", "2")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]: sensor S1 not found at block 2")
}

func TestQueryCommand_EmptyDatabase(t *testing.T) {
	opts := testOptions(t, "text")
	createDatabase(t, opts.Database)

	out, err := execute(t, NewQueryCommand(opts), "user")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "no blocks stored")
}

func TestQueryCommand_MissingDatabase(t *testing.T) {
	opts := testOptions(t, "text")

	_, err := execute(t, NewQueryCommand(opts), "user")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
	assert.NoFileExists(t, opts.Database)
}

func TestQueryCommand_EmptyList(t *testing.T) {
	opts := testOptions(t, "text")
	seedDatabase(t, opts.Database)

	out, err := execute(t, NewQueryCommand(opts), "sensor", "--at", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "0 sensor(s) at block 2")
}

func TestQueryCommand_BadKind(t *testing.T) {
	_, err := execute(t, NewQueryCommand(testOptions(t, "text")), "meter")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
