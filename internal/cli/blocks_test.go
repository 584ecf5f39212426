package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watergrant/internal/model"
)

func TestBlocksCommand_Text(t *testing.T) {
	opts := testOptions(t, "text")
	seedDatabase(t, opts.Database)

	out, err := execute(t, NewBlocksCommand(opts), "--limit", "2")
	require.NoError(t, err)
	assert.Equal(t, "         3  B3\n         2  B2\n", out)
}

func TestBlocksCommand_HeightUngrouped(t *testing.T) {
	opts := testOptions(t, "text")
	seedHighBlock(t, opts.Database)

	out, err := execute(t, NewBlocksCommand(opts))
	require.NoError(t, err)
	assert.Equal(t, "   1234567  BH\n", out)
}

func TestBlocksCommand_JSON(t *testing.T) {
	opts := testOptions(t, "json")
	seedDatabase(t, opts.Database)

	out, err := execute(t, NewBlocksCommand(opts))
	require.NoError(t, err)

	var resp struct {
		Data BlocksResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, []model.Block{{Num: 3, ID: "B3"}, {Num: 2, ID: "B2"}, {Num: 1, ID: "B1"}}, resp.Data.Blocks)
}

func TestBlocksCommand_Empty(t *testing.T) {
	opts := testOptions(t, "text")
	createDatabase(t, opts.Database)

	out, err := execute(t, NewBlocksCommand(opts))
	require.NoError(t, err)
	assert.Equal(t, "No blocks stored.\n", out)
}

func TestBlocksCommand_MissingDatabase(t *testing.T) {
	opts := testOptions(t, "json")

	out, err := execute(t, NewBlocksCommand(opts))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
	assert.NoFileExists(t, opts.Database)
}

func TestBlocksCommand_BadLimit(t *testing.T) {
	_, err := execute(t, NewBlocksCommand(testOptions(t, "text")), "--limit", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "limit must be positive")
}
