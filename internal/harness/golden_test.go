package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/watergrant/internal/store"
)

func TestRunWithGolden_UserQuotaFork(t *testing.T) {
	result, err := RunWithGolden(t, loadTestdata(t, "user_quota_fork"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunWithGolden_SensorHistory(t *testing.T) {
	result, err := RunWithGolden(t, loadTestdata(t, "sensor_history"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestAssertGolden_ReusesResult(t *testing.T) {
	result, err := Run(loadTestdata(t, "user_quota_fork"))
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, "user_quota_fork", result))
}

func TestMarshalSnapshot_NormalizesToNFC(t *testing.T) {
	decomposed := norm.NFD.String("Agência")
	require.NotEqual(t, "Agência", decomposed)

	data, err := MarshalSnapshot(Snapshot{
		ScenarioName: decomposed,
		Trace:        []TraceEvent{},
		State:        store.Snapshot{},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name": "Agência"`)
	assert.Equal(t, byte('\n'), data[len(data)-1])
}
