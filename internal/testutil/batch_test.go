package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/event"
	"github.com/roach88/watergrant/internal/model"
)

func TestBatch_ParsesBack(t *testing.T) {
	ns := address.Default()
	events := Batch(9, "B9",
		UserChange(ns, model.User{PublicKey: "U1", Quota: 100}),
		SensorChange(ns, model.Sensor{SensorID: "S1"}),
	)

	parsed, err := event.NewParser(ns).Parse(events)
	require.NoError(t, err)
	require.NotNil(t, parsed.Block)
	assert.Equal(t, model.Block{Num: 9, ID: "B9"}, *parsed.Block)
	require.Len(t, parsed.Changes, 2)
	assert.Equal(t, ns.UserAddress("U1"), parsed.Changes[0].Address)
	assert.Equal(t, address.KindSensor, ns.Classify(parsed.Changes[1].Address))
}

func TestBatch_WithoutChangesHasNoDelta(t *testing.T) {
	events := Batch(1, "B1")
	require.Len(t, events, 1)

	parsed, err := event.NewParser(address.Default()).Parse(events)
	require.NoError(t, err)
	assert.Empty(t, parsed.Changes)
}
