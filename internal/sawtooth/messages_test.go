package sawtooth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageTypeValues(t *testing.T) {
	// Values the validator's client endpoint routes on.
	assert.Equal(t, MessageType(500), MessageClientEventsSubscribeRequest)
	assert.Equal(t, MessageType(504), MessageClientEvents)
	assert.Equal(t, MessageType(1000), MessagePingRequest)
	assert.Equal(t, MessageType(1001), MessagePingResponse)
	assert.Equal(t, "CLIENT_EVENTS", MessageClientEvents.String())
	assert.Equal(t, "PING_REQUEST", MessagePingRequest.String())
}

func TestMessageEnvelope(t *testing.T) {
	in := Message{
		Type:          MessageClientEvents,
		CorrelationID: "c0ffee",
		Content:       []byte{1, 2, 3},
	}

	b, err := MarshalMessage(in)
	require.NoError(t, err)
	out, err := UnmarshalMessage(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSubscribeRequest(t *testing.T) {
	in := SubscribeRequest{
		Subscriptions: []EventSubscription{
			{EventType: EventBlockCommit},
			{
				EventType: EventStateDelta,
				Filters: []EventFilter{
					{Key: "address", MatchString: "^fdb1b8.*", Type: FilterRegexAny},
				},
			},
		},
		LastKnownBlockIDs: []string{"b2", "b1"},
	}

	b, err := MarshalSubscribeRequest(in)
	require.NoError(t, err)
	out, err := UnmarshalSubscribeRequest(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, FilterType(3), out.Subscriptions[1].Filters[0].Type)
}

func TestEventListWithStateDelta(t *testing.T) {
	changes := []StateChange{
		{Address: "fdb1b801aa", Value: []byte("v1"), Type: ChangeSet},
		{Address: "fdb1b802bb", Type: ChangeDelete},
	}
	delta, err := MarshalStateChangeList(changes)
	require.NoError(t, err)
	events := []Event{
		{
			Type: EventBlockCommit,
			Attributes: []Attribute{
				{Key: "block_id", Value: "B9"},
				{Key: "block_num", Value: "9"},
			},
		},
		{Type: EventStateDelta, Data: delta},
	}

	b, err := MarshalEventList(events)
	require.NoError(t, err)
	decoded, err := UnmarshalEventList(b)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	num, ok := decoded[0].Attr("block_num")
	assert.True(t, ok)
	assert.Equal(t, "9", num)
	_, ok = decoded[0].Attr("missing")
	assert.False(t, ok)

	gotChanges, err := UnmarshalStateChangeList(decoded[1].Data)
	require.NoError(t, err)
	require.Len(t, gotChanges, 2)
	assert.Equal(t, changes[0], gotChanges[0])
	assert.Equal(t, "fdb1b802bb", gotChanges[1].Address)
	assert.Empty(t, gotChanges[1].Value)
	assert.Equal(t, ChangeDelete, gotChanges[1].Type)
}

func TestSubscribeResponseStatus(t *testing.T) {
	b, err := MarshalSubscribeResponse(SubscribeResponse{
		Status:          StatusUnknownBlock,
		ResponseMessage: "unknown block",
	})
	require.NoError(t, err)
	resp, err := UnmarshalSubscribeResponse(b)
	require.NoError(t, err)
	assert.Equal(t, StatusUnknownBlock, resp.Status)
	assert.Equal(t, "UNKNOWN_BLOCK", resp.Status.String())
	assert.Equal(t, "unknown block", resp.ResponseMessage)
}

func TestUnsubscribeResponseStatus(t *testing.T) {
	b, err := MarshalUnsubscribeResponse(UnsubscribeInternalError)
	require.NoError(t, err)
	status, err := UnmarshalUnsubscribeResponse(b)
	require.NoError(t, err)
	assert.Equal(t, UnsubscribeInternalError, status)
	assert.Equal(t, "INTERNAL_ERROR", status.String())
}

func TestUnmarshalEventList_Malformed(t *testing.T) {
	_, err := UnmarshalEventList([]byte{0x0a, 0x10, 0x00})
	assert.Error(t, err)
}
