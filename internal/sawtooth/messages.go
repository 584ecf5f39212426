package sawtooth

import (
	"fmt"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/client_event_pb2"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/events_pb2"
	transaction_receipt_pb2 "github.com/hyperledger/sawtooth-sdk-go/protobuf/transaction_receipt_pb2"
	"github.com/hyperledger/sawtooth-sdk-go/protobuf/validator_pb2"
)

// MessageType is the validator envelope message type.
type MessageType int32

const (
	MessageDefault                         = MessageType(validator_pb2.Message_DEFAULT)
	MessageClientEventsSubscribeRequest    = MessageType(validator_pb2.Message_CLIENT_EVENTS_SUBSCRIBE_REQUEST)
	MessageClientEventsSubscribeResponse   = MessageType(validator_pb2.Message_CLIENT_EVENTS_SUBSCRIBE_RESPONSE)
	MessageClientEventsUnsubscribeRequest  = MessageType(validator_pb2.Message_CLIENT_EVENTS_UNSUBSCRIBE_REQUEST)
	MessageClientEventsUnsubscribeResponse = MessageType(validator_pb2.Message_CLIENT_EVENTS_UNSUBSCRIBE_RESPONSE)
	MessageClientEvents                    = MessageType(validator_pb2.Message_CLIENT_EVENTS)
	MessagePingRequest                     = MessageType(validator_pb2.Message_PING_REQUEST)
	MessagePingResponse                    = MessageType(validator_pb2.Message_PING_RESPONSE)
)

func (t MessageType) String() string {
	return validator_pb2.Message_MessageType(t).String()
}

// Event types published by the validator.
const (
	EventBlockCommit = "sawtooth/block-commit"
	EventStateDelta  = "sawtooth/state-delta"
)

// NullBlockID is sent as the last known block when nothing has been seen.
const NullBlockID = "0000000000000000"

// FilterType selects how an event filter matches attribute values.
type FilterType int32

const (
	FilterUnset     = FilterType(events_pb2.EventFilter_FILTER_TYPE_UNSET)
	FilterSimpleAny = FilterType(events_pb2.EventFilter_SIMPLE_ANY)
	FilterSimpleAll = FilterType(events_pb2.EventFilter_SIMPLE_ALL)
	FilterRegexAny  = FilterType(events_pb2.EventFilter_REGEX_ANY)
	FilterRegexAll  = FilterType(events_pb2.EventFilter_REGEX_ALL)
)

// SubscribeStatus is the status of a subscribe response.
type SubscribeStatus int32

const (
	StatusUnset         = SubscribeStatus(client_event_pb2.ClientEventsSubscribeResponse_STATUS_UNSET)
	StatusOK            = SubscribeStatus(client_event_pb2.ClientEventsSubscribeResponse_OK)
	StatusInvalidFilter = SubscribeStatus(client_event_pb2.ClientEventsSubscribeResponse_INVALID_FILTER)
	StatusUnknownBlock  = SubscribeStatus(client_event_pb2.ClientEventsSubscribeResponse_UNKNOWN_BLOCK)
)

func (s SubscribeStatus) String() string {
	return client_event_pb2.ClientEventsSubscribeResponse_Status(s).String()
}

// UnsubscribeStatus is the status of an unsubscribe response.
type UnsubscribeStatus int32

const (
	UnsubscribeUnset         = UnsubscribeStatus(client_event_pb2.ClientEventsUnsubscribeResponse_STATUS_UNSET)
	UnsubscribeOK            = UnsubscribeStatus(client_event_pb2.ClientEventsUnsubscribeResponse_OK)
	UnsubscribeInternalError = UnsubscribeStatus(client_event_pb2.ClientEventsUnsubscribeResponse_INTERNAL_ERROR)
)

func (s UnsubscribeStatus) String() string {
	return client_event_pb2.ClientEventsUnsubscribeResponse_Status(s).String()
}

// ChangeType distinguishes state sets from deletes.
type ChangeType int32

const (
	ChangeUnset  = ChangeType(transaction_receipt_pb2.StateChange_TYPE_UNSET)
	ChangeSet    = ChangeType(transaction_receipt_pb2.StateChange_SET)
	ChangeDelete = ChangeType(transaction_receipt_pb2.StateChange_DELETE)
)

// Message is the validator envelope.
type Message struct {
	Type          MessageType
	CorrelationID string
	Content       []byte
}

// Attribute is a key/value pair attached to an event.
type Attribute struct {
	Key   string
	Value string
}

// Event is one validator event.
type Event struct {
	Type       string
	Attributes []Attribute
	Data       []byte
}

// Attr returns the value of the first attribute named key.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// StateChange is the post-change value of one address.
type StateChange struct {
	Address string
	Value   []byte
	Type    ChangeType
}

// EventFilter restricts a subscription by attribute.
type EventFilter struct {
	Key         string
	MatchString string
	Type        FilterType
}

// EventSubscription asks for one event type.
type EventSubscription struct {
	EventType string
	Filters   []EventFilter
}

// SubscribeRequest is a ClientEventsSubscribeRequest.
type SubscribeRequest struct {
	Subscriptions     []EventSubscription
	LastKnownBlockIDs []string
}

// SubscribeResponse is a ClientEventsSubscribeResponse.
type SubscribeResponse struct {
	Status          SubscribeStatus
	ResponseMessage string
}

// MarshalMessage encodes the envelope.
func MarshalMessage(m Message) ([]byte, error) {
	b, err := proto.Marshal(&validator_pb2.Message{
		MessageType:   validator_pb2.Message_MessageType(m.Type),
		CorrelationId: m.CorrelationID,
		Content:       m.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message %s: %w", m.Type, err)
	}
	return b, nil
}

// UnmarshalMessage decodes the envelope.
func UnmarshalMessage(b []byte) (Message, error) {
	var pb validator_pb2.Message
	if err := proto.Unmarshal(b, &pb); err != nil {
		return Message{}, fmt.Errorf("unmarshal message: %w", err)
	}
	return Message{
		Type:          MessageType(pb.MessageType),
		CorrelationID: pb.CorrelationId,
		Content:       pb.Content,
	}, nil
}

// MarshalSubscribeRequest encodes a ClientEventsSubscribeRequest.
func MarshalSubscribeRequest(r SubscribeRequest) ([]byte, error) {
	pb := &client_event_pb2.ClientEventsSubscribeRequest{
		LastKnownBlockIds: r.LastKnownBlockIDs,
	}
	for _, sub := range r.Subscriptions {
		ps := &events_pb2.EventSubscription{EventType: sub.EventType}
		for _, f := range sub.Filters {
			ps.Filters = append(ps.Filters, &events_pb2.EventFilter{
				Key:         f.Key,
				MatchString: f.MatchString,
				FilterType:  events_pb2.EventFilter_FilterType(f.Type),
			})
		}
		pb.Subscriptions = append(pb.Subscriptions, ps)
	}
	b, err := proto.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("marshal subscribe request: %w", err)
	}
	return b, nil
}

// UnmarshalSubscribeRequest decodes a ClientEventsSubscribeRequest.
func UnmarshalSubscribeRequest(b []byte) (SubscribeRequest, error) {
	var pb client_event_pb2.ClientEventsSubscribeRequest
	if err := proto.Unmarshal(b, &pb); err != nil {
		return SubscribeRequest{}, fmt.Errorf("unmarshal subscribe request: %w", err)
	}
	r := SubscribeRequest{LastKnownBlockIDs: pb.LastKnownBlockIds}
	for _, ps := range pb.Subscriptions {
		sub := EventSubscription{EventType: ps.EventType}
		for _, f := range ps.Filters {
			sub.Filters = append(sub.Filters, EventFilter{
				Key:         f.Key,
				MatchString: f.MatchString,
				Type:        FilterType(f.FilterType),
			})
		}
		r.Subscriptions = append(r.Subscriptions, sub)
	}
	return r, nil
}

// MarshalSubscribeResponse encodes a ClientEventsSubscribeResponse.
func MarshalSubscribeResponse(r SubscribeResponse) ([]byte, error) {
	b, err := proto.Marshal(&client_event_pb2.ClientEventsSubscribeResponse{
		Status:          client_event_pb2.ClientEventsSubscribeResponse_Status(r.Status),
		ResponseMessage: r.ResponseMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal subscribe response: %w", err)
	}
	return b, nil
}

// UnmarshalSubscribeResponse decodes a ClientEventsSubscribeResponse.
func UnmarshalSubscribeResponse(b []byte) (SubscribeResponse, error) {
	var pb client_event_pb2.ClientEventsSubscribeResponse
	if err := proto.Unmarshal(b, &pb); err != nil {
		return SubscribeResponse{}, fmt.Errorf("unmarshal subscribe response: %w", err)
	}
	return SubscribeResponse{
		Status:          SubscribeStatus(pb.Status),
		ResponseMessage: pb.ResponseMessage,
	}, nil
}

// MarshalUnsubscribeResponse encodes a ClientEventsUnsubscribeResponse.
func MarshalUnsubscribeResponse(s UnsubscribeStatus) ([]byte, error) {
	b, err := proto.Marshal(&client_event_pb2.ClientEventsUnsubscribeResponse{
		Status: client_event_pb2.ClientEventsUnsubscribeResponse_Status(s),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal unsubscribe response: %w", err)
	}
	return b, nil
}

// UnmarshalUnsubscribeResponse decodes a ClientEventsUnsubscribeResponse.
func UnmarshalUnsubscribeResponse(b []byte) (UnsubscribeStatus, error) {
	var pb client_event_pb2.ClientEventsUnsubscribeResponse
	if err := proto.Unmarshal(b, &pb); err != nil {
		return UnsubscribeUnset, fmt.Errorf("unmarshal unsubscribe response: %w", err)
	}
	return UnsubscribeStatus(pb.Status), nil
}

// MarshalEventList encodes an EventList.
func MarshalEventList(events []Event) ([]byte, error) {
	pb := &events_pb2.EventList{}
	for _, e := range events {
		pe := &events_pb2.Event{EventType: e.Type, Data: e.Data}
		for _, a := range e.Attributes {
			pe.Attributes = append(pe.Attributes, &events_pb2.Event_Attribute{Key: a.Key, Value: a.Value})
		}
		pb.Events = append(pb.Events, pe)
	}
	b, err := proto.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("marshal event list: %w", err)
	}
	return b, nil
}

// UnmarshalEventList decodes an EventList.
func UnmarshalEventList(b []byte) ([]Event, error) {
	var pb events_pb2.EventList
	if err := proto.Unmarshal(b, &pb); err != nil {
		return nil, fmt.Errorf("unmarshal event list: %w", err)
	}
	var events []Event
	for _, pe := range pb.Events {
		e := Event{Type: pe.EventType, Data: pe.Data}
		for _, a := range pe.Attributes {
			e.Attributes = append(e.Attributes, Attribute{Key: a.Key, Value: a.Value})
		}
		events = append(events, e)
	}
	return events, nil
}

// MarshalStateChangeList encodes a StateChangeList.
func MarshalStateChangeList(changes []StateChange) ([]byte, error) {
	pb := &transaction_receipt_pb2.StateChangeList{}
	for _, c := range changes {
		pb.StateChanges = append(pb.StateChanges, &transaction_receipt_pb2.StateChange{
			Address: c.Address,
			Value:   c.Value,
			Type:    transaction_receipt_pb2.StateChange_Type(c.Type),
		})
	}
	b, err := proto.Marshal(pb)
	if err != nil {
		return nil, fmt.Errorf("marshal state change list: %w", err)
	}
	return b, nil
}

// UnmarshalStateChangeList decodes a StateChangeList.
func UnmarshalStateChangeList(b []byte) ([]StateChange, error) {
	var pb transaction_receipt_pb2.StateChangeList
	if err := proto.Unmarshal(b, &pb); err != nil {
		return nil, fmt.Errorf("unmarshal state change list: %w", err)
	}
	var changes []StateChange
	for _, c := range pb.StateChanges {
		changes = append(changes, StateChange{
			Address: c.Address,
			Value:   c.Value,
			Type:    ChangeType(c.Type),
		})
	}
	return changes, nil
}
