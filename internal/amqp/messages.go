package amqp

import (
	"encoding/json"
	"fmt"

	"costrologer/internal/jobs"
)

// EventMessage is the envelope carried on the queue:
//
//	{"name": "transaction.recurring.process", "data": {"transactionId": "...", "userId": "..."}}
type EventMessage struct {
	Name string               `json:"name"`
	Data jobs.ProcessingEvent `json:"data"`
}

// NewEventMessage wraps a processing event in its envelope.
func NewEventMessage(event jobs.ProcessingEvent) *EventMessage {
	return &EventMessage{
		Name: jobs.RecurringProcessEvent,
		Data: event,
	}
}

// ToJSON converts the message to JSON bytes
func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EventMessageFromJSON decodes an envelope and rejects unknown event names.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Name != jobs.RecurringProcessEvent {
		return nil, fmt.Errorf("unexpected event name %q", msg.Name)
	}
	return &msg, nil
}
