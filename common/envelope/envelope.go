package envelope

import (
	"github.com/goccy/go-json"

	"github.com/scusemua/notebook-bridge/common/kernel"
)

// CommandEnvelope is the wire form of a command.
type CommandEnvelope struct {
	Token       string             `json:"token,omitempty"`
	CommandType kernel.CommandType `json:"commandType"`
	Command     json.RawMessage    `json:"command"`
}

// EventEnvelope is the wire form of an event. Cause embeds the envelope of the command that caused the
// event, so that the receiver can correlate the event without a live reference to the command.
type EventEnvelope struct {
	EventType   kernel.EventType   `json:"eventType"`
	CommandType kernel.CommandType `json:"commandType,omitempty"`
	Event       json.RawMessage    `json:"event"`
	Cause       *CommandEnvelope   `json:"cause,omitempty"`
}
