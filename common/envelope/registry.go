package envelope

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/scusemua/notebook-bridge/common/kernel"
)

type commandCodec struct {
	decode func(json.RawMessage) (kernel.Command, error)
	encode func(kernel.Command) (json.RawMessage, error)
}

type eventCodec struct {
	decode func(json.RawMessage) (kernel.Event, error)
	encode func(kernel.Event) (json.RawMessage, error)
}

// Registry maps command and event tags to their codecs. The table is fixed when the Registry is
// created and is safe for concurrent use.
type Registry struct {
	commands map[kernel.CommandType]commandCodec
	events   map[kernel.EventType]eventCodec
}

// NewRegistry builds the registry of every command and event known to the kernel package.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[kernel.CommandType]commandCodec),
		events:   make(map[kernel.EventType]eventCodec),
	}

	registerCommand[kernel.SubmitCode](r, kernel.SubmitCodeType)
	registerCommand[kernel.CancelCurrentCommand](r, kernel.CancelCurrentCommandType)
	registerCommand[kernel.Quit](r, kernel.QuitType)
	registerCommand[kernel.RequestCompletion](r, kernel.RequestCompletionType)
	registerCommand[kernel.RequestDiagnostics](r, kernel.RequestDiagnosticsType)
	registerCommand[kernel.RequestSignatureHelp](r, kernel.RequestSignatureHelpType)

	registerEvent[kernel.CodeSubmissionReceived](r, kernel.CodeSubmissionReceivedType)
	registerEvent[kernel.CompleteCodeSubmissionReceived](r, kernel.CompleteCodeSubmissionReceivedType)
	registerEvent[kernel.IncompleteCodeSubmissionReceived](r, kernel.IncompleteCodeSubmissionReceivedType)
	registerEvent[kernel.CommandSucceeded](r, kernel.CommandSucceededType)
	registerEvent[kernel.CommandFailed](r, kernel.CommandFailedType)
	registerEvent[kernel.ReturnValueProduced](r, kernel.ReturnValueProducedType)
	registerEvent[kernel.DisplayedValueProduced](r, kernel.DisplayedValueProducedType)
	registerEvent[kernel.DisplayedValueUpdated](r, kernel.DisplayedValueUpdatedType)
	registerEvent[kernel.StandardOutputValueProduced](r, kernel.StandardOutputValueProducedType)
	registerEvent[kernel.StandardErrorValueProduced](r, kernel.StandardErrorValueProducedType)
	registerEvent[kernel.DiagnosticsProduced](r, kernel.DiagnosticsProducedType)
	registerEvent[kernel.CompletionsProduced](r, kernel.CompletionsProducedType)
	registerEvent[kernel.SignatureHelpProduced](r, kernel.SignatureHelpProducedType)

	return r
}

func registerCommand[T any, P interface {
	*T
	kernel.Command
}](r *Registry, tag kernel.CommandType) {
	r.commands[tag] = commandCodec{
		decode: func(raw json.RawMessage) (kernel.Command, error) {
			cmd := P(new(T))
			if err := unmarshalPayload(raw, cmd); err != nil {
				return nil, err
			}
			return cmd, nil
		},
		encode: func(cmd kernel.Command) (json.RawMessage, error) {
			typed, ok := cmd.(P)
			if !ok {
				return nil, fmt.Errorf("%w: %T for command \"%s\"", ErrTypeMismatch, cmd, tag)
			}
			return json.Marshal(typed)
		},
	}
}

func registerEvent[T any, P interface {
	*T
	kernel.Event
}](r *Registry, tag kernel.EventType) {
	r.events[tag] = eventCodec{
		decode: func(raw json.RawMessage) (kernel.Event, error) {
			e := P(new(T))
			if err := unmarshalPayload(raw, e); err != nil {
				return nil, err
			}
			return e, nil
		},
		encode: func(e kernel.Event) (json.RawMessage, error) {
			typed, ok := e.(P)
			if !ok {
				return nil, fmt.Errorf("%w: %T for event \"%s\"", ErrTypeMismatch, e, tag)
			}
			return json.Marshal(typed)
		},
	}
}

func unmarshalPayload(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return nil
}

// CommandTypes returns the registered command tags.
func (r *Registry) CommandTypes() []kernel.CommandType {
	tags := make([]kernel.CommandType, 0, len(r.commands))
	for tag := range r.commands {
		tags = append(tags, tag)
	}
	return tags
}

// EventTypes returns the registered event tags.
func (r *Registry) EventTypes() []kernel.EventType {
	tags := make([]kernel.EventType, 0, len(r.events))
	for tag := range r.events {
		tags = append(tags, tag)
	}
	return tags
}

// CreateCommand wraps a command in an envelope, assigning it a token if it has none.
func (r *Registry) CreateCommand(cmd kernel.Command) (*CommandEnvelope, error) {
	codec, ok := r.commands[cmd.CommandType()]
	if !ok {
		return nil, &UnknownTypeError{Kind: "command", Tag: string(cmd.CommandType())}
	}

	payload, err := codec.encode(cmd)
	if err != nil {
		return nil, err
	}

	return &CommandEnvelope{
		Token:       kernel.EnsureToken(cmd),
		CommandType: cmd.CommandType(),
		Command:     payload,
	}, nil
}

// CreateEvent wraps an event in an envelope whose cause is the envelope of the event's command.
func (r *Registry) CreateEvent(e kernel.Event) (*EventEnvelope, error) {
	codec, ok := r.events[e.EventType()]
	if !ok {
		return nil, &UnknownTypeError{Kind: "event", Tag: string(e.EventType())}
	}

	cmd := e.Command()
	if cmd == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingCommand, e.EventType())
	}

	payload, err := codec.encode(e)
	if err != nil {
		return nil, err
	}

	cause, err := r.CreateCommand(cmd)
	if err != nil {
		return nil, err
	}

	return &EventEnvelope{
		EventType:   e.EventType(),
		CommandType: cmd.CommandType(),
		Event:       payload,
		Cause:       cause,
	}, nil
}

// DeserializeCommand decodes a command payload by tag.
func (r *Registry) DeserializeCommand(tag kernel.CommandType, raw json.RawMessage) (kernel.Command, error) {
	codec, ok := r.commands[tag]
	if !ok {
		return nil, &UnknownTypeError{Kind: "command", Tag: string(tag)}
	}
	return codec.decode(raw)
}

// DeserializeEvent decodes an event payload by tag. The returned event has no command; see OpenEvent.
func (r *Registry) DeserializeEvent(tag kernel.EventType, raw json.RawMessage) (kernel.Event, error) {
	codec, ok := r.events[tag]
	if !ok {
		return nil, &UnknownTypeError{Kind: "event", Tag: string(tag)}
	}
	return codec.decode(raw)
}

// OpenCommand decodes a command envelope, restoring the command's token.
func (r *Registry) OpenCommand(env *CommandEnvelope) (kernel.Command, error) {
	cmd, err := r.DeserializeCommand(env.CommandType, env.Command)
	if err != nil {
		return nil, err
	}
	cmd.SetToken(env.Token)
	return cmd, nil
}

// OpenEvent decodes an event envelope. The event's command is rebuilt from the embedded cause.
func (r *Registry) OpenEvent(env *EventEnvelope) (kernel.Event, error) {
	e, err := r.DeserializeEvent(env.EventType, env.Event)
	if err != nil {
		return nil, err
	}

	if env.Cause != nil {
		cmd, err := r.OpenCommand(env.Cause)
		if err != nil {
			return nil, err
		}
		e.SetCommand(cmd)
	}
	return e, nil
}

// SerializeCommand returns the JSON encoding of the command's envelope.
func (r *Registry) SerializeCommand(cmd kernel.Command) ([]byte, error) {
	env, err := r.CreateCommand(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// SerializeEvent returns the JSON encoding of the event's envelope.
func (r *Registry) SerializeEvent(e kernel.Event) ([]byte, error) {
	env, err := r.CreateEvent(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseCommand decodes the JSON encoding of a command envelope.
func (r *Registry) ParseCommand(data []byte) (kernel.Command, error) {
	var env CommandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return r.OpenCommand(&env)
}

// ParseEvent decodes the JSON encoding of an event envelope.
func (r *Registry) ParseEvent(data []byte) (kernel.Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return r.OpenEvent(&env)
}
