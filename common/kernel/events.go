package kernel

// EventType is the discriminator of an event.
type EventType string

const (
	CodeSubmissionReceivedType           EventType = "CodeSubmissionReceived"
	CompleteCodeSubmissionReceivedType   EventType = "CompleteCodeSubmissionReceived"
	IncompleteCodeSubmissionReceivedType EventType = "IncompleteCodeSubmissionReceived"
	CommandSucceededType                 EventType = "CommandSucceeded"
	CommandFailedType                    EventType = "CommandFailed"
	ReturnValueProducedType              EventType = "ReturnValueProduced"
	DisplayedValueProducedType           EventType = "DisplayedValueProduced"
	DisplayedValueUpdatedType            EventType = "DisplayedValueUpdated"
	StandardOutputValueProducedType      EventType = "StandardOutputValueProduced"
	StandardErrorValueProducedType       EventType = "StandardErrorValueProduced"
	DiagnosticsProducedType              EventType = "DiagnosticsProduced"
	CompletionsProducedType              EventType = "CompletionsProduced"
	SignatureHelpProducedType            EventType = "SignatureHelpProduced"
)

// EventClass groups events by how a request handler reacts to them.
type EventClass int

const (
	// Informational events (submission received, parse complete) do not produce output.
	Informational EventClass = iota
	// Production events carry a value or text to publish; the request stays open.
	Production
	// Terminal events end the request.
	Terminal
)

func (c EventClass) String() string {
	return [...]string{"informational", "production", "terminal"}[c]
}

// Event is emitted by a Kernel. Command returns the command that caused it, which may be nil for
// events the kernel raises on its own.
type Event interface {
	EventType() EventType
	Command() Command
	SetCommand(cmd Command)

	event()
}

// EventBase carries the back-reference to the causing command.
type EventBase struct {
	command Command
}

func (e *EventBase) Command() Command {
	return e.command
}

func (e *EventBase) SetCommand(cmd Command) {
	e.command = cmd
}

func (e *EventBase) event() {}

// Token returns the token of the command that caused the event, or "" if there is none.
func Token(e Event) string {
	if cmd := e.Command(); cmd != nil {
		return cmd.Token()
	}
	return ""
}

// Classify returns the class of the event.
func Classify(e Event) EventClass {
	switch e.(type) {
	case *CommandSucceeded, *CommandFailed:
		return Terminal
	case *ReturnValueProduced, *DisplayedValueProduced, *DisplayedValueUpdated,
		*StandardOutputValueProduced, *StandardErrorValueProduced,
		*DiagnosticsProduced, *CompletionsProduced, *SignatureHelpProduced:
		return Production
	default:
		return Informational
	}
}

func IsTerminal(e Event) bool {
	return Classify(e) == Terminal
}

type CodeSubmissionReceived struct {
	EventBase
	Code string `json:"code"`
}

func (e *CodeSubmissionReceived) EventType() EventType { return CodeSubmissionReceivedType }

type CompleteCodeSubmissionReceived struct {
	EventBase
	Code string `json:"code"`
}

func (e *CompleteCodeSubmissionReceived) EventType() EventType {
	return CompleteCodeSubmissionReceivedType
}

type IncompleteCodeSubmissionReceived struct {
	EventBase
}

func (e *IncompleteCodeSubmissionReceived) EventType() EventType {
	return IncompleteCodeSubmissionReceivedType
}

type CommandSucceeded struct {
	EventBase
}

func (e *CommandSucceeded) EventType() EventType { return CommandSucceededType }

func NewCommandSucceeded(cmd Command) *CommandSucceeded {
	e := &CommandSucceeded{}
	e.SetCommand(cmd)
	return e
}

// CommandFailed reports that a command could not be completed. ErrorName, when set, is a short
// classification of the failure (e.g. "SyntaxError").
type CommandFailed struct {
	EventBase
	Message   string `json:"message"`
	ErrorName string `json:"errorName,omitempty"`
}

func (e *CommandFailed) EventType() EventType { return CommandFailedType }

func NewCommandFailed(cmd Command, message string) *CommandFailed {
	e := &CommandFailed{Message: message}
	e.SetCommand(cmd)
	return e
}

// FormattedValue is a representation of a value the kernel rendered itself.
type FormattedValue struct {
	MimeType string `json:"mimeType"`
	Value    string `json:"value"`
}

type ReturnValueProduced struct {
	EventBase
	Value           interface{}      `json:"value"`
	FormattedValues []FormattedValue `json:"formattedValues,omitempty"`
	ValueId         string           `json:"valueId,omitempty"`
}

func (e *ReturnValueProduced) EventType() EventType { return ReturnValueProducedType }

// DisplayedValueProduced publishes a value that may later be replaced through DisplayedValueUpdated
// events carrying the same ValueId.
type DisplayedValueProduced struct {
	EventBase
	Value           interface{}      `json:"value"`
	FormattedValues []FormattedValue `json:"formattedValues,omitempty"`
	ValueId         string           `json:"valueId,omitempty"`
}

func (e *DisplayedValueProduced) EventType() EventType { return DisplayedValueProducedType }

type DisplayedValueUpdated struct {
	EventBase
	Value           interface{}      `json:"value"`
	FormattedValues []FormattedValue `json:"formattedValues,omitempty"`
	ValueId         string           `json:"valueId"`
}

func (e *DisplayedValueUpdated) EventType() EventType { return DisplayedValueUpdatedType }

type StandardOutputValueProduced struct {
	EventBase
	Text string `json:"text"`
}

func (e *StandardOutputValueProduced) EventType() EventType {
	return StandardOutputValueProducedType
}

type StandardErrorValueProduced struct {
	EventBase
	Text string `json:"text"`
}

func (e *StandardErrorValueProduced) EventType() EventType {
	return StandardErrorValueProducedType
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

type Diagnostic struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Line     int    `json:"line,omitempty"`
	Code     string `json:"code,omitempty"`
}

type DiagnosticsProduced struct {
	EventBase
	Diagnostics []Diagnostic `json:"diagnostics"`
}

func (e *DiagnosticsProduced) EventType() EventType { return DiagnosticsProducedType }

// HasErrors returns true if any diagnostic has error severity.
func (e *DiagnosticsProduced) HasErrors() bool {
	for _, d := range e.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

type CompletionItem struct {
	DisplayText string `json:"displayText"`
	InsertText  string `json:"insertText"`
	Kind        string `json:"kind,omitempty"`
}

// CompletionsProduced answers a RequestCompletion. The replacement span is expressed in rune offsets
// into the submitted code.
type CompletionsProduced struct {
	EventBase
	Completions      []CompletionItem `json:"completions"`
	ReplacementStart int              `json:"replacementStart"`
	ReplacementEnd   int              `json:"replacementEnd"`
}

func (e *CompletionsProduced) EventType() EventType { return CompletionsProducedType }

type SignatureInformation struct {
	Label         string `json:"label"`
	Documentation string `json:"documentation,omitempty"`
}

type SignatureHelpProduced struct {
	EventBase
	Signatures      []SignatureInformation `json:"signatures"`
	ActiveSignature int                    `json:"activeSignature"`
	ActiveParameter int                    `json:"activeParameter"`
}

func (e *SignatureHelpProduced) EventType() EventType { return SignatureHelpProducedType }
