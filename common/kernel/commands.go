package kernel

import (
	"github.com/google/uuid"
)

// CommandType is the discriminator of a command.
type CommandType string

const (
	SubmitCodeType           CommandType = "SubmitCode"
	CancelCurrentCommandType CommandType = "CancelCurrentCommand"
	QuitType                 CommandType = "Quit"
	RequestCompletionType    CommandType = "RequestCompletion"
	RequestDiagnosticsType   CommandType = "RequestDiagnostics"
	RequestSignatureHelpType CommandType = "RequestSignatureHelp"
)

// SubmissionType selects whether submitted code is executed or only parsed.
type SubmissionType string

const (
	SubmissionRun      SubmissionType = "run"
	SubmissionDiagnose SubmissionType = "diagnose"
)

// Command is an instruction sent to a Kernel.
//
// The set of commands is closed: every implementation lives in this package. A command is identified
// by its token, which correlates the events it causes.
type Command interface {
	CommandType() CommandType
	Token() string
	SetToken(token string)

	command()
}

// CommandBase carries the token shared by all commands.
type CommandBase struct {
	token string
}

func (c *CommandBase) Token() string {
	return c.token
}

func (c *CommandBase) SetToken(token string) {
	c.token = token
}

func (c *CommandBase) command() {}

// NewToken returns a fresh command token.
func NewToken() string {
	return uuid.NewString()
}

// EnsureToken assigns a token to the command if it has none and returns the command's token.
func EnsureToken(cmd Command) string {
	if cmd.Token() == "" {
		cmd.SetToken(NewToken())
	}
	return cmd.Token()
}

// SubmitCode submits code in the language named by TargetKernelName.
type SubmitCode struct {
	CommandBase
	Code             string         `json:"code"`
	TargetKernelName string         `json:"targetKernelName,omitempty"`
	SubmissionType   SubmissionType `json:"submissionType,omitempty"`
}

func NewSubmitCode(code string, targetKernelName string) *SubmitCode {
	return &SubmitCode{Code: code, TargetKernelName: targetKernelName, SubmissionType: SubmissionRun}
}

func (c *SubmitCode) CommandType() CommandType { return SubmitCodeType }

// CancelCurrentCommand interrupts whatever the kernel is currently running.
type CancelCurrentCommand struct {
	CommandBase
}

func (c *CancelCurrentCommand) CommandType() CommandType { return CancelCurrentCommandType }

// Quit stops the kernel.
type Quit struct {
	CommandBase
}

func (c *Quit) CommandType() CommandType { return QuitType }

// RequestCompletion asks for completions of Code at CursorPosition, a rune offset.
type RequestCompletion struct {
	CommandBase
	Code           string `json:"code"`
	CursorPosition int    `json:"cursorPosition"`
}

func (c *RequestCompletion) CommandType() CommandType { return RequestCompletionType }

type RequestDiagnostics struct {
	CommandBase
	Code string `json:"code"`
}

func (c *RequestDiagnostics) CommandType() CommandType { return RequestDiagnosticsType }

type RequestSignatureHelp struct {
	CommandBase
	Code           string `json:"code"`
	CursorPosition int    `json:"cursorPosition"`
}

func (c *RequestSignatureHelp) CommandType() CommandType { return RequestSignatureHelpType }
