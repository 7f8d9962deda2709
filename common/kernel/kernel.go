package kernel

import (
	"context"
	"errors"
)

var (
	ErrNotSupported        = errors.New("command not supported by kernel")
	ErrKernelClosed        = errors.New("kernel closed")
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// LanguageInfo describes the language a Kernel evaluates.
type LanguageInfo struct {
	Name          string
	Version       string
	Mimetype      string
	FileExtension string
	Banner        string
}

// Kernel accepts commands and reports their outcome asynchronously as events.
//
// Submit returns an error only if the command is rejected before being accepted. Once accepted,
// the kernel emits zero or more informational and production events followed by exactly one
// terminal event (CommandSucceeded or CommandFailed) whose Command is the submitted command.
type Kernel interface {
	// Name is the kernel name used as the target of submissions, e.g. "lua".
	Name() string

	LanguageInfo() LanguageInfo

	Submit(ctx context.Context, cmd Command) error

	// Subscribe registers a new subscriber on the kernel's event stream.
	Subscribe() *Subscription

	Close() error
}
