package tracker

import "errors"

var (
	ErrDuplicateRequest  = errors.New("an open request already exists for the given command token")
	ErrMissingToken      = errors.New("command has no token")
	ErrTrackerNotRunning = errors.New("tracker is not running")
	ErrUnexpectedEvent   = errors.New("unexpected event for open request")
	ErrHandlerPanic      = errors.New("open request handler panicked")
)
