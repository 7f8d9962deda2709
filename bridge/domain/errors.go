package domain

import "errors"

var (
	ErrUnknownIdlePolicy = errors.New("unknown idle policy")
	ErrInvalidOption     = errors.New("invalid option")
	ErrNoConnectionFile  = errors.New("a connection file is required")
)
