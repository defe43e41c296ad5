package config

import (
	"errors"
	"fmt"
)

// ErrInvalid matches every configuration error via errors.Is.
var ErrInvalid = errors.New("invalid configuration")

// Error is a startup configuration failure. It is always fatal: no worker is
// started once one has been returned.
type Error struct {
	Option string
	Source string // layer the bad value came from, if any
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Option == "":
		return fmt.Sprintf("config: %v", e.Err)
	case e.Source == "":
		return fmt.Sprintf("config: %s: %v", e.Option, e.Err)
	default:
		return fmt.Sprintf("config: %s (%s): %v", e.Option, e.Source, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrInvalid }

func invalid(option, format string, args ...any) error {
	return &Error{Option: option, Err: fmt.Errorf(format, args...)}
}
