package utils

import (
	stderrors "errors"
	"strings"

	errors "github.com/go-errors/errors"
)

var (
	NotFoundError        = errors.New("Not found")
	InvalidArgError      = errors.New("Invalid argument")
	InvalidConfigError   = errors.New("Invalid config")
	AlreadyExistsError   = errors.New("Already exists")
	CancelledError       = errors.New("Cancelled")
	InvalidTransitionErr = errors.New("Invalid status transition")
)

// Returns the full trace of an error. If the error does not carry a
// stack trace already we take one from the caller.
func ErrorTrace(err error) string {
	if err == nil {
		return ""
	}

	var stack_err *errors.Error
	if stderrors.As(err, &stack_err) {
		return strings.TrimRight(stack_err.ErrorStack(), "\n")
	}

	stack_err, ok := errors.Wrap(err, 1).(*errors.Error)
	if !ok {
		return err.Error()
	}
	return strings.TrimRight(stack_err.ErrorStack(), "\n")
}
