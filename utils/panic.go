package utils

import (
	"fmt"

	errors "github.com/go-errors/errors"
)

// RecoverError converts a panic into an error carrying the stack
// trace of the panic. Use as:
//
//	defer utils.RecoverError(&err)
func RecoverError(err *error) {
	r := recover()
	if r != nil {
		*err = errors.Wrap(fmt.Errorf("PANIC: %v", r), 2)
	}
}
