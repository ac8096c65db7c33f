package compiler

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no compiler declares a transform.
var ErrNotFound = errors.New("compiler not found")

// ErrDuplicate is returned when more than one compiler declares the
// same transform. Discovery order would otherwise decide the winner
// silently, so the engine fails loudly instead.
var ErrDuplicate = errors.New("duplicate compiler for transform")

// ErrInvalidOutput is returned when a compiler's stdout is not the
// JSON document the protocol requires.
var ErrInvalidOutput = errors.New("invalid compiler output")

// ExecError is a compiler subprocess failure: a non-zero exit or a
// spawn failure. Stderr is captured verbatim.
type ExecError struct {
	Binary   string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compiler %s: %v", e.Binary, e.Err)
	}

	return fmt.Sprintf("compiler %s exited with code %d: %s", e.Binary, e.ExitCode, e.Stderr)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
