package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInit is wrapped when a session cannot be constructed.
	ErrInit = errors.New("session init failed")
	// ErrDimensionMismatch is returned when an embedding vector's length
	// does not equal the engine's embedding dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrCountMismatch is returned when a flat embedding buffer does not
	// hold exactly count x dim values.
	ErrCountMismatch = errors.New("embedding count mismatch")
	// ErrContextOverflow is returned when an append would push the cursor
	// past the engine's maximum context length.
	ErrContextOverflow = errors.New("context overflow")
	// ErrSessionFailed is returned from every call after an error that
	// left the engine state inconsistent. The session must be discarded.
	ErrSessionFailed = errors.New("session failed")
	// ErrEmptyContext is returned when generation starts before any
	// priming input; there is no distribution to sample from.
	ErrEmptyContext = errors.New("empty context")
)

// EngineError wraps an opaque failure from the engine's tokenize or
// forward-pass steps. It is never retried: replaying would desynchronize
// the position cursor.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }
