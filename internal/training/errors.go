package training

import "errors"

// Caller-facing errors. All are recoverable: a rejected precondition performs
// no writes. Storage failures are wrapped and carry no engine semantics.
var (
	ErrModuleLocked      = errors.New("module is locked")
	ErrQuizRequired      = errors.New("module quiz must be passed first")
	ErrQuizLocked        = errors.New("quiz is locked")
	ErrAttemptsExhausted = errors.New("quiz attempts exhausted")
	ErrNotCompleted      = errors.New("enrollment is not completed")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrValidation        = errors.New("validation failed")
)
