// Package corerr defines the closed set of error kinds shared by every
// core component: the hashed memory store, the event bus, the DI
// container, and the adaptive batch scheduler.
package corerr

import "errors"

// Sentinel error kinds. Wrap with fmt.Errorf("...: %w", ErrX) to attach
// context; callers match with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrOutOfRange          = errors.New("address out of range")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrUnregisteredService = errors.New("service not registered")
	ErrCircularDependency  = errors.New("circular dependency detected")
	ErrQueueOverflow       = errors.New("queue overflow")
	ErrBackpressure        = errors.New("backpressure: bus queue full")
	ErrBackend             = errors.New("inference backend error")
	ErrRequestExpired      = errors.New("request expired")
)
