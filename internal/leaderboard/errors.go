package leaderboard

import "fmt"

// ValidationError is a caller error: missing/unknown game or parameter
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validationf builds a ValidationError
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AuthenticationError is a checksum mismatch: the submission was not produced
// by the legitimate game client
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

// TypeCastError is a submitted value not matching its declared field type
type TypeCastError struct {
	Field   string
	Message string
}

func (e *TypeCastError) Error() string { return e.Message }

// CapabilityError is a ranking operation on a non-ranking game, or an
// append-mode submission to a ranking-enabled game
type CapabilityError struct {
	Message string
}

func (e *CapabilityError) Error() string { return e.Message }

// Capabilityf builds a CapabilityError
func Capabilityf(format string, args ...any) error {
	return &CapabilityError{Message: fmt.Sprintf(format, args...)}
}
