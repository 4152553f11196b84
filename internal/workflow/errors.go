package workflow

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned when a confirmation references an unknown payment session.
var ErrOrderNotFound = errors.New("order not found")

// ValidationError rejects input before any external call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GatewayError wraps a payment gateway failure.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
