package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the execution and strategy layers.
var (
	// ErrRiskRejected means the risk manager refused admission. Never retried.
	ErrRiskRejected = errors.New("order rejected by risk manager")

	// ErrExecutionFailed means the venue kept failing after all retry attempts.
	ErrExecutionFailed = errors.New("order execution failed after retries")

	// ErrInsufficientData means a model does not yet have enough samples to act.
	ErrInsufficientData = errors.New("insufficient data for model")

	// ErrOrderNotFound means the order id is not in the active order table.
	ErrOrderNotFound = errors.New("order not found")
)

// ValidationError reports a malformed order request. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order: %s: %s", e.Field, e.Reason)
}
