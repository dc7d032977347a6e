package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the reconciler.

// ErrRateLimited is returned (wrapped) by a capability that signalled throttling.
// Retry policies treat it differently from every other failure.
var ErrRateLimited = errors.New("rate limited")

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external capability call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrInvalidBarcode indicates an invalid barcode or digitable line.
type ErrInvalidBarcode struct {
	Input  string
	Reason string
}

func (e *ErrInvalidBarcode) Error() string {
	return fmt.Sprintf("invalid barcode/digitable line: %s", e.Reason)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ============================================================
// Reconciliation taxonomy
// ============================================================

// ErrExtraction means no strategy could read a document.
// It is reported in the progress log only; extraction itself never fails.
type ErrExtraction struct {
	Document string
	Reason   string
}

func (e *ErrExtraction) Error() string {
	return fmt.Sprintf("extraction failed for %s: %s", e.Document, e.Reason)
}

// ErrNoMatch explains why a charge ended unmatched. It is an expected outcome.
type ErrNoMatch struct {
	Charge string
	Reason string
}

func (e *ErrNoMatch) Error() string {
	return fmt.Sprintf("no match for %s: %s", e.Charge, e.Reason)
}

// ErrAssembly means one archive entry could not be produced.
type ErrAssembly struct {
	Entry string
	Err   error
}

func (e *ErrAssembly) Error() string {
	return fmt.Sprintf("assembling %s: %v", e.Entry, e.Err)
}

func (e *ErrAssembly) Unwrap() error {
	return e.Err
}

// ErrFatalRun aborts a run: there is nothing to match against.
type ErrFatalRun struct {
	Stage RunState
	Err   error
}

func (e *ErrFatalRun) Error() string {
	return fmt.Sprintf("run aborted during %s: %v", e.Stage, e.Err)
}

func (e *ErrFatalRun) Unwrap() error {
	return e.Err
}
