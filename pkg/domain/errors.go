package domain

import (
	"errors"
	"fmt"
)

// Caller-actionable error taxonomy. Handlers map these onto HTTP statuses;
// none of them is retried automatically.
var (
	ErrNotFound         = errors.New("proposal not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidState     = errors.New("invalid proposal state")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyConfirmed = errors.New("work already confirmed")
	ErrAlreadySettled   = errors.New("already settled")
)

// ReconciliationError reports the one failure class where the economically
// significant outcome and the system of record diverge: the chain call
// succeeded (TxRef is real and mined) but persisting that fact failed.
// It must never be collapsed into a generic server error.
type ReconciliationError struct {
	ProposalID string
	Phase      string
	TxRef      string
	Err        error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failure: %s for proposal %s succeeded on chain (tx %s) but local write failed: %v",
		e.Phase, e.ProposalID, e.TxRef, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
