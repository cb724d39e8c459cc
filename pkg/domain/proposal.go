package domain

import (
	"fmt"
	"time"
)

// Status is the single discriminant for where a proposal sits in its
// negotiation and settlement lifecycle.
type Status string

const (
	StatusPendingReview       Status = "pending_review"
	StatusApproved            Status = "approved"
	StatusCounterOfferPending Status = "counter_offer_pending"
	StatusAccepted            Status = "accepted"
	StatusWorkInProgress      Status = "work_in_progress"
	StatusCompleted           Status = "completed"
	StatusRejected            Status = "rejected"
)

// MaxAmount caps requested and counter-offer amounts (token base units).
const MaxAmount int64 = 1_000_000_000_000

var transitions = map[Status][]Status{
	StatusPendingReview:       {StatusApproved, StatusCounterOfferPending, StatusRejected},
	StatusApproved:            {StatusAccepted, StatusRejected},
	StatusCounterOfferPending: {StatusAccepted, StatusRejected},
	StatusAccepted:            {StatusWorkInProgress},
	StatusWorkInProgress:      {StatusCompleted},
	// rejected and completed are terminal
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingReview, StatusApproved, StatusCounterOfferPending,
		StatusAccepted, StatusWorkInProgress, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Proposal is the negotiation and settlement record for one mission proposal.
// Status is the only mutable discriminant; the settlement columns
// (AgreementTxRef, WorkConfirmedAt, ReleaseTxRef) are write-once.
type Proposal struct {
	ID              string `json:"proposal_id"`
	MissionID       string `json:"mission_id"`
	CreatorIdentity string `json:"creator_identity"`

	RequestedAmount    int64  `json:"requested_amount"`
	AmountCurrency     string `json:"amount_currency"`
	CounterOfferAmount *int64 `json:"counter_offer_amount,omitempty"`

	Status        Status `json:"status"`
	ReviewerNotes string `json:"reviewer_notes,omitempty"`

	AgreementTxRef  *string    `json:"agreement_tx_ref,omitempty"`
	WorkConfirmedAt *time.Time `json:"work_confirmed_at,omitempty"`
	ReleaseTxRef    *string    `json:"release_tx_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgreementAmount is the amount the on-chain agreement is created for:
// the counter-offer when one was negotiated, otherwise the requested amount.
func (p Proposal) AgreementAmount() int64 {
	if p.CounterOfferAmount != nil {
		return *p.CounterOfferAmount
	}
	return p.RequestedAmount
}

// Validate enforces the cross-field invariants that must hold on every
// persisted observation of a proposal. Stores call this before writing.
func (p Proposal) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing proposal id", ErrInvalidInput)
	}
	if p.CreatorIdentity == "" {
		return fmt.Errorf("%w: missing creator identity", ErrInvalidInput)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, p.Status)
	}
	if p.RequestedAmount <= 0 || p.RequestedAmount > MaxAmount {
		return fmt.Errorf("%w: requested amount out of range", ErrInvalidInput)
	}
	if p.CounterOfferAmount != nil && (*p.CounterOfferAmount <= 0 || *p.CounterOfferAmount > MaxAmount) {
		return fmt.Errorf("%w: counter-offer amount out of range", ErrInvalidInput)
	}
	if p.ReleaseTxRef != nil && (p.WorkConfirmedAt == nil || p.AgreementTxRef == nil) {
		return fmt.Errorf("%w: release recorded without confirmation and agreement", ErrInvalidInput)
	}
	if p.AgreementTxRef == nil {
		switch p.Status {
		case StatusWorkInProgress, StatusCompleted:
			return fmt.Errorf("%w: status %q without agreement tx ref", ErrInvalidInput, p.Status)
		}
	}
	return nil
}

// Event is one entry of a proposal's append-only audit trail.
type Event struct {
	Type    string         `json:"type"`
	ActorID string         `json:"actor_id"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Reconciliation gap phases.
const (
	PhaseAgreementCreate = "agreement_create"
	PhaseRelease         = "release"
)

// ReconciliationGap records a chain call that succeeded while the local
// write of its result failed. Funds have moved; the record has not caught
// up. Gaps are repaired out of band via stakectl.
type ReconciliationGap struct {
	GapID      string     `json:"gap_id"`
	ProposalID string     `json:"proposal_id"`
	Phase      string     `json:"phase"`
	TxRef      string     `json:"tx_ref"`
	Detail     string     `json:"detail"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
