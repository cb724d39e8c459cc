// Package engine enforces the proposal negotiation state machine: which
// transitions are legal, who may trigger them, and what companion fields
// they carry. Persistence happens through a compare-and-swap store so a
// precondition check and its write are atomic relative to other writers.
package engine

import (
	"context"
	"fmt"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/authz"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/store"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

// Admin review actions against a pending proposal.
const (
	AdminAccept       = "accept"
	AdminReject       = "reject"
	AdminCounterOffer = "counter_offer"
)

// Pioneer responses to a reviewed proposal.
const (
	PioneerAccept = "accept"
	PioneerReject = "reject"
)

// Store is the slice of proposal persistence the engine needs.
type Store interface {
	Get(ctx context.Context, id string) (domain.Proposal, error)
	TransitionStatus(ctx context.Context, id string, from, to domain.Status, upd store.TransitionUpdate) (domain.Proposal, error)
	AddEvent(ctx context.Context, proposalID, typ, actorID string, payload map[string]any) error
}

type Engine struct {
	store Store
	guard *authz.Guard
}

func New(st Store, guard *authz.Guard) *Engine {
	return &Engine{store: st, guard: guard}
}

// ApplyAdminAction reviews a pending proposal: accept, reject, or counter
// with a different amount. Only legal from pending_review; a proposal that
// has already moved is rejected outright and the caller must re-fetch.
func (e *Engine) ApplyAdminAction(ctx context.Context, proposalID string, actor domain.Actor, action string, amount *int64, notes string) (domain.Proposal, error) {
	if d := e.guard.RequireAdmin(actor); !d.Allowed {
		return domain.Proposal{}, fmt.Errorf("%w: %s", domain.ErrForbidden, d.Reason)
	}
	p, err := e.store.Get(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if p.Status != domain.StatusPendingReview {
		return domain.Proposal{}, fmt.Errorf("%w: admin action requires pending_review, found %s", domain.ErrInvalidState, p.Status)
	}

	upd := store.TransitionUpdate{}
	if notes != "" {
		upd.ReviewerNotes = &notes
	}
	var to domain.Status
	switch action {
	case AdminAccept:
		to = domain.StatusApproved
	case AdminReject:
		to = domain.StatusRejected
	case AdminCounterOffer:
		if amount == nil {
			return domain.Proposal{}, fmt.Errorf("%w: counter_offer requires an amount", domain.ErrInvalidInput)
		}
		if *amount <= 0 || *amount > domain.MaxAmount {
			return domain.Proposal{}, fmt.Errorf("%w: counter-offer amount out of range", domain.ErrInvalidInput)
		}
		to = domain.StatusCounterOfferPending
		upd.CounterOfferAmount = amount
	default:
		return domain.Proposal{}, fmt.Errorf("%w: unknown admin action %q", domain.ErrInvalidInput, action)
	}

	p, err = e.store.TransitionStatus(ctx, proposalID, domain.StatusPendingReview, to, upd)
	if err != nil {
		return domain.Proposal{}, err
	}
	payload := map[string]any{"action": action}
	if upd.CounterOfferAmount != nil {
		payload["counter_offer_amount"] = *upd.CounterOfferAmount
	}
	_ = e.store.AddEvent(ctx, proposalID, "ADMIN_ACTION", actor.Address, payload)
	return p, nil
}

// ApplyPioneerResponse records the creator's answer to an approval or
// counter-offer. Accepting completes the double handshake; settlement is
// triggered by the caller afterwards, not here.
func (e *Engine) ApplyPioneerResponse(ctx context.Context, proposalID string, actor domain.Actor, action string) (domain.Proposal, error) {
	p, err := e.store.Get(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if d := e.guard.RequireCreator(actor, p); !d.Allowed {
		return domain.Proposal{}, fmt.Errorf("%w: %s", domain.ErrForbidden, d.Reason)
	}
	from := p.Status
	if from != domain.StatusApproved && from != domain.StatusCounterOfferPending {
		return domain.Proposal{}, fmt.Errorf("%w: response requires approved or counter_offer_pending, found %s", domain.ErrInvalidState, from)
	}

	var to domain.Status
	switch action {
	case PioneerAccept:
		to = domain.StatusAccepted
	case PioneerReject:
		to = domain.StatusRejected
	default:
		return domain.Proposal{}, fmt.Errorf("%w: unknown response %q", domain.ErrInvalidInput, action)
	}

	p, err = e.store.TransitionStatus(ctx, proposalID, from, to, store.TransitionUpdate{})
	if err != nil {
		return domain.Proposal{}, err
	}
	_ = e.store.AddEvent(ctx, proposalID, "PIONEER_RESPONSE", actor.Address, map[string]any{"action": action, "from": string(from)})
	return p, nil
}
