package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/authz"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

// ConfirmStore is the slice of persistence the work confirmation gate needs.
type ConfirmStore interface {
	Get(ctx context.Context, id string) (domain.Proposal, error)
	ConfirmWork(ctx context.Context, id string, at time.Time) (domain.Proposal, error)
	AddEvent(ctx context.Context, proposalID, typ, actorID string, payload map[string]any) error
}

// WorkGate is the one-way switch a pioneer flips to assert the deliverable
// is complete. It is deliberately local-only: asserting done and releasing
// funds are separate decisions by separate parties, and this gate never
// touches the chain.
type WorkGate struct {
	store ConfirmStore
	guard *authz.Guard
	now   func() time.Time
}

func NewWorkGate(st ConfirmStore, guard *authz.Guard) *WorkGate {
	return &WorkGate{store: st, guard: guard, now: time.Now}
}

// ConfirmWork stamps work_confirmed_at exactly once. Requires the proposal
// to be in work_in_progress and the caller to be its creator.
func (g *WorkGate) ConfirmWork(ctx context.Context, proposalID string, actor domain.Actor) (domain.Proposal, error) {
	p, err := g.store.Get(ctx, proposalID)
	if err != nil {
		return domain.Proposal{}, err
	}
	if d := g.guard.RequireCreator(actor, p); !d.Allowed {
		return domain.Proposal{}, fmt.Errorf("%w: %s", domain.ErrForbidden, d.Reason)
	}
	p, err = g.store.ConfirmWork(ctx, proposalID, g.now().UTC())
	if err != nil {
		return domain.Proposal{}, err
	}
	_ = g.store.AddEvent(ctx, proposalID, "WORK_CONFIRMED", actor.Address, map[string]any{})
	return p, nil
}
