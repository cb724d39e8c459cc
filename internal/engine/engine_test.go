package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/authz"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/store"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

var (
	admin   = domain.Actor{Address: "0xadmin", Role: domain.RoleAdmin}
	pioneer = domain.Actor{Address: "0xpioneer", Role: domain.RoleContributor}
	someone = domain.Actor{Address: "0xother", Role: domain.RoleContributor}
)

func newEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemory()
	p := domain.Proposal{
		ID:              "prp_1",
		MissionID:       "msn_1",
		CreatorIdentity: pioneer.Address,
		RequestedAmount: 1000,
		AmountCurrency:  "CSTK",
		Status:          domain.StatusPendingReview,
	}
	if err := st.Create(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return New(st, authz.NewGuard()), st
}

func int64p(v int64) *int64 { return &v }

func TestAdminAction_Accept(t *testing.T) {
	e, _ := newEngine(t)
	p, err := e.ApplyAdminAction(context.Background(), "prp_1", admin, AdminAccept, nil, "looks solid")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if p.Status != domain.StatusApproved {
		t.Fatalf("status = %s", p.Status)
	}
	if p.ReviewerNotes != "looks solid" {
		t.Fatalf("notes = %q", p.ReviewerNotes)
	}
}

func TestAdminAction_CounterOfferThenPioneerAccept(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()

	p, err := e.ApplyAdminAction(ctx, "prp_1", admin, AdminCounterOffer, int64p(800), "")
	if err != nil {
		t.Fatalf("counter offer: %v", err)
	}
	if p.Status != domain.StatusCounterOfferPending || *p.CounterOfferAmount != 800 {
		t.Fatalf("got %s / %v", p.Status, p.CounterOfferAmount)
	}

	p, err = e.ApplyPioneerResponse(ctx, "prp_1", pioneer, PioneerAccept)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if p.Status != domain.StatusAccepted {
		t.Fatalf("status = %s", p.Status)
	}
	if p.AgreementAmount() != 800 {
		t.Fatalf("agreement amount = %d", p.AgreementAmount())
	}

	events, _ := st.ListEvents(ctx, "prp_1")
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
}

func TestAdminAction_CounterOfferInputValidation(t *testing.T) {
	for name, amount := range map[string]*int64{
		"missing":    nil,
		"zero":       int64p(0),
		"negative":   int64p(-5),
		"over bound": int64p(domain.MaxAmount + 1),
	} {
		t.Run(name, func(t *testing.T) {
			e, _ := newEngine(t)
			_, err := e.ApplyAdminAction(context.Background(), "prp_1", admin, AdminCounterOffer, amount, "")
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestAdminAction_Forbidden(t *testing.T) {
	e, st := newEngine(t)
	_, err := e.ApplyAdminAction(context.Background(), "prp_1", someone, AdminAccept, nil, "")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	p, _ := st.Get(context.Background(), "prp_1")
	if p.Status != domain.StatusPendingReview {
		t.Fatal("forbidden action mutated record")
	}
}

func TestAdminAction_StaleStateRejectedOutright(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	if _, err := e.ApplyAdminAction(ctx, "prp_1", admin, AdminAccept, nil, ""); err != nil {
		t.Fatal(err)
	}
	// second admin action against a proposal no longer pending: no silent
	// no-op, no queuing
	_, err := e.ApplyAdminAction(ctx, "prp_1", admin, AdminReject, nil, "")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPioneerResponse_Forbidden(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	if _, err := e.ApplyAdminAction(ctx, "prp_1", admin, AdminAccept, nil, ""); err != nil {
		t.Fatal(err)
	}
	_, err := e.ApplyPioneerResponse(ctx, "prp_1", someone, PioneerAccept)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// admins cannot answer for the pioneer
	_, err = e.ApplyPioneerResponse(ctx, "prp_1", admin, PioneerAccept)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for admin, got %v", err)
	}
}

func TestPioneerResponse_RejectIsTerminal(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	if _, err := e.ApplyAdminAction(ctx, "prp_1", admin, AdminCounterOffer, int64p(700), ""); err != nil {
		t.Fatal(err)
	}
	p, err := e.ApplyPioneerResponse(ctx, "prp_1", pioneer, PioneerReject)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusRejected {
		t.Fatalf("status = %s", p.Status)
	}
	// rejected is a dead end: no second round of negotiation
	_, err = e.ApplyAdminAction(ctx, "prp_1", admin, AdminCounterOffer, int64p(900), "")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	_, err = e.ApplyPioneerResponse(ctx, "prp_1", pioneer, PioneerAccept)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestPioneerResponse_WrongState(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.ApplyPioneerResponse(context.Background(), "prp_1", pioneer, PioneerAccept)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestWorkGate_CreatorOnlyExactlyOnce(t *testing.T) {
	e, st := newEngine(t)
	ctx := context.Background()
	if _, err := e.ApplyAdminAction(ctx, "prp_1", admin, AdminAccept, nil, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ApplyPioneerResponse(ctx, "prp_1", pioneer, PioneerAccept); err != nil {
		t.Fatal(err)
	}
	if _, applied, err := st.RecordAgreement(ctx, "prp_1", "0xagreement"); err != nil || !applied {
		t.Fatalf("agreement: %v", err)
	}

	gate := NewWorkGate(st, authz.NewGuard())
	gate.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	if _, err := gate.ConfirmWork(ctx, "prp_1", someone); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	p, err := gate.ConfirmWork(ctx, "prp_1", pioneer)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if p.WorkConfirmedAt == nil {
		t.Fatal("work_confirmed_at not set")
	}
	if p.Status != domain.StatusWorkInProgress {
		t.Fatalf("confirm changed status to %s", p.Status)
	}

	if _, err := gate.ConfirmWork(ctx, "prp_1", pioneer); !errors.Is(err, domain.ErrAlreadyConfirmed) {
		t.Fatalf("expected ErrAlreadyConfirmed, got %v", err)
	}
}

func TestWorkGate_RequiresWorkInProgress(t *testing.T) {
	_, st := newEngine(t)
	gate := NewWorkGate(st, authz.NewGuard())
	_, err := gate.ConfirmWork(context.Background(), "prp_1", pioneer)
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}
