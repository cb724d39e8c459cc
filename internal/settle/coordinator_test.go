package settle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/chain"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/store"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

// fakeChain scripts the escrow gateway: each call pops the next outcome.
type fakeChain struct {
	createCalls  int
	releaseCalls int
	createErr    error
	releaseErr   error
	txRef        string
}

func (f *fakeChain) CreateAgreement(ctx context.Context, proposalID, payer, payee string, amount int64) (chain.Receipt, error) {
	f.createCalls++
	if f.createErr != nil {
		return chain.Receipt{}, f.createErr
	}
	return chain.Receipt{TxRef: f.txRef}, nil
}

func (f *fakeChain) ConfirmWorkDone(ctx context.Context, proposalID string) error { return nil }

func (f *fakeChain) ReleaseAgreement(ctx context.Context, proposalID string) (chain.Receipt, error) {
	f.releaseCalls++
	if f.releaseErr != nil {
		return chain.Receipt{}, f.releaseErr
	}
	return chain.Receipt{TxRef: f.txRef}, nil
}

// flakyStore wraps the memory store and fails settlement writes on demand,
// simulating the chain-success/local-write-failure window.
type flakyStore struct {
	*store.MemoryStore
	failAgreementWrites int
	failReleaseWrites   int
}

func (f *flakyStore) RecordAgreement(ctx context.Context, id, txRef string) (domain.Proposal, bool, error) {
	if f.failAgreementWrites > 0 {
		f.failAgreementWrites--
		return domain.Proposal{}, false, errors.New("connection reset by peer")
	}
	return f.MemoryStore.RecordAgreement(ctx, id, txRef)
}

func (f *flakyStore) RecordRelease(ctx context.Context, id, txRef string) (domain.Proposal, bool, error) {
	if f.failReleaseWrites > 0 {
		f.failReleaseWrites--
		return domain.Proposal{}, false, errors.New("connection reset by peer")
	}
	return f.MemoryStore.RecordRelease(ctx, id, txRef)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func acceptedProposal(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	p := domain.Proposal{
		ID: "prp_1", MissionID: "msn_1", CreatorIdentity: "0xpioneer",
		RequestedAmount: 1000, AmountCurrency: "CSTK", Status: domain.StatusPendingReview,
	}
	if err := m.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	amount := int64(800)
	if _, err := m.TransitionStatus(ctx, "prp_1", domain.StatusPendingReview, domain.StatusCounterOfferPending,
		store.TransitionUpdate{CounterOfferAmount: &amount}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.TransitionStatus(ctx, "prp_1", domain.StatusCounterOfferPending, domain.StatusAccepted, store.TransitionUpdate{}); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestCreateAgreement_HappyPath(t *testing.T) {
	ctx := context.Background()
	m := acceptedProposal(t)
	ch := &fakeChain{txRef: "0xagree"}
	c := New(m, ch, "0xtreasury", quietLogger())

	res, err := c.CreateAgreement(ctx, "prp_1", "0xadmin")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Proposal.Status != domain.StatusWorkInProgress {
		t.Fatalf("status = %s", res.Proposal.Status)
	}
	if res.TxRef != "0xagree" || res.ReconciliationPending {
		t.Fatalf("res = %+v", res)
	}
	if ch.createCalls != 1 {
		t.Fatalf("chain calls = %d", ch.createCalls)
	}
}

func TestCreateAgreement_ChainFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	m := acceptedProposal(t)
	ch := &fakeChain{txRef: "0xagree", createErr: chain.ErrUnavailable}
	c := New(m, ch, "0xtreasury", quietLogger())

	_, err := c.CreateAgreement(ctx, "prp_1", "0xadmin")
	if !errors.Is(err, chain.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	p, _ := m.Get(ctx, "prp_1")
	if p.Status != domain.StatusAccepted || p.AgreementTxRef != nil {
		t.Fatalf("chain failure mutated record: %s %v", p.Status, p.AgreementTxRef)
	}

	// retry with identical inputs succeeds
	ch.createErr = nil
	res, err := c.CreateAgreement(ctx, "prp_1", "0xadmin")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Proposal.Status != domain.StatusWorkInProgress {
		t.Fatalf("status = %s", res.Proposal.Status)
	}
}

func TestCreateAgreement_ReconciliationGapThenRepair(t *testing.T) {
	ctx := context.Background()
	m := acceptedProposal(t)
	fs := &flakyStore{MemoryStore: m, failAgreementWrites: 1}
	ch := &fakeChain{txRef: "0xagree"}
	c := New(fs, ch, "0xtreasury", quietLogger())

	_, err := c.CreateAgreement(ctx, "prp_1", "0xadmin")
	var rec *domain.ReconciliationError
	if !errors.As(err, &rec) {
		t.Fatalf("expected ReconciliationError, got %v", err)
	}
	if rec.TxRef != "0xagree" || rec.Phase != domain.PhaseAgreementCreate {
		t.Fatalf("gap = %+v", rec)
	}
	gaps, _ := m.ListGaps(ctx, false)
	if len(gaps) != 1 {
		t.Fatalf("open gaps = %d", len(gaps))
	}

	// repair performs only the local write with the mined ref
	res, err := c.RepairAgreement(ctx, "prp_1", "0xoperator", "0xagree")
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if res.Proposal.Status != domain.StatusWorkInProgress || res.TxRef != "0xagree" {
		t.Fatalf("res = %+v", res)
	}
	if ch.createCalls != 1 {
		t.Fatalf("repair re-invoked the chain: %d calls", ch.createCalls)
	}
	gaps, _ = m.ListGaps(ctx, false)
	if len(gaps) != 0 {
		t.Fatalf("open gaps after repair = %d", len(gaps))
	}
}

func TestCreateAgreement_AlreadySettled(t *testing.T) {
	ctx := context.Background()
	m := acceptedProposal(t)
	ch := &fakeChain{txRef: "0xagree"}
	c := New(m, ch, "0xtreasury", quietLogger())

	if _, err := c.CreateAgreement(ctx, "prp_1", "0xadmin"); err != nil {
		t.Fatal(err)
	}
	_, err := c.CreateAgreement(ctx, "prp_1", "0xadmin")
	if !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if ch.createCalls != 1 {
		t.Fatalf("second invocation reached the chain: %d calls", ch.createCalls)
	}
}

func workInProgressConfirmed(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	m := acceptedProposal(t)
	if _, applied, err := m.RecordAgreement(ctx, "prp_1", "0xagree"); err != nil || !applied {
		t.Fatal(err)
	}
	if _, err := m.ConfirmWork(ctx, "prp_1", time.Now()); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestRelease_HappyPath(t *testing.T) {
	ctx := context.Background()
	m := workInProgressConfirmed(t)
	ch := &fakeChain{txRef: "0xrelease"}
	c := New(m, ch, "0xtreasury", quietLogger())

	res, err := c.Release(ctx, "prp_1", "0xadmin")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if res.Proposal.Status != domain.StatusCompleted || res.TxRef != "0xrelease" {
		t.Fatalf("res = %+v", res)
	}
}

func TestRelease_RefusedWithoutConfirmation(t *testing.T) {
	ctx := context.Background()
	m := acceptedProposal(t)
	if _, applied, err := m.RecordAgreement(ctx, "prp_1", "0xagree"); err != nil || !applied {
		t.Fatal(err)
	}
	ch := &fakeChain{txRef: "0xrelease"}
	c := New(m, ch, "0xtreasury", quietLogger())

	_, err := c.Release(ctx, "prp_1", "0xadmin")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if ch.releaseCalls != 0 {
		t.Fatal("chain called despite missing confirmation")
	}
}

func TestRelease_RefusedBeforeAgreement(t *testing.T) {
	ctx := context.Background()
	m := acceptedProposal(t)
	ch := &fakeChain{txRef: "0xrelease"}
	c := New(m, ch, "0xtreasury", quietLogger())

	_, err := c.Release(ctx, "prp_1", "0xadmin")
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if ch.releaseCalls != 0 {
		t.Fatal("chain called in accepted state")
	}
}

func TestRelease_GapStillReportsSuccess(t *testing.T) {
	ctx := context.Background()
	m := workInProgressConfirmed(t)
	fs := &flakyStore{MemoryStore: m, failReleaseWrites: 1}
	ch := &fakeChain{txRef: "0xrelease"}
	c := New(fs, ch, "0xtreasury", quietLogger())

	// the economically significant fact (release) happened, so the caller
	// gets success plus a reconciliation warning, never an error
	res, err := c.Release(ctx, "prp_1", "0xadmin")
	if err != nil {
		t.Fatalf("expected success with warning, got %v", err)
	}
	if !res.ReconciliationPending || res.TxRef != "0xrelease" {
		t.Fatalf("res = %+v", res)
	}
	gaps, _ := m.ListGaps(ctx, false)
	if len(gaps) != 1 || gaps[0].Phase != domain.PhaseRelease {
		t.Fatalf("gaps = %+v", gaps)
	}

	// repair writes the mined ref locally without a second chain call
	rres, err := c.RepairRelease(ctx, "prp_1", "0xoperator", "0xrelease")
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if rres.Proposal.Status != domain.StatusCompleted {
		t.Fatalf("status = %s", rres.Proposal.Status)
	}
	if ch.releaseCalls != 1 {
		t.Fatalf("repair re-invoked the chain: %d calls", ch.releaseCalls)
	}
	gaps, _ = m.ListGaps(ctx, false)
	if len(gaps) != 0 {
		t.Fatalf("open gaps after repair = %d", len(gaps))
	}
}

func TestRelease_AlreadyReleased(t *testing.T) {
	ctx := context.Background()
	m := workInProgressConfirmed(t)
	ch := &fakeChain{txRef: "0xrelease"}
	c := New(m, ch, "0xtreasury", quietLogger())

	if _, err := c.Release(ctx, "prp_1", "0xadmin"); err != nil {
		t.Fatal(err)
	}
	_, err := c.Release(ctx, "prp_1", "0xadmin")
	if !errors.Is(err, domain.ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	if ch.releaseCalls != 1 {
		t.Fatalf("double release reached the chain: %d calls", ch.releaseCalls)
	}
}
