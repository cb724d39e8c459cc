// Package settle bridges accepted proposals to the escrow contract and
// reconciles chain outcomes back into the proposal store.
//
// Every settlement operation is a two-phase sequence: validate against the
// store, call the chain with no store lock held, then write the result back
// through a compare-and-swap that re-checks whether a concurrent attempt
// already settled. The one at-least-once window — chain success followed by
// a failed local write — is recorded as a durable reconciliation gap and
// logged at error severity; it is never folded into a generic failure.
package settle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/chain"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

// Store is the slice of proposal persistence the coordinator needs.
type Store interface {
	Get(ctx context.Context, id string) (domain.Proposal, error)
	RecordAgreement(ctx context.Context, id, txRef string) (domain.Proposal, bool, error)
	RecordRelease(ctx context.Context, id, txRef string) (domain.Proposal, bool, error)
	AddEvent(ctx context.Context, proposalID, typ, actorID string, payload map[string]any) error
	InsertGap(ctx context.Context, g domain.ReconciliationGap) error
	ResolveGapsFor(ctx context.Context, proposalID, phase string) error
}

type Coordinator struct {
	store Store
	chain chain.Client
	log   *slog.Logger

	// TreasuryAddress funds escrow agreements (the payer side).
	TreasuryAddress string
}

func New(st Store, ch chain.Client, treasury string, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: st, chain: ch, log: log, TreasuryAddress: treasury}
}

// Result is the outcome of a settlement operation. ReconciliationPending
// means the chain transaction is real and mined but the local record has
// not caught up; TxRef is still authoritative.
type Result struct {
	Proposal              domain.Proposal
	TxRef                 string
	ReconciliationPending bool
}

// CreateAgreement settles the accepted proposal into an on-chain escrow
// agreement and advances it to work_in_progress. Safe to re-invoke with the
// same inputs after a chain failure: nothing was written locally.
func (c *Coordinator) CreateAgreement(ctx context.Context, proposalID, actorID string) (Result, error) {
	p, err := c.store.Get(ctx, proposalID)
	if err != nil {
		return Result{}, err
	}
	if p.AgreementTxRef != nil {
		return Result{}, fmt.Errorf("%w: agreement already created (tx %s)", domain.ErrAlreadySettled, *p.AgreementTxRef)
	}
	if p.Status != domain.StatusAccepted {
		return Result{}, fmt.Errorf("%w: agreement creation requires accepted, found %s", domain.ErrInvalidState, p.Status)
	}

	// Chain call happens with no store lock held; the CAS write below
	// re-checks that no concurrent attempt settled in the meantime.
	rcpt, err := c.chain.CreateAgreement(ctx, p.ID, c.TreasuryAddress, p.CreatorIdentity, p.AgreementAmount())
	if err != nil {
		return Result{}, err
	}

	return c.recordAgreement(ctx, p.ID, actorID, rcpt.TxRef)
}

// RepairAgreement performs only the local half of agreement settlement with
// a transaction reference that was already mined. It never calls the chain,
// so replaying it cannot create a second agreement.
func (c *Coordinator) RepairAgreement(ctx context.Context, proposalID, actorID, txRef string) (Result, error) {
	res, err := c.recordAgreement(ctx, proposalID, actorID, txRef)
	if err != nil {
		return res, err
	}
	_ = c.store.ResolveGapsFor(ctx, proposalID, domain.PhaseAgreementCreate)
	return res, nil
}

func (c *Coordinator) recordAgreement(ctx context.Context, proposalID, actorID, txRef string) (Result, error) {
	p, applied, err := c.store.RecordAgreement(ctx, proposalID, txRef)
	if err != nil {
		return c.reportGap(ctx, proposalID, domain.PhaseAgreementCreate, txRef, err)
	}
	if !applied {
		// A concurrent attempt already recorded an agreement; our tx ref
		// is the already-mined duplicate and is discarded as redundant.
		c.log.Info("agreement already recorded, discarding redundant tx ref",
			"proposal_id", proposalID, "redundant_tx_ref", txRef, "recorded_tx_ref", deref(p.AgreementTxRef))
		return Result{Proposal: p, TxRef: deref(p.AgreementTxRef)}, nil
	}
	_ = c.store.AddEvent(ctx, proposalID, "AGREEMENT_CREATED", actorID, map[string]any{"tx_ref": txRef, "amount": p.AgreementAmount()})
	return Result{Proposal: p, TxRef: txRef}, nil
}

// Release transfers the escrowed tokens to the pioneer and completes the
// proposal. Refused unless confirmation and agreement creation are both
// durably recorded; no chain call is attempted otherwise.
func (c *Coordinator) Release(ctx context.Context, proposalID, actorID string) (Result, error) {
	p, err := c.store.Get(ctx, proposalID)
	if err != nil {
		return Result{}, err
	}
	if p.ReleaseTxRef != nil {
		return Result{}, fmt.Errorf("%w: already released (tx %s)", domain.ErrAlreadySettled, *p.ReleaseTxRef)
	}
	if p.Status != domain.StatusWorkInProgress {
		return Result{}, fmt.Errorf("%w: release requires work_in_progress, found %s", domain.ErrInvalidState, p.Status)
	}
	if p.WorkConfirmedAt == nil {
		return Result{}, fmt.Errorf("%w: work has not been confirmed", domain.ErrInvalidState)
	}
	if p.AgreementTxRef == nil {
		return Result{}, fmt.Errorf("%w: no agreement recorded", domain.ErrInvalidState)
	}

	rcpt, err := c.chain.ReleaseAgreement(ctx, p.ID)
	if err != nil {
		return Result{}, err
	}

	p, applied, err := c.store.RecordRelease(ctx, proposalID, rcpt.TxRef)
	if err != nil {
		// Funds have moved; the system of record has not caught up. The
		// caller is still told the release happened, with an explicit
		// reconciliation warning instead of an error.
		res, _ := c.reportGap(ctx, proposalID, domain.PhaseRelease, rcpt.TxRef, err)
		return res, nil
	}
	if !applied {
		c.log.Info("release already recorded, discarding redundant tx ref",
			"proposal_id", proposalID, "redundant_tx_ref", rcpt.TxRef, "recorded_tx_ref", deref(p.ReleaseTxRef))
		return Result{Proposal: p, TxRef: deref(p.ReleaseTxRef)}, nil
	}
	_ = c.store.AddEvent(ctx, proposalID, "AGREEMENT_RELEASED", actorID, map[string]any{"tx_ref": rcpt.TxRef})
	return Result{Proposal: p, TxRef: rcpt.TxRef}, nil
}

// RepairRelease is the local-only counterpart of Release for gap repair.
func (c *Coordinator) RepairRelease(ctx context.Context, proposalID, actorID, txRef string) (Result, error) {
	p, applied, err := c.store.RecordRelease(ctx, proposalID, txRef)
	if err != nil {
		return Result{}, err
	}
	if applied {
		_ = c.store.AddEvent(ctx, proposalID, "AGREEMENT_RELEASED", actorID, map[string]any{"tx_ref": txRef, "repaired": true})
	}
	_ = c.store.ResolveGapsFor(ctx, proposalID, domain.PhaseRelease)
	return Result{Proposal: p, TxRef: deref(p.ReleaseTxRef)}, nil
}

// reportGap persists and logs a chain-success/local-failure divergence.
func (c *Coordinator) reportGap(ctx context.Context, proposalID, phase, txRef string, cause error) (Result, error) {
	gap := domain.ReconciliationGap{
		GapID:      "gap_" + uuid.NewString(),
		ProposalID: proposalID,
		Phase:      phase,
		TxRef:      txRef,
		Detail:     cause.Error(),
	}
	if gerr := c.store.InsertGap(ctx, gap); gerr != nil {
		// Even the gap record failed to persist; the log line is the last
		// trace of the mined transaction.
		c.log.Error("failed to persist reconciliation gap",
			"proposal_id", proposalID, "phase", phase, "tx_ref", txRef, "reconciliation_gap", true, "err", gerr)
	} else {
		c.log.Error("chain call succeeded but local write failed",
			"proposal_id", proposalID, "phase", phase, "tx_ref", txRef, "gap_id", gap.GapID, "reconciliation_gap", true, "err", cause)
	}
	return Result{TxRef: txRef, ReconciliationPending: true}, &domain.ReconciliationError{
		ProposalID: proposalID, Phase: phase, TxRef: txRef, Err: cause,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
