// Package store persists proposal negotiation and settlement state. It is
// the single source of truth for everything except chain finality.
//
// Every transition is a compare-and-swap on status so that concurrent
// writers against the same proposal serialize here: the losing writer's
// UPDATE matches zero rows and is rejected with the appropriate error
// instead of producing a lost update. The settlement columns are guarded
// with IS NULL predicates so they can never be overwritten.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// TransitionUpdate carries the companion fields a negotiation transition may
// set alongside the new status.
type TransitionUpdate struct {
	CounterOfferAmount *int64
	ReviewerNotes      *string
}

const proposalColumns = `proposal_id,mission_id,creator_identity,requested_amount,amount_currency,
counter_offer_amount,status,reviewer_notes,agreement_tx_ref,work_confirmed_at,release_tx_ref,created_at,updated_at`

func scanProposal(row pgx.Row) (domain.Proposal, error) {
	var p domain.Proposal
	var status string
	err := row.Scan(&p.ID, &p.MissionID, &p.CreatorIdentity, &p.RequestedAmount, &p.AmountCurrency,
		&p.CounterOfferAmount, &status, &p.ReviewerNotes, &p.AgreementTxRef, &p.WorkConfirmedAt,
		&p.ReleaseTxRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Proposal{}, err
	}
	p.Status = domain.Status(status)
	return p, nil
}

func (s *Store) Create(ctx context.Context, p domain.Proposal) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO proposals(proposal_id,mission_id,creator_identity,requested_amount,amount_currency,status)
VALUES($1,$2,$3,$4,$5,$6)`,
		p.ID, p.MissionID, p.CreatorIdentity, p.RequestedAmount, p.AmountCurrency, string(p.Status))
	return err
}

func (s *Store) Get(ctx context.Context, id string) (domain.Proposal, error) {
	p, err := scanProposal(s.DB.QueryRow(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE proposal_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, err
}

// TransitionStatus applies from -> to atomically. A proposal that has
// already moved off the expected source state loses the race and gets
// ErrInvalidState; the caller must re-fetch.
func (s *Store) TransitionStatus(ctx context.Context, id string, from, to domain.Status, upd TransitionUpdate) (domain.Proposal, error) {
	if !domain.CanTransition(from, to) {
		return domain.Proposal{}, fmt.Errorf("%w: no transition %s -> %s", domain.ErrInvalidState, from, to)
	}
	p, err := scanProposal(s.DB.QueryRow(ctx, `
UPDATE proposals SET status=$3,
  counter_offer_amount=COALESCE($4,counter_offer_amount),
  reviewer_notes=COALESCE($5,reviewer_notes),
  updated_at=now()
WHERE proposal_id=$1 AND status=$2
RETURNING `+proposalColumns, id, string(from), string(to), upd.CounterOfferAmount, upd.ReviewerNotes))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Proposal{}, s.staleStateError(ctx, id, from)
	}
	return p, err
}

// ConfirmWork records the pioneer's completion assertion exactly once.
func (s *Store) ConfirmWork(ctx context.Context, id string, at time.Time) (domain.Proposal, error) {
	p, err := scanProposal(s.DB.QueryRow(ctx, `
UPDATE proposals SET work_confirmed_at=$2, updated_at=now()
WHERE proposal_id=$1 AND status=$3 AND work_confirmed_at IS NULL
RETURNING `+proposalColumns, id, at.UTC(), string(domain.StatusWorkInProgress)))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return domain.Proposal{}, gerr
		}
		if cur.WorkConfirmedAt != nil {
			return domain.Proposal{}, domain.ErrAlreadyConfirmed
		}
		return domain.Proposal{}, fmt.Errorf("%w: status is %s", domain.ErrInvalidState, cur.Status)
	}
	return p, err
}

// RecordAgreement writes the agreement tx ref and advances the proposal to
// work_in_progress. The second return value is false when a concurrent
// attempt already recorded an agreement: the caller's tx ref is redundant
// (already-mined case) and must be discarded, not treated as an error.
func (s *Store) RecordAgreement(ctx context.Context, id, txRef string) (domain.Proposal, bool, error) {
	p, err := scanProposal(s.DB.QueryRow(ctx, `
UPDATE proposals SET agreement_tx_ref=$2, status=$3, updated_at=now()
WHERE proposal_id=$1 AND status=$4 AND agreement_tx_ref IS NULL
RETURNING `+proposalColumns, id, txRef, string(domain.StatusWorkInProgress), string(domain.StatusAccepted)))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return domain.Proposal{}, false, gerr
		}
		if cur.AgreementTxRef != nil {
			return cur, false, nil
		}
		return domain.Proposal{}, false, fmt.Errorf("%w: status is %s", domain.ErrInvalidState, cur.Status)
	}
	return p, true, err
}

// RecordRelease writes the release tx ref and completes the proposal. The
// IS NOT NULL predicates enforce the settlement ordering invariant at the
// write itself, not only in the coordinator's precondition check.
func (s *Store) RecordRelease(ctx context.Context, id, txRef string) (domain.Proposal, bool, error) {
	p, err := scanProposal(s.DB.QueryRow(ctx, `
UPDATE proposals SET release_tx_ref=$2, status=$3, updated_at=now()
WHERE proposal_id=$1 AND status=$4
  AND work_confirmed_at IS NOT NULL
  AND agreement_tx_ref IS NOT NULL
  AND release_tx_ref IS NULL
RETURNING `+proposalColumns, id, txRef, string(domain.StatusCompleted), string(domain.StatusWorkInProgress)))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, gerr := s.Get(ctx, id)
		if gerr != nil {
			return domain.Proposal{}, false, gerr
		}
		if cur.ReleaseTxRef != nil {
			return cur, false, nil
		}
		return domain.Proposal{}, false, fmt.Errorf("%w: release preconditions not met (status %s)", domain.ErrInvalidState, cur.Status)
	}
	return p, true, err
}

func (s *Store) staleStateError(ctx context.Context, id string, expected domain.Status) error {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: expected %s, found %s", domain.ErrInvalidState, expected, cur.Status)
}

func (s *Store) AddEvent(ctx context.Context, proposalID, typ, actorID string, payload map[string]any) error {
	b, _ := json.Marshal(payload)
	_, err := s.DB.Exec(ctx, `INSERT INTO proposal_events(proposal_id,type,actor_id,payload) VALUES($1,$2,$3,$4::jsonb)`,
		proposalID, typ, actorID, string(b))
	return err
}

func (s *Store) ListEvents(ctx context.Context, proposalID string) ([]domain.Event, error) {
	rows, err := s.DB.Query(ctx, `SELECT type,actor_id,occurred_at,payload FROM proposal_events WHERE proposal_id=$1 ORDER BY occurred_at ASC`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload []byte
		if err := rows.Scan(&e.Type, &e.ActorID, &e.At, &payload); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &e.Payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) InsertGap(ctx context.Context, g domain.ReconciliationGap) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO reconciliation_gaps(gap_id,proposal_id,phase,tx_ref,detail)
VALUES($1,$2,$3,$4,$5)`, g.GapID, g.ProposalID, g.Phase, g.TxRef, g.Detail)
	return err
}

func (s *Store) ListGaps(ctx context.Context, includeResolved bool) ([]domain.ReconciliationGap, error) {
	q := `SELECT gap_id,proposal_id,phase,tx_ref,detail,created_at,resolved_at FROM reconciliation_gaps`
	if !includeResolved {
		q += ` WHERE resolved_at IS NULL`
	}
	q += ` ORDER BY created_at ASC`
	rows, err := s.DB.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ReconciliationGap
	for rows.Next() {
		var g domain.ReconciliationGap
		if err := rows.Scan(&g.GapID, &g.ProposalID, &g.Phase, &g.TxRef, &g.Detail, &g.CreatedAt, &g.ResolvedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) ResolveGap(ctx context.Context, gapID string) error {
	tag, err := s.DB.Exec(ctx, `UPDATE reconciliation_gaps SET resolved_at=now() WHERE gap_id=$1 AND resolved_at IS NULL`, gapID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ResolveGapsFor marks every open gap of one proposal+phase resolved, used
// after a successful local repair.
func (s *Store) ResolveGapsFor(ctx context.Context, proposalID, phase string) error {
	_, err := s.DB.Exec(ctx, `UPDATE reconciliation_gaps SET resolved_at=now() WHERE proposal_id=$1 AND phase=$2 AND resolved_at IS NULL`,
		proposalID, phase)
	return err
}
