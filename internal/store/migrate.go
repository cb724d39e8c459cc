package store

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS proposals (
  proposal_id          text PRIMARY KEY,
  mission_id           text NOT NULL,
  creator_identity     text NOT NULL,
  requested_amount     bigint NOT NULL CHECK (requested_amount > 0),
  amount_currency      text NOT NULL DEFAULT 'CSTK',
  counter_offer_amount bigint CHECK (counter_offer_amount IS NULL OR counter_offer_amount > 0),
  status               text NOT NULL,
  reviewer_notes       text NOT NULL DEFAULT '',
  agreement_tx_ref     text,
  work_confirmed_at    timestamptz,
  release_tx_ref       text,
  created_at           timestamptz NOT NULL DEFAULT now(),
  updated_at           timestamptz NOT NULL DEFAULT now(),
  CHECK (release_tx_ref IS NULL OR (work_confirmed_at IS NOT NULL AND agreement_tx_ref IS NOT NULL))
);

CREATE TABLE IF NOT EXISTS proposal_events (
  event_id    bigserial PRIMARY KEY,
  proposal_id text NOT NULL REFERENCES proposals(proposal_id),
  type        text NOT NULL,
  actor_id    text NOT NULL DEFAULT '',
  occurred_at timestamptz NOT NULL DEFAULT now(),
  payload     jsonb NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS proposal_events_proposal_idx ON proposal_events(proposal_id, occurred_at);

CREATE TABLE IF NOT EXISTS reconciliation_gaps (
  gap_id      text PRIMARY KEY,
  proposal_id text NOT NULL,
  phase       text NOT NULL,
  tx_ref      text NOT NULL,
  detail      text NOT NULL DEFAULT '',
  created_at  timestamptz NOT NULL DEFAULT now(),
  resolved_at timestamptz
);

CREATE INDEX IF NOT EXISTS reconciliation_gaps_open_idx ON reconciliation_gaps(proposal_id) WHERE resolved_at IS NULL;
`

// Migrate creates the schema when it does not exist yet. The database-level
// CHECK on release_tx_ref backs the settlement ordering invariant even
// against writers that bypass this package.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}
