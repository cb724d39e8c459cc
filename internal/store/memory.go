package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

// MemoryStore mirrors the Postgres store's transition semantics behind a
// mutex. It backs unit tests and the database-less dev mode; the CAS
// behavior (precondition check and write under one lock) is identical.
type MemoryStore struct {
	mu        sync.Mutex
	proposals map[string]domain.Proposal
	events    map[string][]domain.Event
	gaps      map[string]domain.ReconciliationGap
	gapOrder  []string
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		proposals: map[string]domain.Proposal{},
		events:    map[string][]domain.Event{},
		gaps:      map[string]domain.ReconciliationGap{},
	}
}

func (m *MemoryStore) Create(_ context.Context, p domain.Proposal) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[p.ID]; ok {
		return fmt.Errorf("%w: proposal %s already exists", domain.ErrInvalidInput, p.ID)
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.proposals[p.ID] = p
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (domain.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) TransitionStatus(_ context.Context, id string, from, to domain.Status, upd TransitionUpdate) (domain.Proposal, error) {
	if !domain.CanTransition(from, to) {
		return domain.Proposal{}, fmt.Errorf("%w: no transition %s -> %s", domain.ErrInvalidState, from, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	if p.Status != from {
		return domain.Proposal{}, fmt.Errorf("%w: expected %s, found %s", domain.ErrInvalidState, from, p.Status)
	}
	p.Status = to
	if upd.CounterOfferAmount != nil {
		v := *upd.CounterOfferAmount
		p.CounterOfferAmount = &v
	}
	if upd.ReviewerNotes != nil {
		p.ReviewerNotes = *upd.ReviewerNotes
	}
	p.UpdatedAt = time.Now().UTC()
	if err := p.Validate(); err != nil {
		return domain.Proposal{}, err
	}
	m.proposals[id] = p
	return p, nil
}

func (m *MemoryStore) ConfirmWork(_ context.Context, id string, at time.Time) (domain.Proposal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	if p.WorkConfirmedAt != nil {
		return domain.Proposal{}, domain.ErrAlreadyConfirmed
	}
	if p.Status != domain.StatusWorkInProgress {
		return domain.Proposal{}, fmt.Errorf("%w: status is %s", domain.ErrInvalidState, p.Status)
	}
	at = at.UTC()
	p.WorkConfirmedAt = &at
	p.UpdatedAt = time.Now().UTC()
	m.proposals[id] = p
	return p, nil
}

func (m *MemoryStore) RecordAgreement(_ context.Context, id, txRef string) (domain.Proposal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return domain.Proposal{}, false, domain.ErrNotFound
	}
	if p.AgreementTxRef != nil {
		return p, false, nil
	}
	if p.Status != domain.StatusAccepted {
		return domain.Proposal{}, false, fmt.Errorf("%w: status is %s", domain.ErrInvalidState, p.Status)
	}
	p.AgreementTxRef = &txRef
	p.Status = domain.StatusWorkInProgress
	p.UpdatedAt = time.Now().UTC()
	m.proposals[id] = p
	return p, true, nil
}

func (m *MemoryStore) RecordRelease(_ context.Context, id, txRef string) (domain.Proposal, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return domain.Proposal{}, false, domain.ErrNotFound
	}
	if p.ReleaseTxRef != nil {
		return p, false, nil
	}
	if p.Status != domain.StatusWorkInProgress || p.WorkConfirmedAt == nil || p.AgreementTxRef == nil {
		return domain.Proposal{}, false, fmt.Errorf("%w: release preconditions not met (status %s)", domain.ErrInvalidState, p.Status)
	}
	p.ReleaseTxRef = &txRef
	p.Status = domain.StatusCompleted
	p.UpdatedAt = time.Now().UTC()
	m.proposals[id] = p
	return p, true, nil
}

func (m *MemoryStore) AddEvent(_ context.Context, proposalID, typ, actorID string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[proposalID] = append(m.events[proposalID], domain.Event{
		Type: typ, ActorID: actorID, At: time.Now().UTC(), Payload: payload,
	})
	return nil
}

func (m *MemoryStore) ListEvents(_ context.Context, proposalID string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.events[proposalID]))
	copy(out, m.events[proposalID])
	return out, nil
}

func (m *MemoryStore) InsertGap(_ context.Context, g domain.ReconciliationGap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	m.gaps[g.GapID] = g
	m.gapOrder = append(m.gapOrder, g.GapID)
	return nil
}

func (m *MemoryStore) ListGaps(_ context.Context, includeResolved bool) ([]domain.ReconciliationGap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReconciliationGap
	for _, id := range m.gapOrder {
		g := m.gaps[id]
		if !includeResolved && g.ResolvedAt != nil {
			continue
		}
		out = append(out, g)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ResolveGap(_ context.Context, gapID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gaps[gapID]
	if !ok || g.ResolvedAt != nil {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	g.ResolvedAt = &now
	m.gaps[gapID] = g
	return nil
}

func (m *MemoryStore) ResolveGapsFor(_ context.Context, proposalID, phase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for id, g := range m.gaps {
		if g.ProposalID == proposalID && g.Phase == phase && g.ResolvedAt == nil {
			g.ResolvedAt = &now
			m.gaps[id] = g
		}
	}
	return nil
}
