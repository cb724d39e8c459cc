package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/chain"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/engine"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/httpx"
)

// writeDomainError maps the error taxonomy onto HTTP statuses. Callers get
// actionable codes; nothing here retries.
func writeDomainError(w http.ResponseWriter, err error) {
	var rejected *chain.RejectedError
	var recon *domain.ReconciliationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, domain.ErrForbidden):
		httpx.WriteError(w, 403, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidInput):
		httpx.WriteError(w, 400, "INVALID_INPUT", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyConfirmed):
		httpx.WriteError(w, 409, "ALREADY_CONFIRMED", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadySettled):
		httpx.WriteError(w, 409, "ALREADY_SETTLED", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidState):
		httpx.WriteError(w, 409, "INVALID_STATE", err.Error(), nil)
	case errors.Is(err, chain.ErrUnavailable):
		httpx.WriteError(w, 503, "CHAIN_UNAVAILABLE", err.Error(), nil)
	case errors.As(err, &rejected):
		httpx.WriteError(w, 502, "CHAIN_REJECTED", rejected.Reason, nil)
	case errors.As(err, &recon):
		// distinct from a generic 500: the chain side is settled and the
		// tx ref must reach the caller for out-of-band repair
		httpx.WriteError(w, 500, "RECONCILIATION_FAILURE", err.Error(), map[string]any{
			"proposal_id": recon.ProposalID, "phase": recon.Phase, "tx_ref": recon.TxRef,
		})
	default:
		httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
	}
}

func (s *Server) createProposal(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	if d := s.guard.RequireContributor(actor); !d.Allowed {
		httpx.WriteError(w, 403, "FORBIDDEN", d.Reason, nil)
		return
	}
	var req struct {
		MissionID       string `json:"mission_id"`
		RequestedAmount int64  `json:"requested_amount"`
		AmountCurrency  string `json:"amount_currency"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.MissionID == "" {
		httpx.WriteError(w, 400, "INVALID_INPUT", "mission_id is required", nil)
		return
	}
	if req.AmountCurrency == "" {
		req.AmountCurrency = "CSTK"
	}
	p := domain.Proposal{
		ID:              "prp_" + uuid.NewString(),
		MissionID:       req.MissionID,
		CreatorIdentity: actor.Address,
		RequestedAmount: req.RequestedAmount,
		AmountCurrency:  req.AmountCurrency,
		Status:          domain.StatusPendingReview,
	}
	if err := p.Validate(); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.store.Create(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	_ = s.store.AddEvent(r.Context(), p.ID, "CREATED", actor.Address, map[string]any{"requested_amount": p.RequestedAmount})
	httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "proposal": p})
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "proposal_id")
	p, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	events, err := s.store.ListEvents(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "proposal": p, "events": events})
}

func (s *Server) adminAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "proposal_id")
	actor := actorFrom(r.Context())
	var req struct {
		Action string `json:"action"`
		Amount *int64 `json:"amount,omitempty"`
		Notes  string `json:"notes,omitempty"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	p, err := s.engine.ApplyAdminAction(r.Context(), id, actor, req.Action, req.Amount, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "proposal": p})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "proposal_id")
	actor := actorFrom(r.Context())
	var req struct {
		Action string `json:"action"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}

	p, err := s.engine.ApplyPioneerResponse(r.Context(), id, actor, req.Action)
	if err != nil {
		// Settlement retry: the acceptance itself already persisted on an
		// earlier invocation but the agreement was never created. The
		// engine correctly refuses the stale transition; re-entering the
		// settlement step with identical inputs is safe.
		if req.Action == engine.PioneerAccept && errors.Is(err, domain.ErrInvalidState) {
			if cur, gerr := s.store.Get(r.Context(), id); gerr == nil &&
				cur.Status == domain.StatusAccepted && cur.AgreementTxRef == nil &&
				s.guard.RequireCreator(actor, cur).Allowed {
				s.settleAccepted(w, r, cur, actor)
				return
			}
		}
		writeDomainError(w, err)
		return
	}
	if p.Status != domain.StatusAccepted {
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "proposal": p})
		return
	}
	s.settleAccepted(w, r, p, actor)
}

// settleAccepted drives an accepted proposal into the on-chain agreement.
// The acceptance is durable regardless of what the chain does, so chain
// trouble is reported as a warning on success, not as request failure.
func (s *Server) settleAccepted(w http.ResponseWriter, r *http.Request, p domain.Proposal, actor domain.Actor) {
	if s.settler == nil {
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(), "proposal": p, "warning": "settlement_deferred",
		})
		return
	}
	res, err := s.settler.CreateAgreement(r.Context(), p.ID, actor.Address)
	if err != nil {
		var recon *domain.ReconciliationError
		if errors.As(err, &recon) {
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(), "proposal": p,
				"agreement_tx_ref": recon.TxRef, "warning": "reconciliation_pending",
			})
			return
		}
		s.log.Warn("agreement creation failed, proposal stays accepted", "proposal_id", p.ID, "err", err)
		httpx.WriteJSON(w, 200, map[string]any{
			"request_id": httpx.NewRequestID(), "proposal": p, "warning": "settlement_pending",
		})
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{
		"request_id": httpx.NewRequestID(), "proposal": res.Proposal, "agreement_tx_ref": res.TxRef,
	})
}

func (s *Server) issueChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	if req.Address == "" {
		httpx.WriteError(w, 400, "INVALID_INPUT", "address is required", nil)
		return
	}
	nonce, err := s.Challenges.Issue(r.Context(), req.Address)
	if err != nil {
		httpx.WriteError(w, 500, "CHALLENGE_ERROR", err.Error(), nil)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "address": req.Address, "nonce": nonce})
}

func (s *Server) confirmWork(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "proposal_id")
	actor := actorFrom(r.Context())
	p, err := s.gate.ConfirmWork(r.Context(), id, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "proposal": p})
}

func (s *Server) releaseAgreement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "proposal_id")
	actor := actorFrom(r.Context())
	if d := s.guard.RequireAdmin(actor); !d.Allowed {
		httpx.WriteError(w, 403, "FORBIDDEN", d.Reason, nil)
		return
	}
	if s.settler == nil {
		httpx.WriteError(w, 503, "CHAIN_UNAVAILABLE", "chain gateway is not configured", nil)
		return
	}
	res, err := s.settler.Release(r.Context(), id, actor.Address)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	body := map[string]any{
		"request_id":     httpx.NewRequestID(),
		"release_tx_ref": res.TxRef,
	}
	if res.ReconciliationPending {
		// tokens moved but local bookkeeping needs manual repair; this is
		// success with a warning, never a 5xx
		body["warning"] = "reconciliation_pending"
	} else {
		body["proposal"] = res.Proposal
	}
	httpx.WriteJSON(w, 200, body)
}
