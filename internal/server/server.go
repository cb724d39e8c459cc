// Package server exposes the negotiation and settlement operations over
// HTTP. Handlers do boundary work only: authentication, input decoding,
// and error-to-status mapping; every transition decision lives in the
// engine, gate, and coordinator.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/authz"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/engine"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/identity"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/settle"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

// ProposalStore is the read/create slice of persistence the handlers use
// directly; transitions go through the engine and coordinator.
type ProposalStore interface {
	Create(ctx context.Context, p domain.Proposal) error
	Get(ctx context.Context, id string) (domain.Proposal, error)
	ListEvents(ctx context.Context, proposalID string) ([]domain.Event, error)
	AddEvent(ctx context.Context, proposalID, typ, actorID string, payload map[string]any) error
}

// TokenVerifier turns an Authorization header into a verified actor.
type TokenVerifier interface {
	VerifyBearer(authorization string) (domain.Actor, error)
}

// Limiter bounds mutating requests per identity. A nil Limiter disables
// rate limiting (tests, dev mode).
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
}

type Server struct {
	store    ProposalStore
	engine   *engine.Engine
	gate     *engine.WorkGate
	settler  *settle.Coordinator // nil when no chain gateway is configured
	guard    *authz.Guard
	verifier TokenVerifier
	limiter  Limiter
	log      *slog.Logger

	// Challenges, when set, exposes the wallet login nonce endpoint. The
	// login service that verifies wallet signatures consumes the nonces
	// out of the shared store.
	Challenges *identity.ChallengeStore
}

func New(st ProposalStore, e *engine.Engine, gate *engine.WorkGate, settler *settle.Coordinator,
	guard *authz.Guard, verifier TokenVerifier, limiter Limiter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store: st, engine: e, gate: gate, settler: settler,
		guard: guard, verifier: verifier, limiter: limiter, log: log,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	if s.Challenges != nil {
		r.Post("/auth/challenge", s.issueChallenge)
	}

	r.Route("/proposals", func(api chi.Router) {
		api.Use(s.withActor)
		api.Get("/{proposal_id}", s.getProposal)

		api.Group(func(mut chi.Router) {
			mut.Use(s.withRateLimit)
			mut.Post("/", s.createProposal)
			mut.Put("/{proposal_id}/admin-action", s.adminAction)
			mut.Put("/{proposal_id}/respond", s.respond)
			mut.Post("/{proposal_id}/confirm-work", s.confirmWork)
			mut.Post("/{proposal_id}/release-agreement", s.releaseAgreement)
		})
	})
	return r
}
