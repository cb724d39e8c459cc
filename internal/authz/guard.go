// Package authz is the single authorization gate for proposal transitions.
// Every handler consults it instead of carrying its own role checks.
package authz

import (
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
)

// Decision is a tagged authorization result.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// Guard answers role and ownership questions for proposal transitions.
type Guard struct{}

func NewGuard() *Guard { return &Guard{} }

// RequireAdmin permits only platform-admin actors (the founder side of the
// double handshake).
func (g *Guard) RequireAdmin(actor domain.Actor) Decision {
	if actor.Address == "" {
		return deny("unauthenticated")
	}
	if actor.Role != domain.RoleAdmin {
		return deny("admin role required")
	}
	return allow()
}

// RequireCreator permits only the proposal's author (the pioneer side).
func (g *Guard) RequireCreator(actor domain.Actor, p domain.Proposal) Decision {
	if actor.Address == "" {
		return deny("unauthenticated")
	}
	if actor.Address != p.CreatorIdentity {
		return deny("only the proposal creator may perform this action")
	}
	return allow()
}

// RequireContributor permits any authenticated actor to author proposals.
func (g *Guard) RequireContributor(actor domain.Actor) Decision {
	if actor.Address == "" {
		return deny("unauthenticated")
	}
	return allow()
}
