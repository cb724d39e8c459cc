package server

import (
	"context"
	"net/http"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/domain"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/httpx"
)

type contextKey string

const actorKey contextKey = "actor"

// withActor authenticates every proposal route. The verified actor rides
// the request context; handlers read it with actorFrom.
func (s *Server) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.verifier.VerifyBearer(r.Header.Get("Authorization"))
		if err != nil {
			httpx.WriteError(w, 401, "UNAUTHORIZED", "missing or invalid session token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey).(domain.Actor)
	return actor
}

// withRateLimit bounds mutating requests per verified identity.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil {
			actor := actorFrom(r.Context())
			ok, err := s.limiter.Allow(r.Context(), actor.Address)
			if err != nil {
				// the limiter store being down must not take writes down with it
				s.log.Warn("rate limiter unavailable", "err", err)
			} else if !ok {
				httpx.WriteError(w, 429, "RATE_LIMITED", "too many requests", nil)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
