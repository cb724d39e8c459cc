package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/authz"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/chain"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/engine"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/identity"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/server"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/settle"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/internal/store"
	"github.com/crowdstaking-org/crowdstaking-platform-sub001/pkg/db"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	pool := db.MustConnect()
	st := store.New(pool)
	if os.Getenv("AUTO_MIGRATE") == "true" {
		if err := st.Migrate(context.Background()); err != nil {
			log.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	}

	secret := os.Getenv("SESSION_TOKEN_SECRET")
	if secret == "" {
		panic("SESSION_TOKEN_SECRET is required")
	}
	verifier := identity.NewVerifier([]byte(secret))

	guard := authz.NewGuard()
	eng := engine.New(st, guard)
	gate := engine.NewWorkGate(st, guard)

	var coord *settle.Coordinator
	if base := os.Getenv("CHAIN_GATEWAY_URL"); base != "" {
		treasury := os.Getenv("TREASURY_ADDRESS")
		if treasury == "" {
			panic("TREASURY_ADDRESS is required when CHAIN_GATEWAY_URL is set")
		}
		gw := chain.NewGateway(base, os.Getenv("CHAIN_GATEWAY_TOKEN"))
		coord = settle.New(st, gw, treasury, log)
	} else {
		log.Warn("CHAIN_GATEWAY_URL not set, settlement endpoints will answer 503")
	}

	var limiter server.Limiter
	var challenges *identity.ChallengeStore
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
		limiter = identity.NewRateLimiter(rdb, 30, time.Minute)
		challenges = identity.NewChallengeStore(rdb, 5*time.Minute)
	} else {
		log.Warn("REDIS_ADDR not set, rate limiting and login challenges disabled")
	}

	srv := server.New(st, eng, gate, coord, guard, verifier, limiter, log)
	srv.Challenges = challenges

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8084"
	}
	log.Info("proposal settlement service listening", "port", port)
	if err := http.ListenAndServe(":"+port, srv.Router()); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
