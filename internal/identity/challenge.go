package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ChallengeStore hands out single-use login nonces for wallet signature
// challenges and remembers them until consumed or expired. State lives in
// Redis, scoped per instance; nothing here is process-global, so tests run
// against isolated stores.
type ChallengeStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewChallengeStore(rdb *redis.Client, ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ChallengeStore{rdb: rdb, ttl: ttl}
}

func challengeKey(address string) string {
	return "login:challenge:" + strings.ToLower(address)
}

// Issue creates a fresh nonce for the address, replacing any outstanding
// one. The nonce expires after the store's TTL.
func (s *ChallengeStore) Issue(ctx context.Context, address string) (string, error) {
	if strings.TrimSpace(address) == "" {
		return "", fmt.Errorf("address cannot be empty")
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(buf)
	if err := s.rdb.Set(ctx, challengeKey(address), nonce, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store challenge: %w", err)
	}
	return nonce, nil
}

// Consume atomically checks and deletes the outstanding nonce. It returns
// true only when nonce matches the stored value; a consumed or expired
// nonce can never validate twice.
func (s *ChallengeStore) Consume(ctx context.Context, address, nonce string) (bool, error) {
	stored, err := s.rdb.GetDel(ctx, challengeKey(address)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume challenge: %w", err)
	}
	return stored == nonce, nil
}
