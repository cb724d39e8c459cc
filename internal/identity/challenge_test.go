package identity

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestChallengeIssueAndConsume(t *testing.T) {
	rdb, _ := setupRedis(t)
	ctx := context.Background()
	s := NewChallengeStore(rdb, time.Minute)

	nonce, err := s.Issue(ctx, "0xPioneer")
	require.NoError(t, err)
	require.NotEmpty(t, nonce)

	ok, err := s.Consume(ctx, "0xpioneer", nonce) // address casing is normalized
	require.NoError(t, err)
	assert.True(t, ok)

	// single use: the second consume finds nothing
	ok, err = s.Consume(ctx, "0xpioneer", nonce)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChallengeWrongNonceRejected(t *testing.T) {
	rdb, _ := setupRedis(t)
	ctx := context.Background()
	s := NewChallengeStore(rdb, time.Minute)

	_, err := s.Issue(ctx, "0xpioneer")
	require.NoError(t, err)

	ok, err := s.Consume(ctx, "0xpioneer", "not-the-nonce")
	require.NoError(t, err)
	assert.False(t, ok)

	// a failed attempt still burns the challenge
	ok, err = s.Consume(ctx, "0xpioneer", "anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChallengeExpires(t *testing.T) {
	rdb, mr := setupRedis(t)
	ctx := context.Background()
	s := NewChallengeStore(rdb, time.Minute)

	nonce, err := s.Issue(ctx, "0xpioneer")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	ok, err := s.Consume(ctx, "0xpioneer", nonce)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChallengeIssueReplacesOutstanding(t *testing.T) {
	rdb, _ := setupRedis(t)
	ctx := context.Background()
	s := NewChallengeStore(rdb, time.Minute)

	first, err := s.Issue(ctx, "0xpioneer")
	require.NoError(t, err)
	second, err := s.Issue(ctx, "0xpioneer")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	ok, err := s.Consume(ctx, "0xpioneer", first)
	require.NoError(t, err)
	assert.False(t, ok, "replaced nonce must not validate")
}

func TestRateLimiterWindow(t *testing.T) {
	rdb, mr := setupRedis(t)
	ctx := context.Background()
	l := NewRateLimiter(rdb, 3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "0xpioneer")
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i+1)
	}
	ok, err := l.Allow(ctx, "0xpioneer")
	require.NoError(t, err)
	assert.False(t, ok, "fourth request should be limited")

	// other identities are independent
	ok, err = l.Allow(ctx, "0xother")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = l.Allow(ctx, "0xpioneer")
	require.NoError(t, err)
	assert.True(t, ok, "new window should reset the budget")
}
