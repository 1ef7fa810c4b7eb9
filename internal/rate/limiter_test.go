package rate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestAllowMagicLinkRequestPerIdentifier(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxMagicLinkRequests: 2, MagicLinkWindow: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.AllowMagicLinkRequest(ctx, "Alice@Example.com", ""))
	require.NoError(t, l.AllowMagicLinkRequest(ctx, "alice@example.com", ""))
	require.ErrorIs(t, l.AllowMagicLinkRequest(ctx, "alice@example.com ", ""), ErrRateLimited)

	require.NoError(t, l.AllowMagicLinkRequest(ctx, "bob@example.com", ""))

	mr.FastForward(time.Minute + time.Second)
	require.NoError(t, l.AllowMagicLinkRequest(ctx, "alice@example.com", ""))
}

func TestAllowMagicLinkRequestPerIP(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableIPThrottle:       true,
		MaxMagicLinkRequests:   10,
		MaxMagicLinkRequestsIP: 1,
		MagicLinkWindow:        time.Minute,
	})
	ctx := context.Background()

	require.NoError(t, l.AllowMagicLinkRequest(ctx, "a@example.com", "10.0.0.1"))
	require.ErrorIs(t, l.AllowMagicLinkRequest(ctx, "b@example.com", "10.0.0.1"), ErrRateLimited)
	require.NoError(t, l.AllowMagicLinkRequest(ctx, "b@example.com", "10.0.0.2"))
}

func TestLoginCountersAndReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxLoginAttempts: 3, LoginCooldownDuration: time.Minute})
	ctx := context.Background()

	require.NoError(t, l.CheckLogin(ctx, "alice", ""))
	require.NoError(t, l.IncrementLogin(ctx, "alice", ""))
	require.NoError(t, l.IncrementLogin(ctx, "alice", ""))
	require.ErrorIs(t, l.IncrementLogin(ctx, "alice", ""), ErrRateLimited)
	require.ErrorIs(t, l.CheckLogin(ctx, "alice", ""), ErrRateLimited)

	n, err := l.LoginAttempts(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, l.ResetLogin(ctx, "alice"))
	require.NoError(t, l.CheckLogin(ctx, "alice", ""))
}

func TestZeroBudgetsDisableThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.AllowMagicLinkRequest(ctx, "a", "1.2.3.4"))
		require.NoError(t, l.IncrementLogin(ctx, "a", "1.2.3.4"))
	}
	require.NoError(t, l.CheckLogin(ctx, "a", "1.2.3.4"))
}

func TestRedisFailureIsWrapped(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxMagicLinkRequests: 1, MagicLinkWindow: time.Minute})
	mr.Close()
	require.ErrorIs(t, l.AllowMagicLinkRequest(context.Background(), "a", ""), ErrRedisUnavailable)
}
