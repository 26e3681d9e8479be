package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return mr, c
}

func TestConnectBadURL(t *testing.T) {
	_, err := Connect(context.Background(), "::not a url")
	require.Error(t, err)
}

func TestWeekLockExclusive(t *testing.T) {
	ctx := context.Background()
	_, c := newRedis(t)
	l := NewRedisWeekLock(c, time.Minute)

	lease, ok, err := l.TryLock(ctx, "c1", 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, lease.Held(ctx))

	_, ok, err = l.TryLock(ctx, "c1", 2)
	require.NoError(t, err)
	require.False(t, ok)

	// other weeks are independent
	other, ok, err := l.TryLock(ctx, "c1", 3)
	require.NoError(t, err)
	require.True(t, ok)
	other.Release()

	lease.Release()
	lease.Release()
	require.False(t, lease.Held(ctx))
	again, ok, err := l.TryLock(ctx, "c1", 2)
	require.NoError(t, err)
	require.True(t, ok)
	again.Release()
}

func TestWeekLockRenewedWhileHeld(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)
	ttl := 300 * time.Millisecond
	l := NewRedisWeekLock(c, ttl)

	lease, ok, err := l.TryLock(ctx, "c1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	defer lease.Release()

	key := l.key("c1", 1)
	// five hops of 200ms add up to well past the TTL
	for i := 0; i < 5; i++ {
		mr.FastForward(200 * time.Millisecond)
		require.True(t, mr.Exists(key))
		require.Eventually(t, func() bool { return mr.TTL(key) > 200*time.Millisecond }, 2*time.Second, 10*time.Millisecond)
	}

	_, ok, err = l.TryLock(ctx, "c1", 1)
	require.NoError(t, err)
	require.False(t, ok, "a renewed lease keeps the week")
	require.True(t, lease.Held(ctx))

	lease.Release()
	fresh, ok, err := l.TryLock(ctx, "c1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	fresh.Release()
}

func TestWeekLockLostLeaseIsReported(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)
	l := NewRedisWeekLock(c, 150*time.Millisecond)

	lease, ok, err := l.TryLock(ctx, "c1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	key := l.key("c1", 1)
	require.NoError(t, mr.Set(key, "someone-else"))
	require.False(t, lease.Held(ctx))

	// the renewal loop must not steal the key back
	time.Sleep(120 * time.Millisecond)
	got, err := mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, "someone-else", got)

	lease.Release()
	got, err = mr.Get(key)
	require.NoError(t, err)
	require.Equal(t, "someone-else", got, "release only deletes its own token")
}

func TestWeekLockExpiredHolderKeepsNewHolder(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)
	l := NewRedisWeekLock(c, time.Second)

	stale, ok, err := l.TryLock(ctx, "c1", 1)
	require.NoError(t, err)
	require.True(t, ok)

	// expires before the first renewal tick, as if the holder had stalled
	mr.FastForward(2 * time.Second)

	fresh, ok, err := l.TryLock(ctx, "c1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, stale.Held(ctx))

	stale.Release()
	_, ok, err = l.TryLock(ctx, "c1", 1)
	require.NoError(t, err)
	require.False(t, ok, "expired holder must not release the new lock")
	require.True(t, fresh.Held(ctx))
	fresh.Release()
}

func TestRunStatusRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, c := newRedis(t)
	s := NewRedisRunStatus(c, time.Hour)

	_, ok, err := s.Get(ctx, "c1", 1)
	require.NoError(t, err)
	require.False(t, ok)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	end := start.Add(time.Minute)
	require.NoError(t, s.Set(ctx, "c1", 1, RunStatus{Trigger: "manual", State: RunFinished, Scored: 3, Failed: 1, Completed: true, Start: &start, End: &end}))

	got, ok, err := s.Get(ctx, "c1", 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "manual", got.Trigger)
	require.Equal(t, 3, got.Scored)
	require.Equal(t, 1, got.Failed)
	require.True(t, got.Completed)
	require.True(t, start.Equal(*got.Start))
	require.True(t, end.Equal(*got.End))
	require.True(t, mr.TTL("eval:c1:1:status") > 0)

	// a later write replaces every field
	require.NoError(t, s.Set(ctx, "c1", 1, RunStatus{Trigger: "sweep", State: RunRunning, Start: &start}))
	got, _, err = s.Get(ctx, "c1", 1)
	require.NoError(t, err)
	require.Equal(t, RunRunning, got.State)
	require.Zero(t, got.Scored)
	require.Nil(t, got.End)
}
