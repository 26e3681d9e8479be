package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireCapsPerKey(t *testing.T) {
	l := New(1)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "OpenAI", "gpt")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "openai", "GPT")
	require.ErrorIs(t, err, context.DeadlineExceeded, "keys are case-insensitive")

	other, err := l.Acquire(ctx, "anthropic", "claude")
	require.NoError(t, err)
	other()

	release()
	release()
	again, err := l.Acquire(ctx, "openai", "gpt")
	require.NoError(t, err)
	again()
}

func TestAcquireWaitsForRelease(t *testing.T) {
	l := New(1)
	release, err := l.Acquire(context.Background(), "openai", "gpt")
	require.NoError(t, err)

	got := make(chan struct{})
	go func() {
		r, err := l.Acquire(context.Background(), "openai", "gpt")
		if err == nil {
			r()
		}
		close(got)
	}()

	select {
	case <-got:
		t.Fatal("second acquire should block")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second acquire never returned")
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	l := New(1)
	release, err := l.Acquire(context.Background(), "openai", "gpt")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "openai", "gpt")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
