package limiter

import (
	"context"
	"strings"
	"sync"
)

// Inflight caps concurrent calls per provider:model inside this process.
type Inflight struct {
	max int
	mu  sync.Mutex
	sem map[string]chan struct{}
}

// New returns a limiter allowing max concurrent calls per key. max <= 0 defaults to 2.
func New(max int) *Inflight {
	if max <= 0 {
		max = 2
	}
	return &Inflight{max: max, sem: map[string]chan struct{}{}}
}

func (l *Inflight) slot(provider, model string) chan struct{} {
	key := strings.ToLower(provider) + ":" + strings.ToLower(model)
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.sem[key]
	if !ok {
		ch = make(chan struct{}, l.max)
		l.sem[key] = ch
	}
	return ch
}

// Acquire blocks until a slot frees up or ctx ends.
func (l *Inflight) Acquire(ctx context.Context, provider, model string) (func(), error) {
	ch := l.slot(provider, model)
	select {
	case ch <- struct{}{}:
		return releaseOnce(ch), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func releaseOnce(ch chan struct{}) func() {
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }
}
