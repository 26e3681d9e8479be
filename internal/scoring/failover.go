package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/notesync/internal/metrics"
)

// Failover scores each page with the first provider that answers, skipping
// providers whose breaker is open. It satisfies Scorer.
type Failover struct {
	providers []Provider
	breaker   Breaker
	slots     Slots
}

// Slots bounds concurrent calls per provider:model.
type Slots interface {
	Acquire(ctx context.Context, provider, model string) (func(), error)
}

// NewFailover tries providers in the given order. A nil breaker disables cooldowns.
func NewFailover(breaker Breaker, providers ...Provider) *Failover {
	if breaker == nil {
		breaker = noBreaker{}
	}
	return &Failover{providers: providers, breaker: breaker}
}

// WithSlots makes every provider call wait for a free slot first.
func (f *Failover) WithSlots(s Slots) *Failover {
	f.slots = s
	return f
}

// Providers lists provider names in failover order.
func (f *Failover) Providers() []string {
	out := make([]string, 0, len(f.providers))
	for _, p := range f.providers {
		out = append(out, p.Name())
	}
	return out
}

func (f *Failover) ScorePages(ctx context.Context, pages []PageImage) ([]PageScore, error) {
	out := make([]PageScore, 0, len(pages))
	for _, page := range pages {
		s, err := f.scorePage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.Page, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (f *Failover) scorePage(ctx context.Context, page PageImage) (PageScore, error) {
	var lastErr error
	for i, prov := range f.providers {
		if err := ctx.Err(); err != nil {
			return PageScore{}, err
		}
		name, model := prov.Name(), prov.Model()
		if f.breaker.IsOpen(ctx, name, model) {
			log.Debug().Str("provider", name).Str("model", model).Msg("circuit breaker OPEN - skipping provider")
			lastErr = fmt.Errorf("%s/%s circuit open: %w", name, model, ErrUnavailable)
			continue
		}

		score, dur, err := f.call(ctx, prov, page)
		if err == nil {
			metrics.ObserveProvider(name, model, "success", dur)
			if f.breaker.Close(ctx, name, model) {
				metrics.BreakerClosed(name, model)
			}
			return score, nil
		}

		reason := Classify(err)
		metrics.ObserveProvider(name, model, string(reason), dur)
		log.Warn().
			Err(err).
			Str("provider", name).
			Str("model", model).
			Int("page", page.Page).
			Int("attempt", i+1).
			Dur("duration", dur).
			Str("reason", string(reason)).
			Msg("scoring provider call failed")

		if isFatal(err) {
			return PageScore{}, err
		}
		if isTransient(err) {
			f.breaker.Open(ctx, name, model)
			metrics.BreakerOpened(name, model)
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no scoring providers configured: %w", ErrUnavailable)
	}
	return PageScore{}, lastErr
}

func (f *Failover) call(ctx context.Context, prov Provider, page PageImage) (PageScore, time.Duration, error) {
	if f.slots != nil {
		release, err := f.slots.Acquire(ctx, prov.Name(), prov.Model())
		if err != nil {
			return PageScore{}, 0, err
		}
		defer release()
	}
	start := time.Now()
	score, err := prov.ScorePage(ctx, page)
	return score, time.Since(start), err
}
