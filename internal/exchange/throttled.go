package exchange

import (
	"context"

	"meme-surge-bot/internal/ratelimit"
)

// Throttled routes every call through one shared limiter.
type Throttled struct {
	next    Exchange
	limiter *ratelimit.Limiter
}

func NewThrottled(next Exchange, limiter *ratelimit.Limiter) *Throttled {
	return &Throttled{next: next, limiter: limiter}
}

func (t *Throttled) Balance(ctx context.Context) (map[string]float64, error) {
	if err := t.limiter.Throttle(ctx); err != nil {
		return nil, err
	}
	return t.next.Balance(ctx)
}

func (t *Throttled) Ticker(ctx context.Context, asset string) (Ticker, error) {
	if err := t.limiter.Throttle(ctx); err != nil {
		return Ticker{}, err
	}
	return t.next.Ticker(ctx, asset)
}

func (t *Throttled) History(ctx context.Context, asset string, interval int) ([]Bar, error) {
	if err := t.limiter.Throttle(ctx); err != nil {
		return nil, err
	}
	return t.next.History(ctx, asset, interval)
}

func (t *Throttled) PlaceMarketOrder(ctx context.Context, req OrderRequest) (Confirmation, error) {
	if err := t.limiter.Throttle(ctx); err != nil {
		return Confirmation{}, err
	}
	return t.next.PlaceMarketOrder(ctx, req)
}
