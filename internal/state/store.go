package state

import (
	"context"

	"meme-surge-bot/internal/portfolio"
)

type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// TradeLog is the durable copy of booked trades.
type TradeLog interface {
	AppendTrade(ctx context.Context, entry portfolio.TradeLogEntry) error
	RecentTrades(ctx context.Context, limit int) ([]portfolio.TradeLogEntry, error)
}

// DecisionJournal records what the loop saw and decided each cycle.
type DecisionJournal interface {
	AppendDecision(ctx context.Context, decision Decision) error
	RecentDecisions(ctx context.Context, limit int) ([]Decision, error)
}
