package app

import (
	"context"
	"time"

	"meme-surge-bot/internal/portfolio"
	"meme-surge-bot/internal/server"
	"meme-surge-bot/internal/state"

	"go.uber.org/zap"
)

func (a *App) buildStatus(value float64, degraded bool) state.StatusSnapshot {
	snap := a.portfolio.Snapshot()
	positions := make(map[string]float64, len(snap.Positions))
	for asset, pos := range snap.Positions {
		positions[asset] = pos.Quantity
	}
	status := state.StatusSnapshot{
		BotName:        a.cfg.Bot.Name,
		Status:         string(a.governor.Status()),
		PortfolioValue: value,
		Positions:      positions,
		Cash:           snap.Cash,
		InitialValue:   snap.InitialValue,
		Degraded:       degraded,
		UpdatedAt:      time.Now().UTC(),
	}
	if last, ok := a.portfolio.LastTrade(); ok {
		status.LastTrade = &last
	}
	return status
}

// publishStatus replaces the in-memory snapshot and fans it out to the
// store, the status file and stream clients. Sink failures only warn.
func (a *App) publishStatus(ctx context.Context, value float64, degraded bool) {
	snap := a.buildStatus(value, degraded)
	a.mu.Lock()
	a.status = snap
	a.mu.Unlock()
	if a.store != nil {
		if err := state.SaveStatusSnapshot(ctx, a.store, snap); err != nil {
			a.log.Warn("status snapshot persist failed", zap.Error(err))
		}
	}
	if err := state.WriteStatusFile(a.cfg.State.StatusFile, snap); err != nil {
		a.log.Warn("status file write failed", zap.String("path", a.cfg.State.StatusFile), zap.Error(err))
	}
	a.server.Publish(snap)
}

// Status returns a copy of the last published snapshot.
func (a *App) Status() state.StatusSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap := a.status
	snap.Positions = copyPrices(a.status.Positions)
	if a.status.LastTrade != nil {
		last := *a.status.LastTrade
		snap.LastTrade = &last
	}
	return snap
}

func (a *App) Portfolio() server.PortfolioView {
	if a.portfolio == nil {
		return server.PortfolioView{Assets: []server.AssetValue{}}
	}
	a.mu.RLock()
	prices := copyPrices(a.prices)
	a.mu.RUnlock()
	snap := a.portfolio.Snapshot()
	view := server.PortfolioView{
		Value:        a.portfolio.Value(prices),
		Cash:         snap.Cash,
		InitialValue: snap.InitialValue,
		Assets:       make([]server.AssetValue, 0, len(snap.Positions)),
	}
	for _, asset := range a.portfolio.Assets() {
		pos := snap.Positions[asset]
		view.Assets = append(view.Assets, server.AssetValue{
			Asset:    asset,
			Quantity: pos.Quantity,
			Price:    prices[asset],
			Value:    pos.Quantity * prices[asset],
		})
	}
	return view
}

// RecentTrades prefers the durable log and falls back to the in-memory one.
func (a *App) RecentTrades(ctx context.Context, limit int) ([]portfolio.TradeLogEntry, error) {
	if a.trades != nil {
		return a.trades.RecentTrades(ctx, limit)
	}
	if a.portfolio == nil {
		return nil, nil
	}
	return a.portfolio.Trades(limit), nil
}
