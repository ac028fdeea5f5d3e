package app

import (
	"context"
	"fmt"

	"meme-surge-bot/internal/market"
	"meme-surge-bot/internal/portfolio"
	"meme-surge-bot/internal/state"
	"meme-surge-bot/internal/strategy"
	"meme-surge-bot/internal/timescale"
)

func (a *App) recordBars(series []market.Series) {
	if a.timescale == nil {
		return
	}
	for _, s := range series {
		if len(s.Bars) == 0 {
			continue
		}
		bar := s.Bars[len(s.Bars)-1]
		a.timescale.EnqueueBar(timescale.Bar{
			Asset:    s.Asset,
			Interval: a.cfg.Exchange.HistoryInterval,
			Start:    bar.Time,
			Open:     bar.Open,
			High:     bar.High,
			Low:      bar.Low,
			Close:    bar.Close,
			Volume:   bar.Volume,
			Fallback: s.Degraded(),
		})
	}
}

func (a *App) recordPortfolio(decision state.Decision) {
	if a.timescale == nil {
		return
	}
	a.timescale.EnqueuePortfolio(timescale.PortfolioSnapshot{
		Time:     decision.Time,
		Status:   decision.Status,
		Value:    decision.Value,
		Cash:     a.portfolio.Cash(),
		Drawdown: strategy.Drawdown(a.portfolio.InitialValue(), decision.Value),
		Degraded: decision.Degraded,
	})
}

// tradeRecorder fans booked trades out to the durable log, the timescale
// queue and the fill alert. Only the durable log can fail the append.
type tradeRecorder struct {
	app *App
}

func (r *tradeRecorder) AppendTrade(ctx context.Context, entry portfolio.TradeLogEntry) error {
	a := r.app
	a.timescale.EnqueueTrade(timescale.Trade{
		ID:       entry.ID,
		Time:     entry.Timestamp,
		Asset:    entry.Asset,
		Side:     string(entry.Side),
		Quantity: entry.Quantity,
		Price:    entry.Price,
	})
	a.notify(ctx, fmt.Sprintf("%s %s %.8g %s @ %.8g", a.cfg.Bot.Name, entry.Side, entry.Quantity, entry.Asset, entry.Price))
	if a.trades == nil {
		return nil
	}
	return a.trades.AppendTrade(ctx, entry)
}
