package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"meme-surge-bot/internal/exchange"
	"meme-surge-bot/internal/exec"
	"meme-surge-bot/internal/market"
	"meme-surge-bot/internal/state"
	"meme-surge-bot/internal/strategy"

	"go.uber.org/zap"
)

const (
	skipDrawdown = "drawdown breach"
	skipPaused   = "paused"
	skipDegraded = "degraded market data"
	skipInvalid  = "invalid observation"
)

// cycle runs one observe, decide, act pass. Invalid observations or actions
// skip trading for this cycle; other errors abort it before any order is
// placed. Per-order failures are logged and skipped.
func (a *App) cycle(ctx context.Context) error {
	symbols := a.cfg.Symbols()
	n := len(symbols)
	decision := state.Decision{Cycle: a.nextCycle(), Time: time.Now().UTC()}
	log := a.log.With(zap.Int64("cycle", decision.Cycle))

	series := make([]market.Series, n)
	for i, asset := range symbols {
		s, err := a.feed.Fetch(ctx, asset)
		if err != nil {
			return err
		}
		series[i] = s
		decision.Degraded = decision.Degraded || s.Degraded()
	}
	a.recordBars(series)

	prices, tickerDegraded, err := a.currentPrices(ctx)
	if err != nil {
		return err
	}
	decision.Degraded = decision.Degraded || tickerDegraded
	value := a.portfolio.Value(prices)
	initial := a.portfolio.InitialValue()
	decision.Value = value
	a.metrics.PortfolioValue.Set(value)
	a.metrics.Cash.Set(a.portfolio.Cash())

	wasRunning := a.governor.Status() == strategy.StatusRunning
	if !a.governor.CheckDrawdown(initial, value) {
		reason := skipPaused
		if dd := strategy.Drawdown(initial, value); wasRunning && dd > a.governor.Limits().MaxDrawdown {
			reason = skipDrawdown
			a.metrics.DrawdownPauses.Inc()
			log.Error("max drawdown exceeded, trading paused",
				zap.Float64("initial_value", initial),
				zap.Float64("value", value),
				zap.Float64("drawdown", dd),
				zap.Float64("max_drawdown", a.governor.Limits().MaxDrawdown),
			)
			a.notify(ctx, fmt.Sprintf("%s paused: drawdown %.2f%% exceeds %.2f%% (value %.2f, initial %.2f)",
				a.cfg.Bot.Name, dd*100, a.governor.Limits().MaxDrawdown*100, value, initial))
		}
		return a.skip(ctx, decision, reason)
	}
	if decision.Degraded && !a.cfg.Risk.TradeOnDegradedDataValue() {
		log.Warn("skipping trades on degraded market data")
		return a.skip(ctx, decision, skipDegraded)
	}

	scores := a.sentimentScores(ctx, n)
	if err := ctx.Err(); err != nil {
		return err
	}
	in := strategy.ObservationInput{
		Prices:         make([]float64, n),
		Volumes:        make([]float64, n),
		Sentiment:      scores,
		Momentum:       make([]float64, n),
		PositionValues: make([]float64, n),
		Cash:           a.portfolio.Cash(),
	}
	for i, asset := range symbols {
		in.Prices[i] = prices[asset]
		in.Volumes[i] = series[i].LastVolume()
		in.Momentum[i] = strategy.ComputeMomentum(series[i].Closes())
		in.PositionValues[i] = a.portfolio.Position(asset).Quantity * prices[asset]
	}
	obs, err := strategy.BuildObservation(in)
	if err != nil {
		log.Error("invalid observation, skipping trades", zap.Error(err))
		return a.skip(ctx, decision, skipInvalid)
	}
	decision.Observation = obs
	raw, err := a.policy.Predict(ctx, obs)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	actions, err := strategy.ParseActions(raw, n)
	if err != nil {
		log.Error("invalid policy actions, skipping trades", zap.Error(err))
		return a.skip(ctx, decision, skipInvalid)
	}
	decision.Actions = actions

	for i, asset := range symbols {
		order, ok := a.planOrder(log, asset, actions[i], in.Momentum[i], value, prices[asset])
		if !ok {
			continue
		}
		res, err := a.executor.Execute(ctx, order)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !isOrderRejection(err) {
				log.Error("order execution failed", zap.String("asset", asset), zap.Error(err))
			}
			continue
		}
		decision.Orders = append(decision.Orders, res.Confirmation.OrderIDs...)
	}

	a.finishCycle(ctx, decision, prices)
	a.metrics.CyclesCompleted.Inc()
	log.Info("trading cycle completed",
		zap.Float64("value", decision.Value),
		zap.Int("orders", len(decision.Orders)),
		zap.Bool("degraded", decision.Degraded),
	)
	return nil
}

// planOrder maps one policy action to a sized order. Holds and sells
// without a minimum-size position produce nothing.
func (a *App) planOrder(log *zap.Logger, asset string, action strategy.Action, momentum, value, price float64) (exec.Order, bool) {
	switch a.governor.Intent(action) {
	case strategy.IntentBuy:
		sizing := a.governor.SizeOrder(asset, action.Fraction, momentum, value, price)
		if sizing.Quantity <= 0 {
			return exec.Order{}, false
		}
		if sizing.Floored && sizing.Quantity > sizing.Cap {
			log.Warn("minimum order size exceeds position cap",
				zap.String("asset", asset),
				zap.Float64("quantity", sizing.Quantity),
				zap.Float64("cap", sizing.Cap),
			)
		}
		return exec.Order{Asset: asset, Side: exchange.SideBuy, Quantity: sizing.Quantity, Price: price}, true
	case strategy.IntentSell:
		held := a.portfolio.Position(asset).Quantity
		sizing := a.governor.SizeOrder(asset, action.Fraction, momentum, value, price)
		if held <= 0 || held < sizing.MinOrder {
			log.Debug("sell signal without sellable position", zap.String("asset", asset), zap.Float64("held", held))
			return exec.Order{}, false
		}
		return exec.Order{Asset: asset, Side: exchange.SideSell, Quantity: math.Min(sizing.Quantity, held), Price: price}, true
	default:
		return exec.Order{}, false
	}
}

func isOrderRejection(err error) bool {
	return errors.Is(err, exec.ErrBelowMinimum) ||
		errors.Is(err, exec.ErrInsufficientFunds) ||
		errors.Is(err, exec.ErrOrderFailed)
}

func (a *App) skip(ctx context.Context, decision state.Decision, reason string) error {
	decision.Skipped = reason
	a.metrics.CyclesSkipped.Inc()
	a.mu.RLock()
	prices := copyPrices(a.prices)
	a.mu.RUnlock()
	a.finishCycle(ctx, decision, prices)
	return nil
}

func (a *App) finishCycle(ctx context.Context, decision state.Decision, prices map[string]float64) {
	value := a.portfolio.Value(prices)
	decision.Value = value
	decision.Status = string(a.governor.Status())
	a.publishStatus(ctx, value, decision.Degraded)
	if a.journal != nil {
		if err := a.journal.AppendDecision(ctx, decision); err != nil {
			a.log.Warn("decision journal append failed", zap.Int64("cycle", decision.Cycle), zap.Error(err))
		}
	}
	a.recordPortfolio(decision)
}

// currentPrices reads a ticker per asset. A failed ticker falls back to the
// latest live close, then to the reference price, and marks the set
// degraded.
func (a *App) currentPrices(ctx context.Context) (map[string]float64, bool, error) {
	prices := make(map[string]float64, len(a.cfg.Trading.Assets))
	degraded := false
	for _, asset := range a.cfg.Trading.Assets {
		ticker, err := a.exchange.Ticker(ctx, asset.Symbol)
		if err == nil && ticker.Last > 0 && !math.IsNaN(ticker.Last) && !math.IsInf(ticker.Last, 0) {
			prices[asset.Symbol] = ticker.Last
			continue
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		degraded = true
		price := asset.ReferencePrice
		if s, ok := a.feed.Latest(asset.Symbol); ok && !s.Degraded() && s.LastClose() > 0 {
			price = s.LastClose()
		}
		a.log.Warn("ticker unavailable, using fallback price",
			zap.String("asset", asset.Symbol),
			zap.Float64("price", price),
			zap.Error(err),
		)
		prices[asset.Symbol] = price
	}
	a.mu.Lock()
	a.prices = copyPrices(prices)
	a.mu.Unlock()
	return prices, degraded, nil
}

func (a *App) sentimentScores(ctx context.Context, n int) []float64 {
	neutral := func() []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = a.cfg.Sentiment.NeutralValue()
		}
		return out
	}
	if a.sentiment == nil {
		return neutral()
	}
	scores, err := a.sentiment.Scores(ctx)
	if err != nil || len(scores) != n {
		if ctx.Err() == nil {
			a.log.Warn("sentiment unavailable, using neutral scores", zap.Int("scores", len(scores)), zap.Error(err))
		}
		return neutral()
	}
	return scores
}

func (a *App) nextCycle() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cycles++
	return a.cycles
}

func copyPrices(src map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
