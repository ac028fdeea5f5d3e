package exec

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"meme-surge-bot/internal/exchange"
	"meme-surge-bot/internal/metrics"
	"meme-surge-bot/internal/portfolio"
	"meme-surge-bot/internal/strategy"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrBelowMinimum      = errors.New("order below minimum size")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderFailed       = errors.New("order submission failed")
)

// TradeSink persists booked trades. Failures are logged, never propagated:
// the in-memory trade log stays authoritative for the running process.
type TradeSink interface {
	AppendTrade(ctx context.Context, entry portfolio.TradeLogEntry) error
}

type Config struct {
	Limits         strategy.Limits
	NativeCurrency string
	AltCurrency    string
	RetryAttempts  int
	RetryBackoff   time.Duration
}

type Order struct {
	Asset    string
	Side     exchange.Side
	Quantity float64
	Price    float64
}

type Result struct {
	Entry        portfolio.TradeLogEntry
	Confirmation exchange.Confirmation
}

type Executor struct {
	exchange  exchange.Exchange
	portfolio *portfolio.Portfolio
	trades    TradeSink
	cfg       Config
	log       *zap.Logger
	metrics   *metrics.Metrics
	newID     func() string
}

func New(cfg Config, ex exchange.Exchange, pf *portfolio.Portfolio, trades TradeSink, log *zap.Logger, m *metrics.Metrics) *Executor {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Executor{
		exchange:  ex,
		portfolio: pf,
		trades:    trades,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		newID:     uuid.NewString,
	}
}

// FundsCheck is the outcome of a dual-currency affordability test.
type FundsCheck struct {
	RequiredNative float64
	RequiredAlt    float64
	NativeBalance  float64
	AltBalance     float64
	Via            string
}

func (f FundsCheck) OK() bool {
	return f.Via != ""
}

// EvaluateFunds passes when either currency alone covers the cost. The two
// balances are never summed.
func EvaluateFunds(balances map[string]float64, native, alt string, qty, price, feeRate, fxRate float64) FundsCheck {
	usd := qty * price * (1 + feeRate)
	check := FundsCheck{
		RequiredNative: usd,
		RequiredAlt:    usd * fxRate,
		NativeBalance:  balances[native],
		AltBalance:     balances[alt],
	}
	switch {
	case check.NativeBalance >= check.RequiredNative:
		check.Via = native
	case check.AltBalance >= check.RequiredAlt:
		check.Via = alt
	}
	return check
}

// CheckFunds reads live balances, retrying transient failures.
func (e *Executor) CheckFunds(ctx context.Context, qty, price float64) (FundsCheck, error) {
	var balances map[string]float64
	err := e.retry(ctx, func() error {
		var err error
		balances, err = e.exchange.Balance(ctx)
		return err
	})
	if err != nil {
		return FundsCheck{}, err
	}
	limits := e.cfg.Limits
	return EvaluateFunds(balances, e.cfg.NativeCurrency, e.cfg.AltCurrency, qty, price, limits.FeeRate, limits.FxRate), nil
}

// Execute submits a market order and books it only after confirmation. Both
// sides must pass the funds check first. Any failure before or during
// submission leaves the portfolio untouched. The booked quantity is the
// volume the venue accepted.
func (e *Executor) Execute(ctx context.Context, order Order) (Result, error) {
	log := e.log.With(zap.String("asset", order.Asset), zap.String("side", string(order.Side)))
	if math.IsNaN(order.Quantity) || math.IsNaN(order.Price) || order.Price <= 0 {
		e.metrics.OrdersRejected.Inc()
		return Result{}, fmt.Errorf("%s %s: unpriced order: %w", order.Side, order.Asset, ErrBelowMinimum)
	}
	minOrder := e.cfg.Limits.MinOrderSize[order.Asset]
	qty := order.Quantity
	switch order.Side {
	case exchange.SideBuy:
	case exchange.SideSell:
		qty = math.Min(qty, e.portfolio.Position(order.Asset).Quantity)
	default:
		return Result{}, fmt.Errorf("unknown side %q", order.Side)
	}
	if qty <= 0 || qty < minOrder {
		e.metrics.OrdersRejected.Inc()
		log.Warn("order rejected below minimum", zap.Float64("quantity", qty), zap.Float64("min_order", minOrder))
		return Result{}, fmt.Errorf("%s %s %.8f < %.8f: %w", order.Side, order.Asset, qty, minOrder, ErrBelowMinimum)
	}
	check, err := e.CheckFunds(ctx, qty, order.Price)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		log.Warn("funds check failed", zap.Error(err))
		return Result{}, fmt.Errorf("funds check %s: %w", order.Asset, err)
	}
	if !check.OK() {
		e.metrics.OrdersRejected.Inc()
		log.Warn("order rejected on insufficient funds",
			zap.Float64("required_native", check.RequiredNative),
			zap.Float64("native_balance", check.NativeBalance),
			zap.Float64("required_alt", check.RequiredAlt),
			zap.Float64("alt_balance", check.AltBalance),
		)
		return Result{}, fmt.Errorf("%s %s: %w", order.Side, order.Asset, ErrInsufficientFunds)
	}
	log.Debug("funds check passed", zap.String("via", check.Via))
	conf, err := e.exchange.PlaceMarketOrder(ctx, exchange.OrderRequest{
		Asset:         order.Asset,
		Side:          order.Side,
		Quantity:      qty,
		ClientOrderID: e.newID(),
	})
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		log.Warn("order submission failed", zap.Float64("quantity", qty), zap.Error(err))
		return Result{}, fmt.Errorf("%s %s: %v: %w", order.Side, order.Asset, err, ErrOrderFailed)
	}
	if conf.Volume > 0 && conf.Volume != qty {
		log.Debug("venue adjusted order volume", zap.Float64("requested", qty), zap.Float64("accepted", conf.Volume))
		qty = conf.Volume
	}
	limits := e.cfg.Limits
	entry, err := e.portfolio.Apply(portfolio.Fill{
		Asset:    order.Asset,
		Side:     order.Side,
		Quantity: qty,
		Price:    order.Price,
		FeeRate:  limits.FeeRate,
		FxRate:   limits.FxRate,
	})
	if err != nil {
		log.Error("confirmed order could not be booked", zap.Strings("order_ids", conf.OrderIDs), zap.Error(err))
		return Result{Confirmation: conf}, err
	}
	e.metrics.OrdersPlaced.Inc()
	log.Info("order filled",
		zap.Float64("quantity", entry.Quantity),
		zap.Float64("price", entry.Price),
		zap.Strings("order_ids", conf.OrderIDs),
	)
	if e.trades != nil {
		if err := e.trades.AppendTrade(ctx, entry); err != nil {
			log.Warn("failed to persist trade", zap.String("trade_id", entry.ID), zap.Error(err))
		}
	}
	return Result{Entry: entry, Confirmation: conf}, nil
}

// retry re-runs fn only on transient venue errors, with doubling backoff.
func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := e.cfg.RetryBackoff
	attempts := e.cfg.RetryAttempts
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !exchange.IsTransient(err) || attempt == attempts-1 {
			return fmt.Errorf("after %d attempts: %w", attempt+1, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}
