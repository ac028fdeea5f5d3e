// Package account reconciles the bot's starting holdings against exchange
// balances.
package account

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"meme-surge-bot/internal/config"
	"meme-surge-bot/internal/exchange"

	"go.uber.org/zap"
)

type Asset struct {
	Symbol      string
	BalanceCode string
}

type Config struct {
	Assets         []Asset
	CashSource     string
	Capital        float64
	NativeCurrency string
	AltCurrency    string
	FxRate         float64
	RetryAttempts  int
	RetryBackoff   time.Duration
}

// ConfigFrom derives reconciliation settings from the loaded config.
func ConfigFrom(cfg *config.Config) Config {
	assets := make([]Asset, 0, len(cfg.Trading.Assets))
	for _, asset := range cfg.Trading.Assets {
		assets = append(assets, Asset{Symbol: asset.Symbol, BalanceCode: asset.BalanceCode})
	}
	return Config{
		Assets:         assets,
		CashSource:     cfg.Trading.CashSource,
		Capital:        cfg.Trading.Capital,
		NativeCurrency: cfg.Exchange.NativeCurrency,
		AltCurrency:    cfg.Exchange.AltCurrency,
		FxRate:         cfg.Risk.FxRate,
		RetryAttempts:  cfg.Exchange.RetryAttempts,
	}
}

// Holdings is the reconciled starting point for the portfolio.
type Holdings struct {
	Positions map[string]float64
	Cash      float64
	Balances  map[string]float64
}

type Account struct {
	ex  exchange.Exchange
	cfg Config
	log *zap.Logger

	mu   sync.RWMutex
	last Holdings
}

func New(ex exchange.Exchange, cfg Config, log *zap.Logger) *Account {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Account{ex: ex, cfg: cfg, log: log}
}

// Reconcile reads balances once, retrying transient failures. Authentication
// failures are returned unchanged so startup can abort on them.
func (a *Account) Reconcile(ctx context.Context) (Holdings, error) {
	if a.ex == nil {
		return Holdings{}, errors.New("exchange is required")
	}
	var balances map[string]float64
	backoff := a.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		var err error
		balances, err = a.ex.Balance(ctx)
		if err == nil {
			break
		}
		if errors.Is(err, exchange.ErrAuth) {
			return Holdings{}, fmt.Errorf("reconcile balances: %w", err)
		}
		if !exchange.IsTransient(err) || attempt >= a.cfg.RetryAttempts {
			return Holdings{}, fmt.Errorf("reconcile balances after %d attempts: %w", attempt, err)
		}
		a.log.Warn("balance query failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return Holdings{}, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	holdings := a.holdingsFrom(balances)
	a.mu.Lock()
	a.last = copyHoldings(holdings)
	a.mu.Unlock()
	fields := []zap.Field{zap.Float64("cash", holdings.Cash), zap.String("cash_source", a.cfg.CashSource)}
	for symbol, qty := range holdings.Positions {
		fields = append(fields, zap.Float64(symbol, qty))
	}
	a.log.Info("account reconciled", fields...)
	return holdings, nil
}

func (a *Account) holdingsFrom(balances map[string]float64) Holdings {
	holdings := Holdings{
		Positions: make(map[string]float64, len(a.cfg.Assets)),
		Balances:  copyFloatMap(balances),
		Cash:      a.cfg.Capital,
	}
	for _, asset := range a.cfg.Assets {
		holdings.Positions[asset.Symbol] = sanitize(balances[balanceCode(asset)])
	}
	if a.cfg.CashSource == config.CashSourceExchange {
		holdings.Cash = ExchangeCash(balances, a.cfg.NativeCurrency, a.cfg.AltCurrency, a.cfg.FxRate)
	}
	return holdings
}

// ExchangeCash expresses both quote balances in the alternate currency:
// alt + native × fx.
func ExchangeCash(balances map[string]float64, native, alt string, fx float64) float64 {
	if fx <= 0 {
		fx = 1
	}
	return sanitize(balances[alt]) + sanitize(balances[native])*fx
}

func (a *Account) Snapshot() Holdings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return copyHoldings(a.last)
}

func balanceCode(asset Asset) string {
	if code := strings.TrimSpace(asset.BalanceCode); code != "" {
		return code
	}
	return strings.TrimSuffix(strings.ToUpper(asset.Symbol), "USD")
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func copyHoldings(h Holdings) Holdings {
	return Holdings{
		Positions: copyFloatMap(h.Positions),
		Cash:      h.Cash,
		Balances:  copyFloatMap(h.Balances),
	}
}

func copyFloatMap(src map[string]float64) map[string]float64 {
	if src == nil {
		return nil
	}
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
