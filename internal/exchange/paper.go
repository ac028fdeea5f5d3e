package exchange

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaperAsset struct {
	Symbol         string
	BalanceCode    string
	ReferencePrice float64
}

type PaperConfig struct {
	Assets         []PaperAsset
	Balances       map[string]float64
	NativeCurrency string
	FeeRate        float64
	Volatility     float64
	HistoryBars    int
	Seed           int64
}

// Paper is an in-process venue: prices follow a log-normal random walk from
// the reference price and market orders fill immediately at the last price.
type Paper struct {
	native      string
	fee         decimal.Decimal
	volatility  float64
	historyBars int
	now         func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	assets   map[string]PaperAsset
	prices   map[string]float64
	balances map[string]decimal.Decimal
}

func NewPaper(cfg PaperConfig) *Paper {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	bars := cfg.HistoryBars
	if bars <= 0 {
		bars = 60
	}
	p := &Paper{
		native:      strings.TrimSpace(cfg.NativeCurrency),
		fee:         decimal.NewFromFloat(cfg.FeeRate),
		volatility:  cfg.Volatility,
		historyBars: bars,
		now:         time.Now,
		rng:         rand.New(rand.NewSource(seed)),
		assets:      make(map[string]PaperAsset, len(cfg.Assets)),
		prices:      make(map[string]float64, len(cfg.Assets)),
		balances:    make(map[string]decimal.Decimal, len(cfg.Balances)),
	}
	for _, asset := range cfg.Assets {
		p.assets[asset.Symbol] = asset
		p.prices[asset.Symbol] = asset.ReferencePrice
	}
	for code, amount := range cfg.Balances {
		p.balances[code] = decimal.NewFromFloat(amount)
	}
	return p
}

func (p *Paper) Balance(ctx context.Context) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.balances))
	for code, amount := range p.balances {
		out[code] = amount.InexactFloat64()
	}
	return out, nil
}

func (p *Paper) Ticker(ctx context.Context, asset string) (Ticker, error) {
	if err := ctx.Err(); err != nil {
		return Ticker{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.assets[asset]; !ok {
		return Ticker{}, fmt.Errorf("unknown paper asset %s: %w", asset, ErrNoData)
	}
	price := p.step(asset)
	return Ticker{Asset: asset, Last: price, Bid: price, Ask: price, Time: p.now().UTC()}, nil
}

// History returns bars ending at the current price without advancing it.
func (p *Paper) History(ctx context.Context, asset string, interval int) ([]Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.assets[asset]; !ok {
		return nil, fmt.Errorf("unknown paper asset %s: %w", asset, ErrNoData)
	}
	closes := make([]float64, p.historyBars)
	price := p.prices[asset]
	for i := len(closes) - 1; i >= 0; i-- {
		closes[i] = price
		price = price / math.Exp(p.rng.NormFloat64()*p.volatility)
	}
	step := time.Duration(interval) * time.Minute
	end := p.now().UTC().Truncate(step)
	bars := make([]Bar, len(closes))
	open := price
	for i, closePrice := range closes {
		bars[i] = Bar{
			Time:   end.Add(-time.Duration(len(closes)-1-i) * step),
			Open:   open,
			High:   math.Max(open, closePrice),
			Low:    math.Min(open, closePrice),
			Close:  closePrice,
			Volume: 1000 + p.rng.Float64()*9000,
		}
		open = closePrice
	}
	return bars, nil
}

func (p *Paper) PlaceMarketOrder(ctx context.Context, req OrderRequest) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	asset, ok := p.assets[req.Asset]
	if !ok {
		return Confirmation{}, fmt.Errorf("unknown paper asset %s: %w", req.Asset, ErrRejected)
	}
	if req.Quantity <= 0 || math.IsNaN(req.Quantity) || math.IsInf(req.Quantity, 0) {
		return Confirmation{}, fmt.Errorf("invalid volume %v: %w", req.Quantity, ErrRejected)
	}
	qty := decimal.NewFromFloat(req.Quantity)
	notional := qty.Mul(decimal.NewFromFloat(p.prices[req.Asset]))
	one := decimal.NewFromInt(1)
	switch req.Side {
	case SideBuy:
		cost := notional.Mul(one.Add(p.fee))
		if p.balances[p.native].LessThan(cost) {
			return Confirmation{}, fmt.Errorf("insufficient %s for %s: %w", p.native, req.Asset, ErrRejected)
		}
		p.balances[p.native] = p.balances[p.native].Sub(cost)
		p.balances[asset.BalanceCode] = p.balances[asset.BalanceCode].Add(qty)
	case SideSell:
		if p.balances[asset.BalanceCode].LessThan(qty) {
			return Confirmation{}, fmt.Errorf("insufficient %s holdings: %w", asset.BalanceCode, ErrRejected)
		}
		p.balances[asset.BalanceCode] = p.balances[asset.BalanceCode].Sub(qty)
		p.balances[p.native] = p.balances[p.native].Add(notional.Mul(one.Sub(p.fee)))
	default:
		return Confirmation{}, fmt.Errorf("unknown side %q: %w", req.Side, ErrRejected)
	}
	return Confirmation{
		OrderIDs:    []string{"PAPER-" + strings.ToUpper(uuid.NewString()[:8])},
		Description: fmt.Sprintf("%s %s %s @ market", req.Side, qty.String(), req.Asset),
		Volume:      qty.InexactFloat64(),
	}, nil
}

func (p *Paper) step(asset string) float64 {
	price := p.prices[asset] * math.Exp(p.rng.NormFloat64()*p.volatility)
	p.prices[asset] = price
	return price
}
