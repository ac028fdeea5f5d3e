// Package portfolio holds the bot's cash, positions and trade log. The loop is
// the only writer; every reader works from copies.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"meme-surge-bot/internal/exchange"

	"github.com/google/uuid"
)

var (
	ErrUnknownAsset = errors.New("unknown asset")
	ErrNoPosition   = errors.New("no position to sell")
	ErrInvalidFill  = errors.New("invalid fill")
)

type Position struct {
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
}

type TradeLogEntry struct {
	ID        string        `json:"id"`
	Asset     string        `json:"asset"`
	Side      exchange.Side `json:"side"`
	Quantity  float64       `json:"quantity"`
	Price     float64       `json:"price"`
	Timestamp time.Time     `json:"timestamp"`
}

type Snapshot struct {
	Cash         float64             `json:"cash"`
	InitialValue float64             `json:"initial_value"`
	Positions    map[string]Position `json:"positions"`
	Trades       []TradeLogEntry     `json:"trades"`
}

// Fill is a confirmed execution to be booked.
type Fill struct {
	Asset    string
	Side     exchange.Side
	Quantity float64
	Price    float64
	FeeRate  float64
	FxRate   float64
}

type Portfolio struct {
	now func() time.Time

	mu        sync.RWMutex
	assets    []string
	cash      float64
	initial   float64
	positions map[string]Position
	trades    []TradeLogEntry
}

// New creates the portfolio once at startup. Holdings typically come from
// reconciling against exchange balances; assets outside the configured set
// are ignored.
func New(assets []string, cash float64, holdings map[string]float64) *Portfolio {
	p := &Portfolio{
		now:       time.Now,
		assets:    append([]string(nil), assets...),
		cash:      cash,
		initial:   cash,
		positions: make(map[string]Position, len(assets)),
	}
	for _, asset := range assets {
		qty := holdings[asset]
		if qty < 0 || math.IsNaN(qty) {
			qty = 0
		}
		p.positions[asset] = Position{Quantity: qty}
	}
	return p
}

func (p *Portfolio) Assets() []string {
	return append([]string(nil), p.assets...)
}

// MarkEntryPrices gives reconciled positions without an entry price the
// startup price. The drawdown baseline stays the starting cash.
func (p *Portfolio) MarkEntryPrices(prices map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for asset, pos := range p.positions {
		if pos.Quantity > 0 && pos.EntryPrice == 0 {
			pos.EntryPrice = prices[asset]
			p.positions[asset] = pos
		}
	}
}

// InitialValue is the drawdown baseline: the starting capital.
func (p *Portfolio) InitialValue() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.initial
}

func (p *Portfolio) Cash() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cash
}

func (p *Portfolio) Position(asset string) Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[asset]
}

// Value is cash plus every position marked at prices. A missing price marks
// the position at its entry price.
func (p *Portfolio) Value(prices map[string]float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.valueLocked(prices)
}

func (p *Portfolio) valueLocked(prices map[string]float64) float64 {
	value := p.cash
	for asset, pos := range p.positions {
		price, ok := prices[asset]
		if !ok {
			price = pos.EntryPrice
		}
		value += pos.Quantity * price
	}
	return value
}

// Apply books a confirmed fill. Sells are clamped to current holdings. The
// returned entry carries the quantity actually booked.
func (p *Portfolio) Apply(fill Fill) (TradeLogEntry, error) {
	if !(fill.Quantity > 0) || !(fill.Price > 0) || math.IsInf(fill.Quantity, 0) || math.IsInf(fill.Price, 0) {
		return TradeLogEntry{}, fmt.Errorf("%s %v @ %v: %w", fill.Side, fill.Quantity, fill.Price, ErrInvalidFill)
	}
	fx := fill.FxRate
	if fx <= 0 {
		fx = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[fill.Asset]
	if !ok {
		return TradeLogEntry{}, fmt.Errorf("%s: %w", fill.Asset, ErrUnknownAsset)
	}
	qty := fill.Quantity
	switch fill.Side {
	case exchange.SideBuy:
		p.cash -= qty * fill.Price * (1 + fill.FeeRate) * fx
		pos.Quantity += qty
		pos.EntryPrice = fill.Price
	case exchange.SideSell:
		if pos.Quantity <= 0 {
			return TradeLogEntry{}, fmt.Errorf("%s: %w", fill.Asset, ErrNoPosition)
		}
		qty = math.Min(qty, pos.Quantity)
		p.cash += qty * fill.Price * (1 - fill.FeeRate) * fx
		pos.Quantity -= qty
		if pos.Quantity <= 0 {
			pos = Position{}
		}
	default:
		return TradeLogEntry{}, fmt.Errorf("side %q: %w", fill.Side, ErrInvalidFill)
	}
	p.positions[fill.Asset] = pos
	entry := TradeLogEntry{
		ID:        uuid.NewString(),
		Asset:     fill.Asset,
		Side:      fill.Side,
		Quantity:  qty,
		Price:     fill.Price,
		Timestamp: p.now().UTC(),
	}
	p.trades = append(p.trades, entry)
	return entry, nil
}

func (p *Portfolio) LastTrade() (TradeLogEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.trades) == 0 {
		return TradeLogEntry{}, false
	}
	return p.trades[len(p.trades)-1], true
}

// Trades returns up to limit most recent entries, oldest first. A limit of
// zero or less returns the whole log.
func (p *Portfolio) Trades(limit int) []TradeLogEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	start := 0
	if limit > 0 && len(p.trades) > limit {
		start = len(p.trades) - limit
	}
	return append([]TradeLogEntry(nil), p.trades[start:]...)
}

func (p *Portfolio) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	positions := make(map[string]Position, len(p.positions))
	for asset, pos := range p.positions {
		positions[asset] = pos
	}
	return Snapshot{
		Cash:         p.cash,
		InitialValue: p.initial,
		Positions:    positions,
		Trades:       append([]TradeLogEntry(nil), p.trades...),
	}
}
