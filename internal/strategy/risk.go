package strategy

import (
	"math"

	"meme-surge-bot/internal/config"
)

// Limits are the capital-preservation parameters, fixed after load.
type Limits struct {
	MaxDrawdown     float64
	MaxPositionSize float64
	MinOrderSize    map[string]float64
	FeeRate         float64
	FxRate          float64
	BuyThreshold    float64
	SellThreshold   float64
}

func LimitsFromConfig(cfg config.RiskConfig) Limits {
	minOrder := make(map[string]float64, len(cfg.MinOrderSize))
	for asset, size := range cfg.MinOrderSize {
		minOrder[asset] = size
	}
	return Limits{
		MaxDrawdown:     cfg.MaxDrawdown,
		MaxPositionSize: cfg.MaxPositionSize,
		MinOrderSize:    minOrder,
		FeeRate:         cfg.FeeRate,
		FxRate:          cfg.FxRate,
		BuyThreshold:    cfg.BuyThreshold,
		SellThreshold:   cfg.SellThreshold,
	}
}

// Sizing carries the intermediate terms of SizeOrder so callers can log why
// a quantity came out the way it did.
type Sizing struct {
	Quantity   float64
	Raw        float64
	Multiplier float64
	Cap        float64
	MinOrder   float64
	// Floored reports that the minimum order size lifted the quantity,
	// possibly above Cap.
	Floored bool
}

// Governor owns the loop's status and applies the drawdown circuit breaker.
type Governor struct {
	limits Limits
	sm     *StateMachine
}

func NewGovernor(limits Limits, sm *StateMachine) *Governor {
	if sm == nil {
		sm = NewStateMachine()
	}
	return &Governor{limits: limits, sm: sm}
}

func (g *Governor) Limits() Limits {
	return g.limits
}

func (g *Governor) Status() Status {
	return g.sm.Status()
}

func (g *Governor) Start() Status {
	return g.sm.Apply(EventStart)
}

func (g *Governor) Pause() Status {
	return g.sm.Apply(EventOperatorPause)
}

// CheckDrawdown reports whether trading may continue. A breach moves the
// loop to Paused and stays there.
func (g *Governor) CheckDrawdown(initial, value float64) bool {
	if Drawdown(initial, value) > g.limits.MaxDrawdown {
		g.sm.Apply(EventDrawdownBreach)
		return false
	}
	return g.sm.Status() == StatusRunning
}

func (g *Governor) SizeOrder(asset string, fraction, momentum, value, price float64) Sizing {
	return SizeOrder(g.limits, asset, fraction, momentum, value, price)
}

func (g *Governor) Intent(action Action) Intent {
	return IntentFor(action, g.limits.BuyThreshold, g.limits.SellThreshold)
}

func Drawdown(initial, value float64) float64 {
	if initial <= 0 {
		return 0
	}
	return (initial - value) / initial
}

// SizeOrder scales the policy fraction by the momentum multiplier
// 0.5 + 2*clamp(momentum, -0.5, 0.5), caps it at max_position_size of
// portfolio value and floors it at the asset's minimum order size. The
// multiplier spans [-0.5, 1.5]; a negative product is floored to the minimum.
func SizeOrder(limits Limits, asset string, fraction, momentum, value, price float64) Sizing {
	sizing := Sizing{MinOrder: limits.MinOrderSize[asset]}
	if price <= 0 || value <= 0 || math.IsNaN(price) || math.IsNaN(value) {
		return sizing
	}
	sizing.Raw = math.Abs(fraction) * value / price
	sizing.Multiplier = 0.5 + clamp(momentum, -0.5, 0.5)*2
	sizing.Cap = limits.MaxPositionSize * value / price
	qty := math.Min(sizing.Raw*sizing.Multiplier, sizing.Cap)
	if qty < sizing.MinOrder {
		qty = sizing.MinOrder
		sizing.Floored = true
	}
	sizing.Quantity = qty
	return sizing
}

func IntentFor(action Action, buyThreshold, sellThreshold float64) Intent {
	switch {
	case action.Type > buyThreshold:
		return IntentBuy
	case action.Type < -sellThreshold:
		return IntentSell
	default:
		return IntentHold
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
