package policy

import (
	"context"
	"math"
)

// Momentum trades in the direction of recent returns, nudged by sentiment.
type Momentum struct {
	assets        int
	momentumGain  float64
	sentimentGain float64
	fractionScale float64
}

func NewMomentum(assets int, momentumGain, sentimentGain, fractionScale float64) *Momentum {
	return &Momentum{
		assets:        assets,
		momentumGain:  momentumGain,
		sentimentGain: sentimentGain,
		fractionScale: fractionScale,
	}
}

func (m *Momentum) Predict(ctx context.Context, observation []float64) ([]float64, error) {
	if err := checkShape(observation, m.assets); err != nil {
		return nil, err
	}
	n := m.assets
	sentiment := observation[2*n : 3*n]
	momentum := observation[3*n : 4*n]
	out := make([]float64, 0, 2*n)
	for i := 0; i < n; i++ {
		typ := math.Tanh(m.momentumGain*momentum[i] + m.sentimentGain*(sentiment[i]-0.5))
		frac := math.Max(0, math.Min(1, math.Abs(momentum[i])*m.fractionScale))
		out = append(out, typ, frac)
	}
	return out, nil
}
