package strategy

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidObservation = errors.New("invalid observation")
	ErrInvalidActions     = errors.New("invalid policy actions")
)

const (
	momentumMinBars  = 20
	shortLookback    = 4
	longLookback     = 19
	shortWeight      = 0.7
	longWeight       = 0.3
	observationParts = 5
)

// ComputeMomentum blends short and long lookback returns of the closes.
// Fewer than 20 closes yield zero.
func ComputeMomentum(closes []float64) float64 {
	n := len(closes)
	if n < momentumMinBars {
		return 0
	}
	last := closes[n-1]
	short := closes[n-1-shortLookback]
	long := closes[n-1-longLookback]
	if short == 0 || long == 0 {
		return 0
	}
	return shortWeight*(last/short-1) + longWeight*(last/long-1)
}

// ObservationInput holds one cycle's per-asset signals in configured asset order.
type ObservationInput struct {
	Prices         []float64
	Volumes        []float64
	Sentiment      []float64
	Momentum       []float64
	PositionValues []float64
	Cash           float64
}

func ObservationLength(assets int) int {
	return observationParts*assets + 1
}

// BuildObservation concatenates prices, volumes, sentiment, momentum and
// position values followed by cash. Any non-finite component is an error.
func BuildObservation(in ObservationInput) ([]float64, error) {
	n := len(in.Prices)
	if n == 0 {
		return nil, fmt.Errorf("no assets: %w", ErrInvalidObservation)
	}
	groups := [][]float64{in.Prices, in.Volumes, in.Sentiment, in.Momentum, in.PositionValues}
	names := []string{"prices", "volumes", "sentiment", "momentum", "position_values"}
	obs := make([]float64, 0, ObservationLength(n))
	for i, group := range groups {
		if len(group) != n {
			return nil, fmt.Errorf("%s has %d entries, want %d: %w", names[i], len(group), n, ErrInvalidObservation)
		}
		for j, v := range group {
			if !finite(v) {
				return nil, fmt.Errorf("%s[%d] is %v: %w", names[i], j, v, ErrInvalidObservation)
			}
		}
		obs = append(obs, group...)
	}
	if !finite(in.Cash) {
		return nil, fmt.Errorf("cash is %v: %w", in.Cash, ErrInvalidObservation)
	}
	return append(obs, in.Cash), nil
}

// ParseActions validates a raw policy vector of (type, fraction) pairs and
// clamps both components to [-1, 1].
func ParseActions(raw []float64, assets int) ([]Action, error) {
	if len(raw) != 2*assets {
		return nil, fmt.Errorf("got %d values for %d assets: %w", len(raw), assets, ErrInvalidActions)
	}
	out := make([]Action, assets)
	for i := range out {
		typ, frac := raw[2*i], raw[2*i+1]
		if !finite(typ) || !finite(frac) {
			return nil, fmt.Errorf("action %d is not finite: %w", i, ErrInvalidActions)
		}
		out[i] = Action{Type: clamp(typ, -1, 1), Fraction: clamp(frac, -1, 1)}
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
