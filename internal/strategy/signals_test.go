package strategy

import (
	"errors"
	"math"
	"testing"
)

func TestComputeMomentumShortSeries(t *testing.T) {
	if got := ComputeMomentum(make([]float64, 19)); got != 0 {
		t.Fatalf("expected 0 for short series, got %v", got)
	}
}

func TestComputeMomentumBlend(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	closes[15] = 110
	closes[19] = 121
	// short leg: 121/110-1 = 0.1, long leg: 121/100-1 = 0.21
	want := 0.7*0.1 + 0.3*0.21
	if got := ComputeMomentum(closes); math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestBuildObservationOrder(t *testing.T) {
	obs, err := BuildObservation(ObservationInput{
		Prices:         []float64{150, 0.15},
		Volumes:        []float64{10, 20},
		Sentiment:      []float64{0.5, 0.6},
		Momentum:       []float64{0.01, -0.02},
		PositionValues: []float64{0, 7.5},
		Cash:           400,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []float64{150, 0.15, 10, 20, 0.5, 0.6, 0.01, -0.02, 0, 7.5, 400}
	if len(obs) != ObservationLength(2) || len(obs) != len(want) {
		t.Fatalf("expected length %d, got %d", len(want), len(obs))
	}
	for i := range want {
		if obs[i] != want[i] {
			t.Fatalf("index %d: expected %v, got %v", i, want[i], obs[i])
		}
	}
}

func TestBuildObservationRejectsNaN(t *testing.T) {
	_, err := BuildObservation(ObservationInput{
		Prices:         []float64{150},
		Volumes:        []float64{math.NaN()},
		Sentiment:      []float64{0.5},
		Momentum:       []float64{0},
		PositionValues: []float64{0},
		Cash:           400,
	})
	if !errors.Is(err, ErrInvalidObservation) {
		t.Fatalf("expected ErrInvalidObservation, got %v", err)
	}
	_, err = BuildObservation(ObservationInput{
		Prices:         []float64{150},
		Volumes:        []float64{1},
		Sentiment:      []float64{0.5},
		Momentum:       []float64{0},
		PositionValues: []float64{0},
		Cash:           math.Inf(1),
	})
	if !errors.Is(err, ErrInvalidObservation) {
		t.Fatalf("expected ErrInvalidObservation for infinite cash, got %v", err)
	}
}

func TestBuildObservationRejectsMismatchedLengths(t *testing.T) {
	_, err := BuildObservation(ObservationInput{
		Prices:         []float64{150, 0.15},
		Volumes:        []float64{1},
		Sentiment:      []float64{0.5, 0.5},
		Momentum:       []float64{0, 0},
		PositionValues: []float64{0, 0},
	})
	if !errors.Is(err, ErrInvalidObservation) {
		t.Fatalf("expected ErrInvalidObservation, got %v", err)
	}
}

func TestParseActions(t *testing.T) {
	actions, err := ParseActions([]float64{0.8, 0.2, -1.7, 3}, 2)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actions[0] != (Action{Type: 0.8, Fraction: 0.2}) {
		t.Fatalf("unexpected first action %#v", actions[0])
	}
	if actions[1] != (Action{Type: -1, Fraction: 1}) {
		t.Fatalf("expected clamped second action, got %#v", actions[1])
	}
	if _, err := ParseActions([]float64{0.1, 0.2, 0.3}, 2); !errors.Is(err, ErrInvalidActions) {
		t.Fatalf("expected length error, got %v", err)
	}
	if _, err := ParseActions([]float64{math.NaN(), 0.2}, 1); !errors.Is(err, ErrInvalidActions) {
		t.Fatalf("expected NaN error, got %v", err)
	}
}
