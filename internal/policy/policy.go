// Package policy maps an observation vector to per-asset (type, fraction)
// action pairs.
package policy

import (
	"context"
	"errors"
	"fmt"
)

var ErrObservationShape = errors.New("observation has unexpected length")

// Policy is deterministic for a fixed observation. The returned vector has
// two entries per asset.
type Policy interface {
	Predict(ctx context.Context, observation []float64) ([]float64, error)
}

func checkShape(observation []float64, assets int) error {
	if want := 5*assets + 1; len(observation) != want {
		return fmt.Errorf("got %d, want %d: %w", len(observation), want, ErrObservationShape)
	}
	return nil
}
