// Package sentiment scores social chatter per asset on a [0, 1] scale where
// 0.5 is neutral.
package sentiment

import (
	"context"
	"strings"
)

// Provider returns one score per configured asset, in configured order.
type Provider interface {
	Scores(ctx context.Context) ([]float64, error)
}

// Static reports the same score for every asset.
type Static struct {
	assets []string
	score  float64
}

func NewStatic(assets []string, score float64) *Static {
	return &Static{assets: append([]string(nil), assets...), score: score}
}

func (s *Static) Scores(ctx context.Context) ([]float64, error) {
	out := make([]float64, len(s.assets))
	for i := range out {
		out[i] = s.score
	}
	return out, nil
}

var defaultQueries = map[string]string{
	"SOLUSD":  "$SOL OR Solana",
	"DOGEUSD": "$DOGE OR Dogecoin",
	"SHIBUSD": "$SHIB OR Shiba Inu",
}

// QueryFor returns the configured search query for asset, falling back to a
// cashtag built from the base currency.
func QueryFor(asset string, queries map[string]string) string {
	if q := strings.TrimSpace(queries[asset]); q != "" {
		return q
	}
	if q, ok := defaultQueries[asset]; ok {
		return q
	}
	base := strings.TrimSuffix(strings.ToUpper(asset), "USD")
	return "$" + base
}

// Normalize maps a polarity in [-1, 1] onto [0, 1].
func Normalize(polarity float64) float64 {
	if polarity < -1 {
		polarity = -1
	}
	if polarity > 1 {
		polarity = 1
	}
	return (polarity + 1) / 2
}
