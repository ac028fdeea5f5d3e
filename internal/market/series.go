package market

import (
	"math"

	"meme-surge-bot/internal/exchange"
)

type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// Series is an ordered OHLCV history for one asset, oldest first.
type Series struct {
	Asset  string
	Bars   []exchange.Bar
	Source Source
}

func (s Series) Degraded() bool {
	return s.Source != SourceLive
}

func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, bar := range s.Bars {
		out[i] = bar.Close
	}
	return out
}

func (s Series) LastClose() float64 {
	if len(s.Bars) == 0 {
		return 0
	}
	return s.Bars[len(s.Bars)-1].Close
}

func (s Series) LastVolume() float64 {
	if len(s.Bars) == 0 {
		return 0
	}
	return s.Bars[len(s.Bars)-1].Volume
}

// usableBars drops bars whose close cannot be priced.
func usableBars(bars []exchange.Bar) []exchange.Bar {
	out := make([]exchange.Bar, 0, len(bars))
	for _, bar := range bars {
		if math.IsNaN(bar.Close) || math.IsInf(bar.Close, 0) || bar.Close <= 0 {
			continue
		}
		if math.IsNaN(bar.Volume) || math.IsInf(bar.Volume, 0) {
			bar.Volume = 0
		}
		out = append(out, bar)
	}
	return out
}
