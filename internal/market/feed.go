// Package market fetches per-asset price history and substitutes a synthetic
// series whenever the venue cannot provide one.
package market

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"meme-surge-bot/internal/exchange"
	"meme-surge-bot/internal/metrics"

	"go.uber.org/zap"
)

const (
	fallbackSigma     = 0.1
	fallbackMinVolume = 1000.0
	fallbackMaxVolume = 10000.0
)

type FeedConfig struct {
	Interval        int
	FallbackBars    int
	ReferencePrices map[string]float64
	Seed            int64
}

type Feed struct {
	exchange     exchange.Exchange
	interval     int
	fallbackBars int
	references   map[string]float64
	log          *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.RWMutex
	latest map[string]Series
}

func NewFeed(ex exchange.Exchange, cfg FeedConfig, log *zap.Logger, m *metrics.Metrics) *Feed {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	bars := cfg.FallbackBars
	if bars <= 0 {
		bars = 60
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	refs := make(map[string]float64, len(cfg.ReferencePrices))
	for asset, price := range cfg.ReferencePrices {
		refs[asset] = price
	}
	return &Feed{
		exchange:     ex,
		interval:     cfg.Interval,
		fallbackBars: bars,
		references:   refs,
		log:          log,
		metrics:      m,
		now:          time.Now,
		rng:          rand.New(rand.NewSource(seed)),
		latest:       make(map[string]Series),
	}
}

// Fetch never surfaces venue failures: it returns a fallback series instead.
// The only error is context cancellation.
func (f *Feed) Fetch(ctx context.Context, asset string) (Series, error) {
	bars, err := f.exchange.History(ctx, asset, f.interval)
	if err != nil && ctx.Err() != nil {
		return Series{}, ctx.Err()
	}
	series := Series{Asset: asset, Source: SourceLive}
	if err == nil {
		series.Bars = usableBars(bars)
		if len(series.Bars) == 0 {
			err = exchange.ErrNoData
		}
	}
	if err != nil {
		f.log.Warn("market data unavailable, using fallback series",
			zap.String("asset", asset),
			zap.Bool("no_data", errors.Is(err, exchange.ErrNoData)),
			zap.Error(err),
		)
		f.metrics.FallbackSeries.Inc()
		series = f.Fallback(asset)
	}
	f.mu.Lock()
	f.latest[asset] = series
	f.mu.Unlock()
	return series, nil
}

// Fallback draws log-normal closes centred on the asset's reference price.
func (f *Feed) Fallback(asset string) Series {
	ref := f.references[asset]
	if ref <= 0 {
		ref = 1
	}
	step := time.Hour
	if f.interval > 0 {
		step = time.Duration(f.interval) * time.Minute
	}
	end := f.now().UTC().Truncate(step)
	f.rngMu.Lock()
	defer f.rngMu.Unlock()
	bars := make([]exchange.Bar, f.fallbackBars)
	for i := range bars {
		price := ref * math.Exp(f.rng.NormFloat64()*fallbackSigma)
		bars[i] = exchange.Bar{
			Time:   end.Add(-time.Duration(len(bars)-1-i) * step),
			Open:   price,
			High:   price,
			Low:    price,
			Close:  price,
			Volume: fallbackMinVolume + f.rng.Float64()*(fallbackMaxVolume-fallbackMinVolume),
		}
	}
	return Series{Asset: asset, Bars: bars, Source: SourceFallback}
}

// Latest returns the series most recently handed out for asset.
func (f *Feed) Latest(asset string) (Series, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	series, ok := f.latest[asset]
	return series, ok
}
