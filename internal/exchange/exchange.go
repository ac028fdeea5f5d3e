// Package exchange defines the trading venue capability the bot depends on,
// along with a throttling wrapper and a simulated paper venue.
package exchange

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoData means the venue answered but had nothing usable for the request.
	ErrNoData = errors.New("exchange returned no data")
	// ErrTransient covers rate limiting, service unavailability and transport failures.
	ErrTransient = errors.New("transient exchange failure")
	// ErrAuth means the credentials were refused.
	ErrAuth = errors.New("exchange authentication failed")
	// ErrRejected means the venue refused the order itself.
	ErrRejected = errors.New("order rejected by exchange")
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type Ticker struct {
	Asset string
	Last  float64
	Bid   float64
	Ask   float64
	Time  time.Time
}

type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

type OrderRequest struct {
	Asset         string
	Side          Side
	Quantity      float64
	ClientOrderID string
}

type Confirmation struct {
	OrderIDs    []string
	Description string
	// Volume is the quantity the venue accepted after its own precision
	// rules. Zero means the requested quantity was sent unchanged.
	Volume float64
}

// Exchange is keyed by configured asset symbols; implementations own the
// mapping to venue pair names. Balance keys are venue balance codes.
type Exchange interface {
	Balance(ctx context.Context) (map[string]float64, error)
	Ticker(ctx context.Context, asset string) (Ticker, error)
	History(ctx context.Context, asset string, interval int) ([]Bar, error)
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (Confirmation, error)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
