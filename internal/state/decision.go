package state

import (
	"time"

	"meme-surge-bot/internal/strategy"
)

// Decision is one cycle's journal record. Skipped carries the reason when the
// cycle placed no orders by design.
type Decision struct {
	Cycle       int64             `msgpack:"cycle" json:"cycle"`
	Time        time.Time         `msgpack:"time" json:"time"`
	Status      string            `msgpack:"status" json:"status"`
	Degraded    bool              `msgpack:"degraded" json:"degraded"`
	Value       float64           `msgpack:"value" json:"value"`
	Observation []float64         `msgpack:"observation" json:"observation"`
	Actions     []strategy.Action `msgpack:"actions" json:"actions"`
	Orders      []string          `msgpack:"orders" json:"orders"`
	Skipped     string            `msgpack:"skipped,omitempty" json:"skipped,omitempty"`
}
