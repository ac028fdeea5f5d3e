package strategy

type Status string

type Event string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

const (
	EventStart          Event = "START"
	EventDrawdownBreach Event = "DRAWDOWN_BREACH"
	EventOperatorPause  Event = "OPERATOR_PAUSE"
)

type Intent string

const (
	IntentBuy  Intent = "buy"
	IntentSell Intent = "sell"
	IntentHold Intent = "hold"
)

// Action is one asset's slice of the policy output. Type selects the
// direction through the dead-zone; Fraction scales the order size.
type Action struct {
	Type     float64 `json:"type" msgpack:"type"`
	Fraction float64 `json:"fraction" msgpack:"fraction"`
}
