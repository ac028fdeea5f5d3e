package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	OrdersPlaced    Counter
	OrdersFailed    Counter
	OrdersRejected  Counter
	CyclesCompleted Counter
	CyclesFailed    Counter
	CyclesSkipped   Counter
	FallbackSeries  Counter
	DrawdownPauses  Counter
	PortfolioValue  Gauge
	Cash            Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		OrdersPlaced:    n,
		OrdersFailed:    n,
		OrdersRejected:  n,
		CyclesCompleted: n,
		CyclesFailed:    n,
		CyclesSkipped:   n,
		FallbackSeries:  n,
		DrawdownPauses:  n,
		PortfolioValue:  g,
		Cash:            g,
	}
}
