package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "meme_surge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry        *prometheus.Registry
	ordersPlaced    prometheus.Counter
	ordersFailed    prometheus.Counter
	ordersRejected  prometheus.Counter
	cyclesCompleted prometheus.Counter
	cyclesFailed    prometheus.Counter
	cyclesSkipped   prometheus.Counter
	fallbackSeries  prometheus.Counter
	drawdownPauses  prometheus.Counter
	portfolioValue  prometheus.Gauge
	cash            prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry:        prometheus.NewRegistry(),
		ordersPlaced:    newCounter("orders_placed_total", "Total number of confirmed market orders."),
		ordersFailed:    newCounter("orders_failed_total", "Total number of order submissions the exchange did not confirm."),
		ordersRejected:  newCounter("orders_rejected_total", "Total number of orders rejected before submission."),
		cyclesCompleted: newCounter("cycles_completed_total", "Total number of completed trading cycles."),
		cyclesFailed:    newCounter("cycles_failed_total", "Total number of trading cycles aborted by an unexpected error."),
		cyclesSkipped:   newCounter("cycles_skipped_total", "Total number of trading cycles skipped on invalid signals."),
		fallbackSeries:  newCounter("fallback_series_total", "Total number of synthetic market data series substituted."),
		drawdownPauses:  newCounter("drawdown_pauses_total", "Total number of drawdown circuit breaker trips."),
		portfolioValue:  newGauge("portfolio_value", "Mark-to-market portfolio value."),
		cash:            newGauge("cash_balance", "Cash balance in the settlement numeraire."),
	}
	p.registry.MustRegister(
		p.ordersPlaced,
		p.ordersFailed,
		p.ordersRejected,
		p.cyclesCompleted,
		p.cyclesFailed,
		p.cyclesSkipped,
		p.fallbackSeries,
		p.drawdownPauses,
		p.portfolioValue,
		p.cash,
	)
	p.Metrics = &Metrics{
		OrdersPlaced:    promCounter{p.ordersPlaced},
		OrdersFailed:    promCounter{p.ordersFailed},
		OrdersRejected:  promCounter{p.ordersRejected},
		CyclesCompleted: promCounter{p.cyclesCompleted},
		CyclesFailed:    promCounter{p.cyclesFailed},
		CyclesSkipped:   promCounter{p.cyclesSkipped},
		FallbackSeries:  promCounter{p.fallbackSeries},
		DrawdownPauses:  promCounter{p.drawdownPauses},
		PortfolioValue:  promGauge{p.portfolioValue},
		Cash:            promGauge{p.cash},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
