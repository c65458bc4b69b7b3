package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports runner state for scraping. A nil *Metrics is a no-op.
type Metrics struct {
	events  *prometheus.CounterVec
	dropped prometheus.Counter
	cycles  prometheus.Counter
	price   prometheus.Gauge
	held    prometheus.Gauge
	stop    prometheus.Gauge
	unsaved prometheus.Gauge
}

// NewMetrics creates the runner metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spottrader",
			Name:      "events_total",
			Help:      "Observation events emitted, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spottrader",
			Name:      "events_dropped_total",
			Help:      "Events discarded because the observation channel was full.",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spottrader",
			Name:      "cycles_total",
			Help:      "Polling cycles run.",
		}),
		price: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spottrader",
			Name:      "last_price",
			Help:      "Latest close seen by the runner.",
		}),
		held: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spottrader",
			Name:      "position_quantity",
			Help:      "Base asset quantity held, zero when flat.",
		}),
		stop: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spottrader",
			Name:      "stop_price",
			Help:      "Current trailing stop price, zero when flat.",
		}),
		unsaved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "spottrader",
			Name:      "state_unsaved",
			Help:      "1 while the in-memory position has not been persisted.",
		}),
	}
	reg.MustRegister(m.events, m.dropped, m.cycles, m.price, m.held, m.stop, m.unsaved)
	return m
}

func (m *Metrics) event(kind EventKind) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) drop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) cycle(st Status) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.price.Set(st.LastPrice)
	m.held.Set(st.Position.HeldQuantity)
	m.stop.Set(st.StopPrice)
	if st.Unsaved {
		m.unsaved.Set(1)
	} else {
		m.unsaved.Set(0)
	}
}
