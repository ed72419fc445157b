package bridge

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ACFHarbinger/Coding-Assistants/internal/session"
)

const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultFailed   = "failed"

	pathController = "controller"
	pathLocal      = "local"
)

// Metrics はブリッジの Prometheus メトリクス。nil のままでも安全に使える。
type Metrics struct {
	requests    *prometheus.CounterVec
	events      *prometheus.CounterVec
	drops       *prometheus.CounterVec
	connections prometheus.Counter
	attached    prometheus.Gauge
	state       *prometheus.GaugeVec
}

// NewMetrics はメトリクスを生成して reg に登録する。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_requests_total",
			Help: "Requests handled by the control bridge.",
		}, []string{"type", "origin", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_events_total",
			Help: "Events delivered to observers.",
		}, []string{"path"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentrelay_events_dropped_total",
			Help: "Events dropped because an observer queue was full.",
		}, []string{"path"}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentrelay_controller_connections_total",
			Help: "Controller sessions accepted.",
		}),
		attached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentrelay_controller_attached",
			Help: "1 while a controller is attached.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentrelay_task_state",
			Help: "1 for the current task session state.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.requests, m.events, m.drops, m.connections, m.attached, m.state)
	return m
}

// Handler は reg の内容を /metrics として配信するハンドラを返す。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) request(typ string, origin Origin, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(typ, string(origin), result).Inc()
}

func (m *Metrics) event(path string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(path).Inc()
}

func (m *Metrics) dropped(path string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(path).Inc()
}

func (m *Metrics) controllerAttached() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.attached.Set(1)
}

func (m *Metrics) controllerDetached() {
	if m == nil {
		return
	}
	m.attached.Set(0)
}

func (m *Metrics) setState(current session.State) {
	if m == nil {
		return
	}
	for s := session.StateIdle; s <= session.StateDisconnected; s++ {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s.String()).Set(v)
	}
}
