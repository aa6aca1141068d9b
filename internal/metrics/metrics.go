package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the host.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Rounds   prometheus.Counter
	Answers  *prometheus.CounterVec
	Games    *prometheus.CounterVec
	Peers    prometheus.Gauge
	Messages *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rounds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bingo",
			Subsystem: "engine",
			Name:      "rounds_total",
			Help:      "Number of rounds presented to at least one holder",
		}),
		Answers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bingo",
			Subsystem: "engine",
			Name:      "answers_total",
			Help:      "Resolved answers by outcome",
		}, []string{"result"}), // correct, incorrect, timeout
		Games: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bingo",
			Subsystem: "engine",
			Name:      "games_total",
			Help:      "Finished games by outcome",
		}, []string{"outcome"}), // bingo, exhausted, aborted
		Peers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bingo",
			Subsystem: "transport",
			Name:      "peers",
			Help:      "Currently connected peers",
		}),
		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bingo",
			Subsystem: "transport",
			Name:      "messages_total",
			Help:      "Messages by direction and result",
		}, []string{"direction", "result"}),
	}
}

func (m *Metrics) RoundStarted() {
	if m == nil {
		return
	}
	m.Rounds.Inc()
}

func (m *Metrics) AnswerResolved(result string) {
	if m == nil {
		return
	}
	m.Answers.WithLabelValues(result).Inc()
}

func (m *Metrics) GameFinished(outcome string) {
	if m == nil {
		return
	}
	m.Games.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PeerConnected() {
	if m == nil {
		return
	}
	m.Peers.Inc()
}

func (m *Metrics) PeerDisconnected() {
	if m == nil {
		return
	}
	m.Peers.Dec()
}

// Message counts one message; direction is "in" or "out", result "ok", "malformed" or "failed".
func (m *Metrics) Message(direction, result string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(direction, result).Inc()
}
