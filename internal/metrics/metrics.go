// Package metrics holds the prometheus collectors of the loom server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	Registry *prometheus.Registry

	PicksRequested  prometheus.Counter
	ShaftWordsSent  prometheus.Counter
	ShaftReports    prometheus.Counter
	DirectionChange prometheus.Counter
	Problems        *prometheus.CounterVec
	Connected       prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		PicksRequested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loom_picks_requested_total",
			Help: "Number of status replies in which the loom asked for the next pick",
		}),
		ShaftWordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loom_shaft_words_sent_total",
			Help: "Number of shaft words written to the loom",
		}),
		ShaftReports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loom_shaft_state_reports_total",
			Help: "Number of shaft state changes reported to clients",
		}),
		DirectionChange: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loom_direction_reports_total",
			Help: "Number of weave direction reports received from the loom",
		}),
		Problems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loom_command_problems_total",
			Help: "Malformed or unexpected loom replies",
		}, []string{"severity"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "loom_connected",
			Help: "1 while the loom link is open",
		}),
	}

	m.Registry.MustRegister(
		m.PicksRequested,
		m.ShaftWordsSent,
		m.ShaftReports,
		m.DirectionChange,
		m.Problems,
		m.Connected,
	)

	return m
}
