/*
metrics.go - Prometheus instrumentation for the action broker
*/
package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	actionsMinted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "materials",
			Subsystem: "broker",
			Name:      "actions_minted_total",
			Help:      "Confirmable actions created by previews.",
		},
	)

	confirmsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "materials",
			Subsystem: "broker",
			Name:      "confirms_total",
			Help:      "Confirm calls by outcome.",
		},
		[]string{"status"},
	)

	actionsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "materials",
			Subsystem: "broker",
			Name:      "actions_swept_total",
			Help:      "Expired actions removed by sweeps and lookups.",
		},
	)
)

func recordActionMinted() {
	actionsMinted.Inc()
}

func recordConfirm(status string) {
	confirmsTotal.WithLabelValues(status).Inc()
}

func recordActionsSwept(n int) {
	actionsSwept.Add(float64(n))
}
