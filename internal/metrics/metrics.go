package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgw_publishes_total",
			Help: "Publish requests by outcome",
		},
		[]string{"outcome"}, // published|replayed|rejected|error
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgw_deliveries_total",
			Help: "Per-recipient delivery attempts by result",
		},
		[]string{"result"}, // sent|retried|failed
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		PublishesTotal,
		DeliveriesTotal,
	)
}
