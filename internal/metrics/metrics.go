package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sms_messages_sent_total",
			Help: "Total messages accepted by the gateway",
		},
	)

	MessagesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sms_messages_failed_total",
			Help: "Total messages rejected or errored",
		},
	)

	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_ticks_total",
			Help: "Total dispatch worker ticks executed",
		},
	)

	ClaimRaces = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_claim_races_total",
			Help: "Queue item claims lost to a concurrent worker",
		},
	)

	StuckRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_stuck_requeued_total",
			Help: "PROCESSING items returned to PENDING by the reconciliation sweep",
		},
	)
)

func Init() {
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesFailed)
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(ClaimRaces)
	prometheus.MustRegister(StuckRequeued)
}
