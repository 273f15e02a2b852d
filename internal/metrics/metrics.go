// Package metrics exposes the bot's Prometheus collectors. Counters are
// registered on the default registry; cmd/dabao4me serves them over
// promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dabao4me_requests_created_total",
		Help: "Requests posted by requesters.",
	})

	RequestsMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dabao4me_requests_matched_total",
		Help: "Requests claimed by a fulfiller.",
	})

	RequestsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dabao4me_requests_cancelled_total",
		Help: "Requests cancelled while still available.",
	})

	RequestsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dabao4me_requests_closed_total",
		Help: "Matched requests ended one-sidedly.",
	})

	RequestsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dabao4me_requests_completed_total",
		Help: "Requests completed by mutual confirmation.",
	})

	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dabao4me_messages_relayed_total",
		Help: "Free-text messages forwarded between matched parties.",
	})

	RatingsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dabao4me_ratings_recorded_total",
		Help: "Ratings recorded, by verdict.",
	}, []string{"verdict"})
)
