// Package metrics holds the Prometheus collectors shared by the API and the
// review worker. Labels stay low-cardinality: no video or request IDs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsStartedTotal counts review jobs accepted by the coordinator.
	JobsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodevideo_review_jobs_started_total",
		Help: "Total number of review jobs started.",
	})

	// JobsFinishedTotal counts finished review jobs by outcome (completed, failed).
	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodevideo_review_jobs_finished_total",
		Help: "Total number of review jobs finished, by outcome.",
	}, []string{"outcome"})

	// SubmitRejectedTotal counts rejected submissions by reason.
	SubmitRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodevideo_review_submit_rejected_total",
		Help: "Total number of rejected review submissions, by reason.",
	}, []string{"reason"})

	// JobsInFlight tracks the size of the in-flight set.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodevideo_review_jobs_in_flight",
		Help: "Current number of review jobs in flight.",
	})

	// VerdictsTotal counts completed reviews by sensitivity.
	VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodevideo_review_verdicts_total",
		Help: "Total number of review verdicts, by sensitivity.",
	}, []string{"sensitivity"})

	BroadcastPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodevideo_broadcast_events_published_total",
		Help: "Total number of progress events published.",
	})

	BroadcastDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodevideo_broadcast_events_dropped_total",
		Help: "Total number of progress event deliveries dropped on slow subscribers.",
	})

	BroadcastSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodevideo_broadcast_subscribers",
		Help: "Current number of connected progress subscribers.",
	})

	// DeliveryRequestsTotal counts delivery attempts by HTTP status code class.
	DeliveryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodevideo_delivery_requests_total",
		Help: "Total number of video delivery requests, by status.",
	}, []string{"status"})

	DeliveryBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodevideo_delivery_bytes_total",
		Help: "Total number of video bytes written to clients.",
	})

	ViewIncrementFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodevideo_delivery_view_increment_failures_total",
		Help: "Total number of failed view counter increments.",
	})

	// QueueMessagesTotal counts review queue messages by result (acked, retry).
	QueueMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodevideo_queue_messages_total",
		Help: "Total number of review queue messages handled, by result.",
	}, []string{"result"})

	StaleSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodevideo_stale_videos_swept_total",
		Help: "Total number of stale processing videos moved to failed.",
	})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodevideo_ratelimit_exceeded_total",
		Help: "Total number of requests rejected by the rate limiter, by route.",
	}, []string{"route"})
)
