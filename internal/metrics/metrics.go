package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "instance_manager_gateway_requests_total",
		Help: "Gateway calls by operation and outcome",
	}, []string{"operation", "outcome"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "instance_manager_gateway_request_duration_seconds",
		Help:    "Gateway call latency by operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "instance_manager_transitions_total",
		Help: "Instance status transitions",
	}, []string{"from", "to"})

	PollOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "instance_manager_poll_outcomes_total",
		Help: "Finished connection polls by outcome",
	}, []string{"outcome"})

	ActivePolls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "instance_manager_active_polls",
		Help: "Connection polls currently running",
	})

	WebhookIngest = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "instance_manager_webhook_ingest_total",
		Help: "Inbound gateway status pushes by result",
	}, []string{"result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "instance_manager_http_requests_total",
		Help: "API requests by route and status code",
	}, []string{"route", "code"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "instance_manager_http_request_duration_seconds",
		Help:    "API latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
