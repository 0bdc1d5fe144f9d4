// Package metrics centralizes the Prometheus registry shared by the
// dispatcher, SecureChannel manager, and Subscription engine, following
// dittofs's use of prometheus/client_golang for its own request counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is the shared collector registry. A single shared registry
// avoids duplicate-registration panics across the several subsystems that
// register counters here.
var Registry = prometheus.NewRegistry()

var (
	// ServiceCalls counts every dispatched service request, labeled by
	// service name and resulting status class ("good"/"bad").
	ServiceCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "opcua_service_calls_total",
		Help: "Number of service requests dispatched, by service and result.",
	}, []string{"service", "result"})

	// ActiveSessions tracks the current number of live sessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_active_sessions",
		Help: "Number of currently active sessions.",
	})

	// RejectedSessions counts CreateSession/ActivateSession failures
	// (SPEC_FULL.md §12 diagnostics supplement).
	RejectedSessions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_rejected_sessions_total",
		Help: "Number of rejected session creation or activation attempts.",
	})

	// ActiveChannels tracks the current number of open SecureChannels.
	ActiveChannels = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_active_channels",
		Help: "Number of currently open secure channels.",
	})

	// ChannelRenewals counts successful OPN Renew operations.
	ChannelRenewals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_channel_renewals_total",
		Help: "Number of secure channel token renewals.",
	})

	// ActiveSubscriptions tracks the current number of live subscriptions.
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_active_subscriptions",
		Help: "Number of currently active subscriptions.",
	})

	// QueuedNotifications tracks the total number of notifications
	// currently queued across all subscriptions' retransmission queues.
	QueuedNotifications = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "opcua_queued_notifications",
		Help: "Number of notifications pending retransmission-queue acknowledgement.",
	})

	// LatePublishes counts subscriptions entering the Late state.
	LatePublishes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "opcua_late_publishes_total",
		Help: "Number of times a subscription's publish tick found no waiting PublishRequest.",
	})
)

func init() {
	Registry.MustRegister(
		ServiceCalls,
		ActiveSessions,
		RejectedSessions,
		ActiveChannels,
		ChannelRenewals,
		ActiveSubscriptions,
		QueuedNotifications,
		LatePublishes,
	)
}
