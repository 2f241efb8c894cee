package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeStale    = "stale"
	OutcomeUnknown  = "unknown"
	OutcomeRelayed  = "relayed"
	OutcomeInvalid  = "invalid"
)

var (
	RealtimeMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_realtime_messages_total",
		Help: "Total number of inbound realtime messages by channel kind",
	}, []string{"kind"})

	RealtimeTransportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_realtime_transport_errors_total",
		Help: "Total number of inbound realtime messages carrying a transport error",
	}, []string{"kind"})

	CallEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialer_call_events_total",
		Help: "Total number of decoded call events by event kind and reconciliation outcome",
	}, []string{"event", "outcome"})

	TransportRebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialer_realtime_transport_rebuilds_total",
		Help: "Total number of realtime transport rebuilds after disconnect",
	})
)

// IncMessage records an inbound message. Meta channels are reported as "meta".
func IncMessage(kind string) {
	RealtimeMessagesTotal.WithLabelValues(orUnknown(kind)).Inc()
}

// IncTransportError records an inbound message that carried an error field.
func IncTransportError(kind string) {
	RealtimeTransportErrorsTotal.WithLabelValues(orUnknown(kind)).Inc()
}

// IncCallEvent records the reconciliation outcome for a decoded event.
func IncCallEvent(event, outcome string) {
	CallEventsTotal.WithLabelValues(orUnknown(event), orUnknown(outcome)).Inc()
}

// IncTransportRebuild records a transport rebuilt after a disconnect.
func IncTransportRebuild() {
	TransportRebuildsTotal.Inc()
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// SubscribeAuthorizationsTotal counts subscribe requests checked by the dev
// backend, by result (allowed|rejected).
var SubscribeAuthorizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dialer_dev_subscribe_authorizations_total",
	Help: "Total number of realtime subscribe requests checked by the dev backend",
}, []string{"result"})

func IncSubscribeAuthorization(allowed bool) {
	result := "rejected"
	if allowed {
		result = "allowed"
	}
	SubscribeAuthorizationsTotal.WithLabelValues(result).Inc()
}
