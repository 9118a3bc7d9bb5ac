// Package metrics exposes the MessageDirector's Prometheus collectors,
// modeled on go-server-3/internal/metrics/metrics.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps every Prometheus collector the director and transport
// layers update.
type Registry struct {
	ParticipantsActive   prometheus.Gauge
	SubscriptionsActive  prometheus.Gauge
	RoutedTotal          prometheus.Counter
	FanOutRecipients     prometheus.Counter
	ControlMessagesTotal *prometheus.CounterVec
	UpstreamSentTotal    *prometheus.CounterVec
	MalformedTotal       prometheus.Counter
	AcceptRejectedTotal  *prometheus.CounterVec
}

// NewRegistry constructs and registers every collector against the
// default Prometheus registerer.
func NewRegistry() *Registry {
	return &Registry{
		ParticipantsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "md_participants_active",
			Help: "Number of participants currently registered with the director.",
		}),
		SubscriptionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "md_subscriptions_active",
			Help: "Number of ChannelList entries currently held across all participants.",
		}),
		RoutedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "md_datagrams_routed_total",
			Help: "Total number of datagrams that completed the fan-out path.",
		}),
		FanOutRecipients: promauto.NewCounter(prometheus.CounterOpts{
			Name: "md_fanout_recipients_total",
			Help: "Total number of individual recipient deliveries across all routed datagrams.",
		}),
		ControlMessagesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "md_control_messages_total",
			Help: "Total number of control-plane messages handled, by message type.",
		}, []string{"type"}),
		UpstreamSentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "md_upstream_control_sent_total",
			Help: "Total number of control messages synthesized and sent upstream, by message type.",
		}, []string{"type"}),
		MalformedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "md_malformed_datagrams_total",
			Help: "Total number of datagrams dropped for being malformed.",
		}),
		AcceptRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "md_accept_rejected_total",
			Help: "Total number of downstream connections rejected before handshake, by reason.",
		}, []string{"reason"}),
	}
}

// Handler returns an HTTP handler serving the registry in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
