package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hchat"

// Broker holds the realtime broker collectors.
type Broker struct {
	Sessions   prometheus.Gauge
	Members    prometheus.Gauge
	Broadcasts *prometheus.CounterVec
	Inserts    prometheus.Counter
	Dropped    prometheus.Counter
}

// NewBroker creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewBroker(reg prometheus.Registerer) *Broker {
	f := promauto.With(reg)
	return &Broker{
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Connected realtime sessions.",
		}),
		Members: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_members",
			Help:      "Session memberships across all channels.",
		}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Broadcast events published, by event name.",
		}, []string{"event"}),
		Inserts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inserts_total",
			Help:      "Rows inserted into the messages table.",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Events dropped because a subscriber buffer was full.",
		}),
	}
}
