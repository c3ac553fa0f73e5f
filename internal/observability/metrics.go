package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChannelReconnects = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch_client", Name: "channel_reconnects_total", Help: "Total reconnect attempts"})
	ChannelConnected  = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch_client", Name: "channel_connected", Help: "1 while the event channel is connected"})
	SendsDropped      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch_client", Name: "sends_dropped_total", Help: "Outbound payloads dropped while disconnected"})

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch_client", Name: "events_total", Help: "Inbound events routed, by type"},
		[]string{"type"},
	)
	EventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch_client", Name: "events_duplicate_total", Help: "Inbound events dropped by the dedupe layer"})
	FramesInvalid   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch_client", Name: "frames_invalid_total", Help: "Frames dropped as malformed or missing a type"})

	OffersPending      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch_client", Name: "offers_pending", Help: "Offers currently awaiting a decision"})
	OffersAutoRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch_client", Name: "offers_auto_rejected_total", Help: "Offers rejected by decision-window expiry"})
	OffersFiltered     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch_client", Name: "offers_filtered_total", Help: "Offers suppressed by the rejected-ride cache"})

	PollTransitions = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch_client", Name: "poll_transitions_total", Help: "Ride transitions driven by the REST poll backstop"})
	SamplesSent     = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch_client", Name: "location_samples_sent_total", Help: "Location samples transmitted, by payload kind"},
		[]string{"kind"},
	)
)
