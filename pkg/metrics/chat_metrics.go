package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay metrics. Labels never carry user or chat ids.
var (
	ChatMessagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_sent_total",
		Help: "Total number of messages accepted by the relay",
	}, []string{"kind"})

	ChatMessagesDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_messages_duplicate_total",
		Help: "Total number of resent messages deduplicated by id",
	})

	ChatEnvelopeRecipients = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_envelope_recipients",
		Help:    "Number of wrapped keys per envelope",
		Buckets: []float64{2, 3, 5, 10, 20, 30, 50},
	})

	ChatDeliveryTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_delivery_transitions_total",
		Help: "Total number of recipient delivery transitions",
	}, []string{"status"})

	ChatStatusUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_status_updates_total",
		Help: "Total number of aggregate status changes emitted",
	}, []string{"status"})

	ChatGapFilteredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_gap_filtered_total",
		Help: "Total number of messages hidden by membership gap filtering",
	})

	ChatGapInconsistentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chat_gap_inconsistent_total",
		Help: "Total number of messages shown despite an inconsistent membership log",
	})

	ChatCryptoOpenFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_crypto_open_failures_total",
		Help: "Total number of envelopes that could not be opened",
	}, []string{"kind"})

	ChatEventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_events_published_total",
		Help: "Total number of relay events published to Redis",
	}, []string{"type", "status"})

	ChatWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_websocket_connections",
		Help: "Current number of active WebSocket connections",
	})

	ChatWebSocketMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_websocket_messages_total",
		Help: "Total number of WebSocket frames",
	}, []string{"direction"}) // "in" for received, "out" for sent

	ChatClientMessageDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_client_message_dropped_total",
		Help: "Total number of frames dropped for slow clients",
	}, []string{"reason"})
)
