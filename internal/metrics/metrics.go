package metrics

import "github.com/prometheus/client_golang/prometheus"

// NewQueueRetriesTotal returns a Prometheus counter for the number of retry attempts performed by the operation queue
func NewQueueRetriesTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_retries_total",
		Help: "Total number of retry attempts performed by the operation queue",
	})
}

// NewQueueDeadLetterTotal returns a Prometheus counter for the number of operations moved to the dead-letter log
func NewQueueDeadLetterTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_dead_letter_total",
		Help: "Total number of operations moved to the dead-letter log",
	})
}

// NewQueueFlushedTotal returns a Prometheus counter for the number of operations delivered to the server
func NewQueueFlushedTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "queue_flushed_total",
		Help: "Total number of operations successfully delivered to the server",
	})
}

// NewRealtimeReconnectsTotal returns a Prometheus counter for the number of websocket reconnects
func NewRealtimeReconnectsTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_reconnects_total",
		Help: "Total number of websocket transport reconnects",
	})
}

// NewRealtimeDroppedTotal returns a Prometheus counter for the number of messages dropped without subscribers
func NewRealtimeDroppedTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_dropped_total",
		Help: "Total number of push messages dropped for channels with no subscribers",
	})
}

// NewRealtimeStaleTotal returns a Prometheus counter for the number of synthetic stale events emitted
func NewRealtimeStaleTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "realtime_stale_total",
		Help: "Total number of synthetic stale events emitted for silent location channels",
	})
}

// NewStoreInvariantRejectsTotal returns a Prometheus counter for the number of field-level invariant rejections
func NewStoreInvariantRejectsTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "store_invariant_rejects_total",
		Help: "Total number of status updates rejected by the transition validator",
	})
}

// NewGatewayRetriesTotal returns a Prometheus counter for the number of retry attempts performed by the REST gateway
func NewGatewayRetriesTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_retries_total",
		Help: "Total number of retry attempts performed by the REST gateway",
	})
}
