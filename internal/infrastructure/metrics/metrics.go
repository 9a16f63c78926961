package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "graylogic_"

	unknownLabel = "unknown"
)

// Adapter send outcomes.
const (
	SendConfirmed   = "confirmed"
	SendUnconfirmed = "unconfirmed"
	SendError       = "error"
)

var (
	registerOnce sync.Once
	gatherer     prometheus.Gatherer

	commandsSubmitted *prometheus.CounterVec
	commandResults    *prometheus.CounterVec
	adapterSends      *prometheus.CounterVec
	commandRetries    prometheus.Counter
	acksDiscarded     *prometheus.CounterVec

	queueDepth      prometheus.Gauge
	pendingAcks     prometheus.Gauge
	brokerConnected prometheus.Gauge

	dispatchLatency *prometheus.HistogramVec
)

// Init registers the dispatch metrics with reg. Only the first call has an
// effect. A nil reg registers with the Prometheus default registry.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		if g, ok := reg.(prometheus.Gatherer); ok {
			gatherer = g
		} else {
			gatherer = prometheus.DefaultGatherer
		}

		commandsSubmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_submitted_total",
				Help: "Total commands accepted into the queue by priority",
			},
			[]string{"priority"},
		)
		commandResults = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_results_total",
				Help: "Total commands reaching a terminal status",
			},
			[]string{"status"},
		)
		adapterSends = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "adapter_sends_total",
				Help: "Total adapter send attempts by protocol and outcome",
			},
			[]string{"protocol", "outcome"},
		)
		commandRetries = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "command_retries_total",
				Help: "Total retries scheduled",
			},
		)
		acksDiscarded = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "acks_discarded_total",
				Help: "Total acknowledgements discarded by reason",
			},
			[]string{"reason"},
		)
		queueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "queue_depth",
				Help: "Commands currently queued",
			},
		)
		pendingAcks = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "pending_acks",
				Help: "Commands awaiting acknowledgement",
			},
		)
		brokerConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "mqtt_connected",
				Help: "1 while the MQTT downlink is connected to the broker",
			},
		)
		dispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dispatch_latency_seconds",
				Help:    "Adapter send latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol"},
		)

		reg.MustRegister(
			commandsSubmitted,
			commandResults,
			adapterSends,
			commandRetries,
			acksDiscarded,
			queueDepth,
			pendingAcks,
			brokerConnected,
			dispatchLatency,
		)
	})
}

// Handler returns the exposition handler for the registry passed to Init.
func Handler() http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func label(v string) string {
	if v == "" {
		return unknownLabel
	}
	return v
}

// IncSubmitted increments the submitted counter for a priority.
func IncSubmitted(priority string) {
	if commandsSubmitted != nil {
		commandsSubmitted.WithLabelValues(label(priority)).Inc()
	}
}

// IncResult increments the terminal status counter.
func IncResult(status string) {
	if commandResults != nil {
		commandResults.WithLabelValues(label(status)).Inc()
	}
}

// ObserveSend records one adapter send and its latency.
func ObserveSend(protocol, outcome string, duration time.Duration) {
	protocol = label(protocol)
	if adapterSends != nil {
		adapterSends.WithLabelValues(protocol, label(outcome)).Inc()
	}
	if dispatchLatency != nil {
		dispatchLatency.WithLabelValues(protocol).Observe(duration.Seconds())
	}
}

// IncRetry increments the retry counter.
func IncRetry() {
	if commandRetries != nil {
		commandRetries.Inc()
	}
}

// IncAckDiscarded increments the discarded acknowledgement counter.
func IncAckDiscarded(reason string) {
	if acksDiscarded != nil {
		acksDiscarded.WithLabelValues(label(reason)).Inc()
	}
}

// SetQueueDepth sets the queue depth gauge.
func SetQueueDepth(n int) {
	if queueDepth != nil {
		queueDepth.Set(float64(n))
	}
}

// SetPendingAcks sets the pending acknowledgement gauge.
func SetPendingAcks(n int) {
	if pendingAcks != nil {
		pendingAcks.Set(float64(n))
	}
}

// SetBrokerConnected records the MQTT connection state.
func SetBrokerConnected(connected bool) {
	if brokerConnected == nil {
		return
	}
	if connected {
		brokerConnected.Set(1)
	} else {
		brokerConnected.Set(0)
	}
}
