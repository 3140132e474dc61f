// Package telemetry holds the worker's Prometheus collectors. Counters are
// package-global and safe to touch from hot paths; registration happens
// eagerly at init so callers never need a registry handle.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	MessagesConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskworker_messages_consumed_total",
		Help: "Total broker deliveries received by the consumer",
	})
	MalformedPayloads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskworker_malformed_payloads_total",
		Help: "Total deliveries whose payload failed to decode into a request",
	})
	// BatchesFlushed is labelled by trigger: size, age or drain.
	BatchesFlushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskworker_batches_flushed_total",
		Help: "Total micro-batches handed to the scoring kernel, by flush trigger",
	}, []string{"trigger"})
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "riskworker_batch_size",
		Help:    "Distribution of requests per flushed micro-batch",
		Buckets: []float64{1, 2, 4, 8, 16, 32},
	})
	Acks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskworker_acks_total",
		Help: "Total deliveries acknowledged to the broker",
	})
	Nacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskworker_nacks_total",
		Help: "Total deliveries negatively acknowledged and requeued",
	})
	IndexQueryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskworker_index_query_errors_total",
		Help: "Total vector index searches that failed and fell back to an empty neighbourhood",
	})
	// CallbacksDelivered is labelled by outcome: delivered, rejected or error.
	CallbacksDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "riskworker_callbacks_total",
		Help: "Total result callbacks attempted, by outcome",
	}, []string{"outcome"})
	QueueHighWater = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskworker_dispatch_queue_high_water_total",
		Help: "Times the dispatch queue depth crossed the warning watermark",
	})
)

func init() {
	prometheus.MustRegister(
		MessagesConsumed, MalformedPayloads, BatchesFlushed, BatchSize,
		Acks, Nacks, IndexQueryErrors, CallbacksDelivered, QueueHighWater,
	)
}

// ServeMetrics starts a standalone /metrics listener on addr. It returns
// immediately; the server runs until process exit.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warnf("metrics listener on %s stopped", addr)
		}
	}()
}
