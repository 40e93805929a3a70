// Package metrics exposes Prometheus counters/gauges/histograms observing
// decode/validate/store outcomes. Observability here is purely additive —
// nothing in this package gates or alters the result of any operation it
// watches.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Wire decoder metrics
	EnvelopesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btccore_envelopes_decoded_total",
		Help: "Total number of wire envelopes successfully decoded",
	})

	EnvelopeChecksumErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btccore_envelope_checksum_errors_total",
		Help: "Total number of envelopes rejected for a checksum mismatch",
	})

	MessagesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btccore_messages_decoded_total",
		Help: "Total number of messages decoded, by command",
	}, []string{"command"})

	// Transaction metrics
	TxParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btccore_tx_parsed_total",
		Help: "Total number of transactions parsed",
	})

	TxVerifiedStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btccore_tx_verified_stored_total",
		Help: "Total number of transactions that passed verification and were stored",
	})

	TxAlreadyExists = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btccore_tx_already_exists_total",
		Help: "Total number of verify_and_store calls short-circuited by an existing hash",
	})

	TxRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btccore_tx_rejected_total",
		Help: "Total number of transactions rejected, by reason",
	}, []string{"reason"})

	// Block metrics
	BlocksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "btccore_blocks_ingested_total",
		Help: "Total number of block messages decoded",
	})

	BlockTxCount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "btccore_block_transaction_count",
		Help:    "Number of transactions per decoded block",
		Buckets: []float64{1, 10, 100, 500, 1000, 2000, 3000, 5000, 10000},
	})

	// Script-verifier metrics
	ScriptVerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "btccore_script_verify_duration_seconds",
		Help:    "Time spent in the external script verifier",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// Store metrics
	StoreSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "btccore_store_size",
		Help: "Number of transactions currently held by the store",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "btccore_store_errors_total",
		Help: "Total number of store operation errors, by operation",
	}, []string{"operation"})
)

// corsHandler wraps a handler with CORS headers, so a local dashboard can
// scrape this endpoint from a different origin during development.
func corsHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartMetricsServer starts the Prometheus metrics HTTP server on addr.
func StartMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", corsHandler(promhttp.Handler()))
	go http.ListenAndServe(addr, mux)
}
