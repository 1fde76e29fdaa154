// Package metrics exposes the Prometheus counters and gauges a server
// reports about its peer population and protocol health.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PeersConnected is the number of peers currently past the handshake.
	PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mrial",
		Name:      "peers_connected",
		Help:      "Number of peers with an installed session key.",
	})

	// PeersEvicted counts peers removed for exceeding the ping tolerance.
	PeersEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mrial",
		Name:      "peers_evicted_total",
		Help:      "Total peers evicted by the liveness sweep.",
	})

	// ReassemblyFailures counts frames a Reassembler could not complete.
	ReassemblyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mrial",
		Name:      "reassembly_failures_total",
		Help:      "Total frames dropped by the reassembler, by reason.",
	}, []string{"reason"})

	// HandshakeOutcomes counts ShakeAE attempts, by outcome.
	HandshakeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mrial",
		Name:      "handshake_outcomes_total",
		Help:      "Total ShakeAE attempts, by outcome.",
	}, []string{"outcome"})

	// SubpacketsSent counts outgoing subpackets, by packet type.
	SubpacketsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mrial",
		Name:      "subpackets_sent_total",
		Help:      "Total subpackets emitted by a Fragmenter, by packet type.",
	}, []string{"type"})
)

// Handler returns the HTTP handler to mount at the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts an HTTP server exposing Handler at addr. It blocks until
// the server stops or errors, so callers run it in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}
