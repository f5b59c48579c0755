// Package metrics exposes prometheus collectors for network fetches,
// signatures and validations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every collector of this module. It is separate from the
// prometheus default registry so embedding applications stay in control.
var Registry = prometheus.NewRegistry()

var (
	fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pades",
		Name:      "fetch_total",
		Help:      "Network fetches by kind (ocsp, crl, aia, tsa, csc) and outcome.",
	}, []string{"kind", "outcome"})

	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pades",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of network fetches.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	signatures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pades",
		Name:      "signatures_total",
		Help:      "Signatures and document timestamps written, by profile.",
	}, []string{"profile"})

	validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pades",
		Name:      "validations_total",
		Help:      "Certificate validations by result.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(fetches, fetchDuration, signatures, validations)
}

// ObserveFetch records a fetch of the given kind that started at start.
func ObserveFetch(kind string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	fetches.WithLabelValues(kind, outcome).Inc()
	fetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// CacheHit records a fetch served from a cache.
func CacheHit(kind string) {
	fetches.WithLabelValues(kind, "cached").Inc()
}

// SignatureWritten counts a signature of the given profile.
func SignatureWritten(profile string) {
	signatures.WithLabelValues(profile).Inc()
}

// ValidationDone counts a finished validation.
func ValidationDone(result string) {
	validations.WithLabelValues(result).Inc()
}

// WriteFile dumps the registry in the text exposition format.
func WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
