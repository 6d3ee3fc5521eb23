package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus counters. Each router gets its own
// registry so nothing collides with the global default.
type Metrics struct {
	registry *prometheus.Registry

	LicensesIssued prometheus.Counter
	Activations    *prometheus.CounterVec
	Verifications  *prometheus.CounterVec
	TokensCreated  prometheus.Counter
	Downloads      *prometheus.CounterVec
}

// NewMetrics creates and registers the service counters.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		LicensesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantiv",
			Name:      "licenses_issued_total",
			Help:      "Number of license keys issued.",
		}),
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantiv",
			Name:      "activations_total",
			Help:      "Server-side activation attempts by outcome.",
		}, []string{"outcome"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantiv",
			Name:      "verifications_total",
			Help:      "Server-side verification checks by outcome.",
		}, []string{"outcome"}),
		TokensCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quantiv",
			Name:      "download_tokens_created_total",
			Help:      "Number of single-use download tokens minted.",
		}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quantiv",
			Name:      "downloads_total",
			Help:      "Client package download attempts by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(
		m.LicensesIssued,
		m.Activations,
		m.Verifications,
		m.TokensCreated,
		m.Downloads,
	)
	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
