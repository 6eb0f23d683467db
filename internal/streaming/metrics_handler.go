package streaming

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler exposes metrics in the Prometheus text format.
func MetricsHandler(metrics *Metrics) http.Handler {
	if metrics == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}
