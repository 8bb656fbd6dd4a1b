package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler exposes the process's registered Prometheus metrics.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
