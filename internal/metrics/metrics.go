// Package metrics exposes the process's default Prometheus registry over
// HTTP. Every other package registers its own collectors against that
// default registry on construction (see remoteexec, executor);
// this package only serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
