package server

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpErrorStatusCounters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtriage_frontend_http_status",
			Help: "Count of various http status.",
		},
		[]string{"status"},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (self *statusRecorder) WriteHeader(code int) {
	self.status = code
	self.ResponseWriter.WriteHeader(code)
}

func RecordHTTPStats(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ignore Websocket connections
		if is_ws_connection(r) {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: 200}

		next.ServeHTTP(rec, r)
		status := fmt.Sprintf("%v", rec.status)
		httpErrorStatusCounters.WithLabelValues(status).Inc()
	})
}
