package logging

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	config_proto "www.velocidex.com/golang/memtriage/config/proto"
)

// Record the status of the request so we can log it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// The websocket upgrader needs to hijack the connection.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("Hijacking not supported")
	}
	return hijacker.Hijack()
}

func GetLoggingHandler(config_obj *config_proto.Config) func(http.Handler) http.Handler {
	logger := GetLogger(config_obj, &FrontendComponent)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{w, 200}
			start := time.Now()
			defer func() {
				logger.Info(
					"%s %s %s %s %d %v",
					r.Method,
					r.URL.Path,
					r.RemoteAddr,
					r.UserAgent(),
					rec.status,
					time.Since(start))
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
