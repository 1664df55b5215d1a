package listeners

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPHealthCheck serves a liveness endpoint for load balancers /
// orchestrators, the way the teacher's HTTPHealthCheck listener does. It
// never accepts MQTT traffic, so Serve's establish callback goes unused.
type HTTPHealthCheck struct {
	id      string
	address string
	server  *http.Server
	closed  atomic.Bool
}

func NewHTTPHealthCheck(id, address string) *HTTPHealthCheck {
	return &HTTPHealthCheck{id: id, address: address}
}

func (l *HTTPHealthCheck) ID() string      { return l.id }
func (l *HTTPHealthCheck) Address() string { return l.address }

func (l *HTTPHealthCheck) Init(log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	l.server = &http.Server{Addr: l.address, Handler: mux}
	return nil
}

func (l *HTTPHealthCheck) Serve(_ func(net.Conn)) {
	if err := l.server.ListenAndServe(); err != nil && !l.closed.Load() {
		// server closed, nothing to report
	}
}

func (l *HTTPHealthCheck) Close() {
	l.closed.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.server.Shutdown(ctx)
}
