package listeners

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPStats serves the broker's system info snapshot as JSON on
// /stats, adapted from the teacher's http_sysinfo.go listener to the
// distilled spec's System.Info addition. info is called fresh on every
// request.
type HTTPStats struct {
	id      string
	address string
	info    func() any
	server  *http.Server
	closed  atomic.Bool
}

func NewHTTPStats(id, address string, info func() any) *HTTPStats {
	return &HTTPStats{id: id, address: address, info: info}
}

func (l *HTTPStats) ID() string      { return l.id }
func (l *HTTPStats) Address() string { return l.address }

func (l *HTTPStats) Init(log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(l.info())
	})
	l.server = &http.Server{Addr: l.address, Handler: mux}
	return nil
}

func (l *HTTPStats) Serve(_ func(net.Conn)) {
	if err := l.server.ListenAndServe(); err != nil && !l.closed.Load() {
	}
}

func (l *HTTPStats) Close() {
	l.closed.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.server.Shutdown(ctx)
}
