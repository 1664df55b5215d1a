package listeners

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotBinaryMessage is returned by wsConn.Read when a text frame
// arrives; the MQTT subprotocol only ever carries binary frames.
var ErrNotBinaryMessage = errors.New("websocket message is not binary")

// Websocket upgrades incoming HTTP connections on the "mqtt" subprotocol
// and presents each as a net.Conn to the broker, the way the teacher's
// Websocket listener does via gorilla/websocket.
type Websocket struct {
	id       string
	address  string
	server   *http.Server
	upgrader websocket.Upgrader
	log      *slog.Logger
	closed   atomic.Bool
}

func NewWebsocket(id, address string) *Websocket {
	return &Websocket{
		id:      id,
		address: address,
		upgrader: websocket.Upgrader{
			Subprotocols:    []string{"mqtt"},
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (l *Websocket) ID() string      { return l.id }
func (l *Websocket) Address() string { return l.address }

func (l *Websocket) Init(log *slog.Logger) error {
	l.log = log
	return nil
}

// Serve builds the HTTP server lazily so the establish callback is known
// before ListenAndServe starts accepting.
func (l *Websocket) Serve(establish func(net.Conn)) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := l.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		establish(&wsConn{conn})
	})
	l.server = &http.Server{
		Addr:         l.address,
		Handler:      mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	if err := l.server.ListenAndServe(); err != nil && !l.closed.Load() {
		if l.log != nil {
			l.log.Error("websocket listener stopped", "listener", l.id, "err", err)
		}
	}
}

func (l *Websocket) Close() {
	l.closed.Store(true)
	if l.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.server.Shutdown(ctx)
}

// wsConn adapts a gorilla *websocket.Conn to net.Conn, carrying every MQTT
// control packet as a single binary frame.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(p []byte) (int, error) {
	op, r, err := w.c.NextReader()
	if err != nil {
		return 0, err
	}
	if op != websocket.BinaryMessage {
		return 0, ErrNotBinaryMessage
	}
	var n int
	for {
		br, err := r.Read(p[n:])
		n += br
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			return n, err
		}
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error                       { return w.c.Close() }
func (w *wsConn) LocalAddr() net.Addr                { return w.c.LocalAddr() }
func (w *wsConn) RemoteAddr() net.Addr               { return w.c.RemoteAddr() }
func (w *wsConn) SetDeadline(t time.Time) error      { return w.c.UnderlyingConn().SetDeadline(t) }
func (w *wsConn) SetReadDeadline(t time.Time) error   { return w.c.UnderlyingConn().SetReadDeadline(t) }
func (w *wsConn) SetWriteDeadline(t time.Time) error  { return w.c.UnderlyingConn().SetWriteDeadline(t) }
