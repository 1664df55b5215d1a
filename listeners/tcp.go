// Package listeners provides network entry points a broker can accept
// client connections on: plain TCP, websocket, unix domain sockets and a
// pair of small HTTP endpoints for health checks and system stats.
package listeners

import (
	"log/slog"
	"net"
	"sync"
)

// TCP listens for client connections on a plain TCP address, the way the
// teacher's TCP listener does.
type TCP struct {
	id       string
	address  string
	listener net.Listener
	log      *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewTCP returns a TCP listener bound to address; binding happens in
// Init, not here, so construction never fails.
func NewTCP(id, address string) *TCP {
	return &TCP{id: id, address: address, done: make(chan struct{})}
}

func (l *TCP) ID() string      { return l.id }
func (l *TCP) Address() string { return l.address }

func (l *TCP) Init(log *slog.Logger) error {
	l.log = log
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return err
	}
	l.listener = ln
	return nil
}

// Serve accepts connections until Close is called, handing each off to
// establish on its own goroutine.
func (l *TCP) Serve(establish func(net.Conn)) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				if l.log != nil {
					l.log.Debug("tcp accept error", "listener", l.id, "err", err)
				}
				continue
			}
		}
		go establish(conn)
	}
}

func (l *TCP) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		if l.listener != nil {
			l.listener.Close()
		}
	})
}
