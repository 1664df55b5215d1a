package embermqtt

import (
	"log/slog"
	"net"
)

// Listener is one network entry point a Broker accepts connections on
// (TCP, TLS, websocket, unix socket, …), mirroring the teacher's
// listeners.Listener interface.
type Listener interface {
	ID() string
	Address() string
	Init(log *slog.Logger) error
	Serve(establish func(net.Conn))
	Close()
}
