// Package debug provides a slog-based packet tracer hook, adapted from
// the teacher's hooks/debug package (originally zerolog-based) to the
// broker's log/slog-based logging.
package debug

import (
	"log/slog"

	"github.com/alvar-labs/embermqtt"
	"github.com/alvar-labs/embermqtt/packets"
)

// Options configures what the debug hook logs.
type Options struct {
	ShowPacketData bool
	ShowPings      bool
}

// Hook logs every packet read/sent and every connect/disconnect at debug
// level.
type Hook struct {
	embermqtt.HookBase
	config *Options
	Log    *slog.Logger
}

// NewHook returns a debug hook; a nil opts uses the zero-value Options
// (pings and packet payloads hidden).
func NewHook(log *slog.Logger, opts *Options) *Hook {
	if opts == nil {
		opts = &Options{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hook{config: opts, Log: log}
}

func (h *Hook) ID() string { return "debug" }

func (h *Hook) Init(config any) error {
	if o, ok := config.(*Options); ok && o != nil {
		h.config = o
	}
	return nil
}

func (h *Hook) OnPacketRead(clientID string, pk packets.Packet) {
	if !h.config.ShowPings && pk.FixedHeader.Type == packets.Pingreq {
		return
	}
	attrs := []any{"client", clientID, "type", packets.Names[pk.FixedHeader.Type]}
	if h.config.ShowPacketData {
		attrs = append(attrs, "topic", pk.TopicName, "packet_id", pk.PacketID)
	}
	h.Log.Debug("packet read", attrs...)
}

func (h *Hook) OnPacketSent(clientID string, pk packets.Packet) {
	if !h.config.ShowPings && pk.FixedHeader.Type == packets.Pingresp {
		return
	}
	h.Log.Debug("packet sent", "client", clientID, "type", packets.Names[pk.FixedHeader.Type])
}

func (h *Hook) OnSessionEstablished(clientID string, sessionPresent bool) {
	h.Log.Debug("session established", "client", clientID, "session_present", sessionPresent)
}

func (h *Hook) RemoveClient(clientID string) {
	h.Log.Debug("client removed", "client", clientID)
}
