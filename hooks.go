package embermqtt

import (
	"log/slog"
	"sync"

	"github.com/alvar-labs/embermqtt/packets"
	"github.com/alvar-labs/embermqtt/system"
)

// AuthResult is the outcome of one round of v5 enhanced authentication.
type AuthResult byte

const (
	AuthNeedsMore AuthResult = iota
	AuthSuccess
	AuthError
)

// Hook is the extension point every pluggable behaviour (auth, storage,
// debug tracing, …) implements. HookBase gives every method a no-op
// default so a concrete hook only overrides what it cares about, the way
// the teacher's hooks.go Hook interface/HookBase pair does.
type Hook interface {
	ID() string

	// Init is called once, before the hook is attached to a running
	// broker, with driver-specific configuration.
	Init(config any) error

	// Authenticate is the host callback named in the distilled spec's
	// external interfaces: called once per CONNECT, whether or not the
	// client supplied credentials.
	Authenticate(clientID, username string, password []byte) bool

	// AuthenticateEnhanced drives one round of v5 enhanced ("SASL-style")
	// authentication. continuation is invoked (possibly asynchronously)
	// with the round's outcome and any data to send back to the client.
	AuthenticateEnhanced(clientID string, data []byte, continuation func(AuthResult, []byte))

	// Authorize is called per PUBLISH and per SUBSCRIBE tuple.
	Authorize(clientID, topic string, isSubscription bool) bool

	OnStarted()
	OnStopped()
	OnSessionEstablished(clientID string, sessionPresent bool)
	OnSessionTakenOver(clientID string)
	OnPacketRead(clientID string, pk packets.Packet)
	OnPacketSent(clientID string, pk packets.Packet)
	OnWill(clientID string, will packets.Will)
	OnWillSent(clientID string, will packets.Will)
	OnRetainMessage(topic string, origin string, removed bool)
	OnSysInfoTick(info system.Snapshot)
	BytesReceived(clientID string, n int)
	BytesSent(clientID string, n int)

	PersistSession(clientID string, s *Session)
	PersistSubscription(clientID string, sub Subscription)
	RemoveSubscription(clientID, filter string)
	RemoveClient(clientID string)
}

// HookBase implements Hook with every method a no-op / permissive
// default. Concrete hooks embed it and override selectively.
type HookBase struct{}

func (HookBase) ID() string                                                        { return "base" }
func (HookBase) Init(any) error                                                    { return nil }
func (HookBase) Authenticate(string, string, []byte) bool                          { return true }
func (HookBase) AuthenticateEnhanced(string, []byte, func(AuthResult, []byte))      {}
func (HookBase) Authorize(string, string, bool) bool                               { return true }
func (HookBase) OnStarted()                                                        {}
func (HookBase) OnStopped()                                                        {}
func (HookBase) OnSessionEstablished(string, bool)                                 {}
func (HookBase) OnSessionTakenOver(string)                                         {}
func (HookBase) OnPacketRead(string, packets.Packet)                               {}
func (HookBase) OnPacketSent(string, packets.Packet)                               {}
func (HookBase) OnWill(string, packets.Will)                                       {}
func (HookBase) OnWillSent(string, packets.Will)                                   {}
func (HookBase) OnRetainMessage(string, string, bool)                              {}
func (HookBase) OnSysInfoTick(system.Snapshot)                                     {}
func (HookBase) BytesReceived(string, int)                                         {}
func (HookBase) BytesSent(string, int)                                             {}
func (HookBase) PersistSession(string, *Session)                                   {}
func (HookBase) PersistSubscription(string, Subscription)                          {}
func (HookBase) RemoveSubscription(string, string)                                 {}
func (HookBase) RemoveClient(string)                                               {}

// Hooks aggregates every attached Hook and fans each event out to all of
// them, the way the teacher's Hooks type does, with the added rule that
// Authenticate/Authorize short-circuit on the first hook that returns
// false (a single hook vetoes).
type Hooks struct {
	mu    sync.RWMutex
	hooks []Hook
	Log   *slog.Logger
}

// NewHooks returns an empty hook aggregator.
func NewHooks(log *slog.Logger) *Hooks {
	if log == nil {
		log = slog.Default()
	}
	return &Hooks{Log: log}
}

// Add attaches hook after calling its Init with config.
func (h *Hooks) Add(hook Hook, config any) error {
	if err := hook.Init(config); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
	return nil
}

func (h *Hooks) snapshot() []Hook {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Hook, len(h.hooks))
	copy(out, h.hooks)
	return out
}

// Authenticate calls every hook's Authenticate, requiring unanimous
// approval. With no hooks attached, the connection is allowed (matching
// the teacher's AllowAll default hook).
func (h *Hooks) Authenticate(clientID, username string, password []byte) bool {
	for _, hk := range h.snapshot() {
		if !hk.Authenticate(clientID, username, password) {
			return false
		}
	}
	return true
}

// AuthenticateEnhanced dispatches to the first attached hook; absent any
// hooks, authentication fails closed.
func (h *Hooks) AuthenticateEnhanced(clientID string, data []byte, continuation func(AuthResult, []byte)) {
	hooks := h.snapshot()
	if len(hooks) == 0 {
		continuation(AuthError, nil)
		return
	}
	hooks[0].AuthenticateEnhanced(clientID, data, continuation)
}

// Authorize requires unanimous approval from every attached hook.
func (h *Hooks) Authorize(clientID, topic string, isSubscription bool) bool {
	for _, hk := range h.snapshot() {
		if !hk.Authorize(clientID, topic, isSubscription) {
			return false
		}
	}
	return true
}

func (h *Hooks) OnStarted() {
	for _, hk := range h.snapshot() {
		hk.OnStarted()
	}
}

func (h *Hooks) OnStopped() {
	for _, hk := range h.snapshot() {
		hk.OnStopped()
	}
}

func (h *Hooks) OnSessionEstablished(clientID string, sessionPresent bool) {
	for _, hk := range h.snapshot() {
		hk.OnSessionEstablished(clientID, sessionPresent)
	}
}

func (h *Hooks) OnSessionTakenOver(clientID string) {
	for _, hk := range h.snapshot() {
		hk.OnSessionTakenOver(clientID)
	}
}

func (h *Hooks) OnPacketRead(clientID string, pk packets.Packet) {
	for _, hk := range h.snapshot() {
		hk.OnPacketRead(clientID, pk)
	}
}

func (h *Hooks) OnPacketSent(clientID string, pk packets.Packet) {
	for _, hk := range h.snapshot() {
		hk.OnPacketSent(clientID, pk)
	}
}

func (h *Hooks) OnWill(clientID string, will packets.Will) {
	for _, hk := range h.snapshot() {
		hk.OnWill(clientID, will)
	}
}

func (h *Hooks) OnWillSent(clientID string, will packets.Will) {
	for _, hk := range h.snapshot() {
		hk.OnWillSent(clientID, will)
	}
}

func (h *Hooks) OnRetainMessage(topic, origin string, removed bool) {
	for _, hk := range h.snapshot() {
		hk.OnRetainMessage(topic, origin, removed)
	}
}

func (h *Hooks) OnSysInfoTick(info system.Snapshot) {
	for _, hk := range h.snapshot() {
		hk.OnSysInfoTick(info)
	}
}

func (h *Hooks) BytesReceived(clientID string, n int) {
	for _, hk := range h.snapshot() {
		hk.BytesReceived(clientID, n)
	}
}

func (h *Hooks) BytesSent(clientID string, n int) {
	for _, hk := range h.snapshot() {
		hk.BytesSent(clientID, n)
	}
}

func (h *Hooks) PersistSession(clientID string, s *Session) {
	for _, hk := range h.snapshot() {
		hk.PersistSession(clientID, s)
	}
}

func (h *Hooks) PersistSubscription(clientID string, sub Subscription) {
	for _, hk := range h.snapshot() {
		hk.PersistSubscription(clientID, sub)
	}
}

func (h *Hooks) RemoveSubscription(clientID, filter string) {
	for _, hk := range h.snapshot() {
		hk.RemoveSubscription(clientID, filter)
	}
}

func (h *Hooks) RemoveClient(clientID string) {
	for _, hk := range h.snapshot() {
		hk.RemoveClient(clientID)
	}
}
