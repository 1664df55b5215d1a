package embermqtt

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/alvar-labs/embermqtt/packets"
	"github.com/alvar-labs/embermqtt/system"
)

// Broker is the top-level MQTT server: the session table, subscription
// index, retained-message store and hook chain, wired together the way
// the teacher's Server type wires its clients/topics/hooks. Exported
// fields are read by Connection; Broker itself only ever mutates them
// through its own locked methods.
type Broker struct {
	Options Options
	Log     *slog.Logger
	Hooks   *Hooks
	Topics  *TopicsIndex
	Retained *RetainedStore
	Sys      *system.Info

	mu       sync.RWMutex
	sessions map[string]*Session

	pool *fanPool

	listeners   []Listener
	listenersWg sync.WaitGroup

	startedAt time.Time
	closing   chan struct{}
	closeOnce sync.Once
}

// New constructs a Broker ready to accept connections via AddListener +
// Serve, or directly via EstablishConnection.
func New(opts Options) *Broker {
	opts.ensureDefaults()
	b := &Broker{
		Options:  opts,
		Log:      opts.Logger,
		Hooks:    NewHooks(opts.Logger),
		Topics:   NewTopicsIndex(),
		Retained: NewRetainedStore(),
		Sys:      system.New(),
		sessions: make(map[string]*Session),
		closing:  make(chan struct{}),
	}
	if b.Log == nil {
		b.Log = slog.Default()
	}
	b.pool = newFanPool(opts.FanoutWorkers)
	return b
}

// AddListener registers l to be started by Serve. Must be called before
// Serve.
func (b *Broker) AddListener(l Listener) {
	b.listeners = append(b.listeners, l)
}

// Serve starts every registered listener and the housekeeping loop, and
// blocks until Close is called.
func (b *Broker) Serve() error {
	b.startedAt = time.Now()
	b.Hooks.OnStarted()
	for _, l := range b.listeners {
		if err := l.Init(b.Log); err != nil {
			return err
		}
		ln := l
		b.listenersWg.Add(1)
		go func() {
			defer b.listenersWg.Done()
			ln.Serve(b.EstablishConnection)
		}()
	}
	go b.runHousekeeper()
	<-b.closing
	return nil
}

// Close stops every listener, disconnects every session and shuts the
// worker pool down.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.closing)
		for _, l := range b.listeners {
			l.Close()
		}
		b.listenersWg.Wait()

		b.mu.RLock()
		sessions := make([]*Session, 0, len(b.sessions))
		for _, s := range b.sessions {
			sessions = append(sessions, s)
		}
		b.mu.RUnlock()
		for _, s := range sessions {
			if c := s.Conn(); c != nil {
				c.sendDisconnect(packets.ErrServerShuttingDown)
				c.Close()
			}
		}
		b.pool.Close()
		b.Hooks.OnStopped()
	})
}

// EstablishConnection wraps a freshly accepted net.Conn and runs it to
// completion; listeners call this per accepted socket.
func (b *Broker) EstablishConnection(c net.Conn) {
	conn := NewConnection(c, b)
	conn.Serve()
}

// establishSession implements the distilled spec's session lookup/
// creation/takeover/clean-start rules (§4.6): an existing session is
// reused unless CleanStart is set, in which case it is discarded and
// replaced. Returns the session and whether it already existed
// (session-present).
func (b *Broker) establishSession(clientID string, cleanStart bool, version packets.ProtocolVersion, receiveMaximum uint32, sessionExpiryInterval uint32) (*Session, bool) {
	b.mu.Lock()
	existing, ok := b.sessions[clientID]
	var discarded *Session
	if ok && cleanStart {
		if prev := existing.Conn(); prev != nil {
			prev.sendDisconnect(packets.ErrSessionTakenOver)
			prev.Close()
		}
		delete(b.sessions, clientID)
		discarded = existing
		ok = false
	}
	if ok {
		if prev := existing.Conn(); prev != nil {
			b.Hooks.OnSessionTakenOver(clientID)
			prev.sendDisconnect(packets.ErrSessionTakenOver)
			prev.Close()
		}
		existing.SessionExpiryInterval = sessionExpiryInterval
		existing.CleanStart = cleanStart
		b.mu.Unlock()
		return existing, true
	}

	s := NewSession(clientID, version, receiveMaximum)
	s.SessionExpiryInterval = sessionExpiryInterval
	s.CleanStart = cleanStart
	b.sessions[clientID] = s
	b.mu.Unlock()

	// Clean-start replaces the prior session outright: its index entries
	// don't survive (the resolved open question in DESIGN.md) and its will
	// fires now rather than waiting on a delay nobody will ever check again.
	if discarded != nil {
		b.Topics.DeleteClient(clientID)
		if will := discarded.TakeWill(true); will != nil {
			b.publishWill(clientID, discarded.Version, will)
		}
	}
	return s, false
}

// sessionOf returns the live session for clientID, if any.
func (b *Broker) sessionOf(clientID string) *Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sessions[clientID]
}

// dropSession discards clientID's session entirely (used by the
// housekeeper once a disconnected session's expiry interval elapses).
func (b *Broker) dropSession(clientID string) {
	b.mu.Lock()
	delete(b.sessions, clientID)
	b.mu.Unlock()
	b.Topics.DeleteClient(clientID)
}

// publish fans pk out to every matching subscriber (distilled spec §4.7):
// retained-store update, then per-subscription QoS downgrade, no-local
// suppression and retain-as-published rewriting, with shared
// subscriptions round-robined across their group's members by whichever
// member least recently received a message.
func (b *Broker) publish(pk packets.Packet, originClientID string) {
	b.Sys.IncMessagesReceived()
	if pk.FixedHeader.Retain && b.Options.Capabilities.RetainAvailable {
		b.Retained.SetRetained(pk.TopicName, pk, originClientID)
		b.Hooks.OnRetainMessage(pk.TopicName, originClientID, len(pk.Payload) == 0)
	}

	matches := b.Topics.Matching(pk.TopicName)
	shared := make(map[string][]Subscription)
	direct := make([]Subscription, 0, len(matches))
	for _, sub := range matches {
		if sub.NoLocal && sub.ClientID == originClientID {
			continue
		}
		if sub.ShareName != "" {
			key := sub.ShareName + "\x00" + sub.Filter
			shared[key] = append(shared[key], sub)
			continue
		}
		direct = append(direct, sub)
	}

	for _, sub := range direct {
		b.deliverTo(sub, pk)
	}
	for _, group := range shared {
		if len(group) == 0 {
			continue
		}
		chosen := b.pickSharedMember(group)
		b.deliverTo(chosen, pk)
	}
}

// pickSharedMember selects the subscriber within a shared-subscription
// group that has gone longest without a delivery, the round-robin
// strategy named in the distilled spec's shared-subscription edge case.
func (b *Broker) pickSharedMember(group []Subscription) Subscription {
	best := group[0]
	bestTime := b.lastDelivered(best.ClientID)
	for _, sub := range group[1:] {
		t := b.lastDelivered(sub.ClientID)
		if t.Before(bestTime) {
			best, bestTime = sub, t
		}
	}
	b.markDelivered(best.ClientID)
	return best
}

func (b *Broker) lastDelivered(clientID string) time.Time {
	if s := b.sessionOf(clientID); s != nil {
		return s.LastSharedDelivery()
	}
	return time.Time{}
}

func (b *Broker) markDelivered(clientID string) {
	if s := b.sessionOf(clientID); s != nil {
		s.MarkSharedDelivery()
	}
}

// deliverTo queues one subscriber's copy of pk on the worker pool,
// applying the subscription's QoS cap and retain-as-published rule.
func (b *Broker) deliverTo(sub Subscription, pk packets.Packet) {
	s := b.sessionOf(sub.ClientID)
	if s == nil {
		return
	}
	out := pk.Copy()
	out.FixedHeader.Qos = minQos(pk.FixedHeader.Qos, sub.Qos)
	if !sub.RetainAsPublished {
		out.FixedHeader.Retain = false
	}
	if sub.HasSubscriptionID {
		out.Properties.SubscriptionID = []int{sub.SubscriptionID}
	}
	b.pool.Submit(sub.ClientID, func() {
		s.Publish(out, func(p packets.Packet) {
			if c := s.Conn(); c != nil {
				c.deliver(p)
			}
		})
	})
}

func minQos(a, b byte) byte {
	if a < b {
		return a
	}
	return b
}

// dispatchWill takes s's will message (if still set) and publishes it,
// bypassing its delay — used when the session itself is being discarded
// (clean-start replacement, final expiry) and there is no later point at
// which a delayed dispatch could still happen.
func (b *Broker) dispatchWill(s *Session) {
	will := s.TakeWill(true)
	if will == nil {
		return
	}
	b.publishWill(s.ClientID, s.Version, will)
}

// publishWill builds and fans out the PUBLISH for a detached will,
// notifying the OnWill/OnWillSent hooks around it.
func (b *Broker) publishWill(clientID string, version packets.ProtocolVersion, will *packets.Will) {
	pk := packets.NewPacket(packets.Publish, version)
	pk.TopicName = will.Topic
	pk.Payload = will.Payload
	pk.FixedHeader.Qos = will.Qos
	pk.FixedHeader.Retain = will.Retain
	pk.Properties = will.Properties
	b.Hooks.OnWill(clientID, *will)
	b.publish(pk, clientID)
	b.Hooks.OnWillSent(clientID, *will)
}
