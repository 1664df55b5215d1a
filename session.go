package embermqtt

import (
	"errors"
	"sync"
	"time"

	"github.com/alvar-labs/embermqtt/packets"
)

// ErrQuotaExceeded is returned by GeneratePacketID when every id in
// 1..65535 is already in use.
var ErrQuotaExceeded = errors.New("quota exceeded: no free packet identifiers")

// NeverExpire is the session-expiry-interval sentinel meaning "never
// discard this session while disconnected".
const NeverExpire uint32 = 0xFFFFFFFF

// InflightMessage is one QoS 1/2 PUBLISH (or its PUBREL) tracked by a
// session while it is outstanding.
type InflightMessage struct {
	Packet packets.Packet
	Sent   time.Time
}

// orderedMessages is an insertion-ordered map of packet id to inflight
// message. The distilled spec requires pending-send to drain in insertion
// order so that per-topic-per-publisher delivery order is preserved under
// QoS 1/2; a plain Go map would not guarantee that.
type orderedMessages struct {
	order []uint16
	items map[uint16]InflightMessage
}

func newOrderedMessages() *orderedMessages {
	return &orderedMessages{items: make(map[uint16]InflightMessage)}
}

func (o *orderedMessages) put(id uint16, m InflightMessage) {
	if _, exists := o.items[id]; !exists {
		o.order = append(o.order, id)
	}
	o.items[id] = m
}

func (o *orderedMessages) get(id uint16) (InflightMessage, bool) {
	m, ok := o.items[id]
	return m, ok
}

func (o *orderedMessages) delete(id uint16) {
	if _, ok := o.items[id]; !ok {
		return
	}
	delete(o.items, id)
	for i, v := range o.order {
		if v == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

func (o *orderedMessages) popFront() (uint16, InflightMessage, bool) {
	if len(o.order) == 0 {
		return 0, InflightMessage{}, false
	}
	id := o.order[0]
	m := o.items[id]
	o.order = o.order[1:]
	delete(o.items, id)
	return id, m, true
}

func (o *orderedMessages) len() int { return len(o.order) }

func (o *orderedMessages) ordered() []InflightMessage {
	out := make([]InflightMessage, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.items[id])
	}
	return out
}

// Session is the per-client-id logical entity that survives across
// reconnects: the distilled spec's packet-id allocator, pending-send
// queue, pending-ack/pending-pubrel maps, received-QoS2 map, will, and
// expiry timer.
type Session struct {
	mu sync.Mutex

	ClientID string
	Version  packets.ProtocolVersion

	nextPacketID uint16

	pendingSend   *orderedMessages
	pendingAck    *orderedMessages
	pendingPubrel *orderedMessages
	receivedQos2  map[uint16]packets.Packet

	sendQuota    uint32
	maxSendQuota uint32

	Will                  *packets.Will
	SessionExpiryInterval uint32
	CleanStart            bool

	connected      bool
	disconnectedAt time.Time

	// lastSharedDelivery is read by the broker's shared-subscription
	// round robin to pick the least-recently-served group member.
	lastSharedDelivery time.Time

	// conn is a non-owning, lookup-only handle to the attached
	// connection. Nil when no connection is currently attached.
	conn *Connection
}

// NewSession returns a fresh session for clientID with the given
// receive-maximum (the session's send-quota ceiling, from the peer's
// perspective of what it was willing to receive).
func NewSession(clientID string, version packets.ProtocolVersion, maxSendQuota uint32) *Session {
	if maxSendQuota == 0 {
		maxSendQuota = 1
	}
	return &Session{
		ClientID:      clientID,
		Version:       version,
		nextPacketID:  1,
		pendingSend:   newOrderedMessages(),
		pendingAck:    newOrderedMessages(),
		pendingPubrel: newOrderedMessages(),
		receivedQos2:  make(map[uint16]packets.Packet),
		sendQuota:     maxSendQuota,
		maxSendQuota:  maxSendQuota,
	}
}

// inUseLocked reports whether id currently appears in pending-send,
// pending-ack or pending-pubrel. Caller holds mu.
func (s *Session) inUseLocked(id uint16) bool {
	if _, ok := s.pendingSend.get(id); ok {
		return true
	}
	if _, ok := s.pendingAck.get(id); ok {
		return true
	}
	if _, ok := s.pendingPubrel.get(id); ok {
		return true
	}
	return false
}

// PacketIDInUse reports whether id already appears in this session's
// outbound inflight tracking (pending-send/pending-ack/pending-pubrel) —
// used to detect an inbound SUBSCRIBE packet id colliding with the
// broker's own outstanding packet id space, mirroring the teacher's
// inflight-map collision check.
func (s *Session) PacketIDInUse(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUseLocked(id)
}

// GeneratePacketID returns the next packet id not currently in use,
// wrapping 65535 back to 1. Returns ErrQuotaExceeded if every id is in
// use.
func (s *Session) GeneratePacketID() (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generatePacketIDLocked()
}

// Connected reports whether a connection is currently attached.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Attach marks the session connected and records the owning connection.
func (s *Session) Attach(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.conn = c
}

// Detach marks the session disconnected, clears the connection handle and
// stamps the disconnect time used by GetExpiryTime.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.conn = nil
	s.disconnectedAt = time.Now()
}

// Conn returns the currently attached connection, or nil.
func (s *Session) Conn() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// GetExpiryTime returns the absolute time at which a disconnected session
// should be discarded, or the zero Time if it is connected or its expiry
// interval is NeverExpire.
func (s *Session) GetExpiryTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected || s.SessionExpiryInterval == NeverExpire {
		return time.Time{}
	}
	return s.disconnectedAt.Add(time.Duration(s.SessionExpiryInterval) * time.Second)
}

// Publish enqueues pk for delivery to this session's owner, per the
// distilled spec's QoS-specific rules. For QoS 0 it is handed to deliver
// immediately if connected and otherwise dropped; for QoS 1/2 it is
// queued in pending-send and, if credit and a connection are available,
// sent right away. deliver is called with the connection's write path.
func (s *Session) Publish(pk packets.Packet, deliver func(packets.Packet)) {
	s.mu.Lock()
	if pk.FixedHeader.Qos == 0 {
		connected, conn := s.connected, s.conn
		s.mu.Unlock()
		if connected && conn != nil {
			deliver(pk)
		}
		return
	}

	id, err := s.generatePacketIDLocked()
	if err != nil {
		s.mu.Unlock()
		return
	}
	pk.PacketID = id
	s.pendingSend.put(id, InflightMessage{Packet: pk, Sent: time.Time{}})
	s.drainPendingLocked(deliver)
	s.mu.Unlock()
}

func (s *Session) generatePacketIDLocked() (uint16, error) {
	start := s.nextPacketID
	for {
		id := s.nextPacketID
		if s.nextPacketID == 65535 {
			s.nextPacketID = 1
		} else {
			s.nextPacketID++
		}
		if !s.inUseLocked(id) {
			return id, nil
		}
		if s.nextPacketID == start {
			return 0, ErrQuotaExceeded
		}
	}
}

// drainPendingLocked moves messages from pending-send to pending-ack
// while send quota and a live connection are available, in pending-send's
// insertion order. Caller holds mu.
func (s *Session) drainPendingLocked(deliver func(packets.Packet)) {
	if !s.connected || s.conn == nil {
		return
	}
	for s.sendQuota > 0 {
		id, msg, ok := s.pendingSend.popFront()
		if !ok {
			return
		}
		s.sendQuota--
		msg.Sent = time.Now()
		s.pendingAck.put(id, msg)
		deliver(msg.Packet)
	}
}

// SendPending drains pending-send into pending-ack while quota allows,
// without requiring a fresh publish (used after quota is returned by an
// ack).
func (s *Session) SendPending(deliver func(packets.Packet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainPendingLocked(deliver)
}

// ResendPending re-emits, in order, every entry in pending-ack (with dup
// set), then every entry in pending-pubrel, then drains pending-send —
// the distilled spec's reconnect recovery sequence.
func (s *Session) ResendPending(deliver func(packets.Packet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.pendingAck.ordered() {
		pk := msg.Packet.Copy()
		pk.FixedHeader.Dup = true
		pk.Dup = true
		deliver(pk)
	}
	for _, msg := range s.pendingPubrel.ordered() {
		deliver(msg.Packet)
	}
	s.drainPendingLocked(deliver)
}

// AcknowledgePublish removes id from pending-ack (on PUBACK, or on PUBREC
// for QoS 2) and returns whether it was present.
func (s *Session) AcknowledgePublish(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pendingAck.get(id)
	s.pendingAck.delete(id)
	return ok
}

// AcknowledgePubrel removes id from pending-pubrel (on PUBCOMP) and
// returns whether it was present.
func (s *Session) AcknowledgePubrel(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pendingPubrel.get(id)
	s.pendingPubrel.delete(id)
	return ok
}

// MovePubrel moves id from pending-ack to pending-pubrel on receipt of a
// positive PUBREC, storing pk (the outbound PUBREL) as the tracked
// message.
func (s *Session) MovePubrel(id uint16, pubrel packets.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingAck.delete(id)
	s.pendingPubrel.put(id, InflightMessage{Packet: pubrel, Sent: time.Now()})
}

// ReturnSendQuota increments sendQuota, saturating at maxSendQuota, then
// drains pending-send via deliver.
func (s *Session) ReturnSendQuota(deliver func(packets.Packet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendQuota < s.maxSendQuota {
		s.sendQuota++
	}
	s.drainPendingLocked(deliver)
}

// StoreReceivedQos2 stashes an inbound QoS 2 PUBLISH pending its PUBREL.
// Returns false if receive-maximum would be exceeded.
func (s *Session) StoreReceivedQos2(id uint16, pk packets.Packet, receiveMaximum uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.receivedQos2[id]; !exists && uint32(len(s.receivedQos2))+1 > receiveMaximum {
		return false
	}
	s.receivedQos2[id] = pk
	return true
}

// TakeReceivedQos2 removes and returns the PUBLISH stored under id (on
// receipt of the matching PUBREL).
func (s *Session) TakeReceivedQos2(id uint16) (packets.Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk, ok := s.receivedQos2[id]
	delete(s.receivedQos2, id)
	return pk, ok
}

// HasReceivedQos2 reports whether id is already stashed awaiting PUBREL —
// used by the QoS 2 receive-maximum check so that a duplicate of an
// already-stashed PUBLISH is not refused when the table is full.
func (s *Session) HasReceivedQos2(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.receivedQos2[id]
	return ok
}

// ReceivedQos2Len returns the number of QoS2 publishes currently awaiting
// PUBREL, for the receive-maximum check.
func (s *Session) ReceivedQos2Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receivedQos2)
}

// TakeWill atomically removes and returns the session's will, if one is
// set. With force false, a will whose delay interval hasn't elapsed yet
// (the session only just detached) is left in place for the housekeeper
// to pick up via TakeDueWill instead.
func (s *Session) TakeWill(force bool) *packets.Will {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Will == nil || !s.Will.Flag {
		return nil
	}
	if !force && s.Will.WillDelayInterval != 0 {
		return nil
	}
	w := s.Will
	s.Will = nil
	return w
}

// TakeDueWill removes and returns the session's will if it is still
// disconnected and now has reached disconnectedAt + willDelayInterval
// seconds, the housekeeper's periodic will-delay check (distilled spec
// §4.8, using >= per the corrected redesign note rather than the
// original's >).
func (s *Session) TakeDueWill(now time.Time) *packets.Will {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected || s.Will == nil || !s.Will.Flag {
		return nil
	}
	due := s.disconnectedAt.Add(time.Duration(s.Will.WillDelayInterval) * time.Second)
	if now.Before(due) {
		return nil
	}
	w := s.Will
	s.Will = nil
	return w
}

// LastSharedDelivery returns the last time this session was chosen as a
// shared-subscription group's recipient.
func (s *Session) LastSharedDelivery() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSharedDelivery
}

// MarkSharedDelivery stamps this session as just having been chosen by
// the shared-subscription round robin.
func (s *Session) MarkSharedDelivery() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSharedDelivery = time.Now()
}
