package embermqtt

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alvar-labs/embermqtt/packets"
)

// ConnState is one state of the per-connection state machine.
type ConnState int32

const (
	StateWaitingForConnect ConnState = iota
	StateAuthenticating
	StateConnected
	StateDisconnected
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrNotConnected      = errors.New("connect expected first")
)

// maxConnectTime bounds how long a socket may sit after being accepted
// without completing the CONNECT handshake.
const maxConnectTime = 20 * time.Second

// Connection is the live, per-TCP(or ws)-socket half of a client: the read
// loop, the outbound write path and the handshake/keep-alive state machine
// described by the distilled spec's connection component. A Connection is
// transient; the Session it is attached to survives across reconnects.
type Connection struct {
	mu sync.Mutex

	conn   net.Conn
	reader *packets.Reader
	writer *bufio.Writer

	broker *Broker
	Log    *slog.Logger

	state atomic.Int32

	ClientID string
	Version  packets.ProtocolVersion
	Username string

	keepAlive      uint16
	lastPacketRead atomic.Int64 // unix nanos

	receiveMaximum uint32 // peer's receive-maximum: our send quota ceiling
	topicAliasesOut map[string]uint16
	topicAliasesIn  map[uint16]string

	session *Session

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection wraps a raw net.Conn, not yet associated with any session.
func NewConnection(c net.Conn, b *Broker) *Connection {
	conn := &Connection{
		conn:            c,
		reader:          &packets.Reader{},
		writer:          bufio.NewWriter(c),
		broker:          b,
		keepAlive:       60,
		topicAliasesOut: make(map[string]uint16),
		topicAliasesIn:  make(map[uint16]string),
		closed:          make(chan struct{}),
	}
	conn.state.Store(int32(StateWaitingForConnect))
	if b != nil {
		conn.Log = b.Log
	} else {
		conn.Log = slog.Default()
	}
	return conn
}

func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

func (c *Connection) setState(s ConnState) { c.state.Store(int32(s)) }

// deliver is the write path handed to Session.Publish/SendPending/
// ResendPending: it encodes and writes pk, and on failure tears the
// connection down. Session calls it while holding that session's own
// mutex, so a slow write holds the session lock, but never while holding
// the broker's locks.
func (c *Connection) deliver(pk packets.Packet) {
	pk.Version = c.Version
	frame, err := pk.Encode()
	if err != nil {
		c.Log.Error("encode outbound packet", "client", c.ClientID, "err", err)
		return
	}
	c.mu.Lock()
	_, werr := c.writer.Write(frame)
	if werr == nil {
		werr = c.writer.Flush()
	}
	c.mu.Unlock()
	if werr != nil {
		c.Log.Debug("write failed, closing", "client", c.ClientID, "err", werr)
		c.Close()
		return
	}
	if c.broker != nil {
		c.broker.Hooks.OnPacketSent(c.ClientID, pk)
		c.broker.Hooks.BytesSent(c.ClientID, len(frame))
		c.broker.Sys.AddBytesSent(len(frame))
		if pk.FixedHeader.Type == packets.Publish {
			c.broker.Sys.IncMessagesSent()
		}
	}
}

// sendDisconnect emits a server-initiated DISCONNECT carrying code. MQTT
// v3.1.1 has no server-to-client DISCONNECT; per the distilled spec's
// error-handling policy (§7), a v4 peer is just closed instead.
func (c *Connection) sendDisconnect(code packets.Code) {
	if c.Version != packets.ProtocolV5 {
		return
	}
	disc := packets.NewPacket(packets.Disconnect, c.Version)
	disc.ReasonCode = code
	c.deliver(disc)
}

// Close closes the underlying socket exactly once.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.setState(StateDisconnected)
		close(c.closed)
		_ = c.conn.Close()
	})
}

// Serve runs the connection's entire lifetime: CONNECT handshake, then the
// read loop dispatching every subsequent packet, until the peer
// disconnects, the keep-alive timer lapses or the socket errors. It always
// returns after the connection is fully torn down.
func (c *Connection) Serve() {
	defer c.Close()
	defer c.onDisconnected()

	if err := c.handleConnect(); err != nil {
		c.Log.Debug("connect handshake failed", "err", err)
		return
	}

	for {
		if c.keepAlive > 0 {
			c.conn.SetReadDeadline(time.Now().Add(time.Duration(c.keepAlive) * 3 / 2 * time.Second))
		} else {
			c.conn.SetReadDeadline(time.Time{})
		}
		frame, err := c.readFrame()
		if err != nil {
			return
		}
		pk, err := packets.Decode(frame, c.Version)
		if err != nil {
			c.Log.Debug("malformed packet", "client", c.ClientID, "err", err)
			return
		}
		c.lastPacketRead.Store(time.Now().UnixNano())
		if c.broker != nil {
			c.broker.Hooks.OnPacketRead(c.ClientID, pk)
		}
		if c.dispatch(pk) {
			return
		}
	}
}

// readFrame blocks on the socket, feeding bytes to the streaming reader
// until one full MQTT control packet is assembled.
func (c *Connection) readFrame() ([]byte, error) {
	buf := make([]byte, 4096)
	for {
		if frame, ok, err := c.reader.Next(c.maxPacketSize()); err != nil {
			return nil, err
		} else if ok {
			return frame, nil
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.reader.Feed(buf[:n])
			if c.broker != nil {
				c.broker.Hooks.BytesReceived(c.ClientID, n)
				c.broker.Sys.AddBytesReceived(n)
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *Connection) maxPacketSize() uint32 {
	if c.broker == nil || c.broker.Options.Capabilities.MaximumPacketSize == 0 {
		return 268435460
	}
	return c.broker.Options.Capabilities.MaximumPacketSize
}

// handleConnect performs the CONNECT/CONNACK handshake (distilled spec
// §4.6): protocol validation, username/password authentication through
// Hooks.Authenticate, empty-client-id assignment, session lookup/creation/
// takeover and CONNACK capability negotiation. v5 enhanced authentication
// (an authentication-method property followed by AUTH exchanges) is not
// performed: Hooks.AuthenticateEnhanced is never called from here.
func (c *Connection) handleConnect() error {
	c.conn.SetReadDeadline(time.Now().Add(maxConnectTime))
	frame, err := c.readFrame()
	if err != nil {
		return err
	}
	// CONNECT's protocol version isn't known yet; v3.1.1 and v5 share the
	// same fixed-header/variable-header shape up to the version byte, so
	// decode optimistically as v5 and fall back.
	pk, err := packets.Decode(frame, packets.ProtocolV5)
	if err != nil {
		pk, err = packets.Decode(frame, packets.ProtocolV311)
		if err != nil {
			return err
		}
	}
	if pk.FixedHeader.Type != packets.Connect {
		return ErrProtocolViolation
	}

	c.setState(StateAuthenticating)
	c.Version = pk.Version
	c.ClientID = pk.ClientID
	if c.ClientID == "" {
		c.ClientID = NewClientID()
	}
	c.Username = pk.Username
	c.keepAlive = pk.KeepAlive
	var serverKeepAlive uint16
	if c.broker != nil {
		if ka := c.broker.Options.Capabilities.ServerKeepAlive; ka != 0 && (c.keepAlive == 0 || ka < c.keepAlive) {
			serverKeepAlive = ka
			c.keepAlive = ka
		}
	}
	c.receiveMaximum = uint32(pk.Properties.ReceiveMaximum)
	if c.receiveMaximum == 0 {
		c.receiveMaximum = uint32(c.broker.Options.Capabilities.ReceiveMaximum)
	}

	var sessionExpiryInterval uint32
	if pk.Properties.HasSessionExpiry {
		sessionExpiryInterval = pk.Properties.SessionExpiryInterval
		if c.broker != nil && sessionExpiryInterval > c.broker.Options.Capabilities.MaximumSessionExpiryInterval {
			sessionExpiryInterval = c.broker.Options.Capabilities.MaximumSessionExpiryInterval
		}
	}

	code := packets.CodeSuccess
	if c.broker != nil && !c.broker.Hooks.Authenticate(c.ClientID, pk.Username, pk.Password) {
		code = packets.ErrBadUsernameOrPassword
	}

	connack := packets.NewPacket(packets.Connack, c.Version)
	if code.Failed() {
		connack.ReasonCode = code
		c.writeConnack(connack)
		return code
	}

	sessionPresent := false
	if c.broker != nil {
		c.session, sessionPresent = c.broker.establishSession(c.ClientID, pk.CleanStart, pk.Version, c.receiveMaximum, sessionExpiryInterval)
		if pk.WillPacket.Flag {
			will := pk.WillPacket
			c.session.Will = &will
		}
		c.session.Attach(c)
		c.broker.Hooks.OnSessionEstablished(c.ClientID, sessionPresent)
		c.broker.Sys.ClientConnected()
	}

	connack.SessionPresent = sessionPresent
	connack.ReasonCode = packets.CodeSuccess
	if c.broker != nil {
		caps := c.broker.Options.Capabilities
		connack.Properties.HasReceiveMax = true
		connack.Properties.ReceiveMaximum = caps.ReceiveMaximum
		connack.Properties.HasMaxQos = caps.MaximumQos < 2
		connack.Properties.MaximumQos = caps.MaximumQos
		connack.Properties.HasRetainAvail = true
		connack.Properties.RetainAvailable = boolToByte(caps.RetainAvailable)
		connack.Properties.HasWildcardSubAvail = true
		connack.Properties.WildcardSubAvailable = boolToByte(caps.WildcardSubAvailable)
		connack.Properties.HasSubIDAvail = true
		connack.Properties.SubIDAvailable = boolToByte(caps.SubIDAvailable)
		connack.Properties.HasSharedSubAvail = true
		connack.Properties.SharedSubAvailable = boolToByte(caps.SharedSubAvailable)
		if caps.MaximumPacketSize != 0 {
			connack.Properties.HasMaxPacketSize = true
			connack.Properties.MaximumPacketSize = caps.MaximumPacketSize
		}
		connack.Properties.HasTopicAliasMax = true
		connack.Properties.TopicAliasMaximum = caps.MaximumTopicAlias
		if serverKeepAlive != 0 {
			connack.Properties.HasKeepAlive = true
			connack.Properties.ServerKeepAlive = serverKeepAlive
		}
		if pk.Properties.HasRequestResponse && pk.Properties.RequestResponseInfo != 0 && caps.ResponseInformation != "" {
			connack.Properties.ResponseInfo = caps.ResponseInformation
		}
		if pk.ClientID == "" {
			connack.Properties.AssignedClientID = c.ClientID
		}
	}
	c.writeConnack(connack)
	c.setState(StateConnected)

	if c.session != nil {
		c.session.ResendPending(c.deliver)
	}
	return nil
}

func (c *Connection) writeConnack(pk packets.Packet) {
	frame, err := pk.Encode()
	if err != nil {
		return
	}
	c.mu.Lock()
	c.writer.Write(frame)
	c.writer.Flush()
	c.mu.Unlock()
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// onDisconnected detaches the session (if any) and, unless a clean
// DISCONNECT already cleared the will (MQTT-3.1.2-10), publishes the
// session's will message at once when its will-delay is zero.
func (c *Connection) onDisconnected() {
	if c.session == nil {
		return
	}
	version := c.session.Version
	c.session.Detach()
	if c.broker != nil {
		c.broker.Hooks.RemoveClient(c.ClientID)
		c.broker.Sys.ClientDisconnected()
		// A zero will-delay fires immediately; anything longer is left for
		// the housekeeper's periodic TakeDueWill sweep so the session stays
		// alive to receive it at the right time.
		if will := c.session.TakeWill(false); will != nil {
			c.broker.publishWill(c.ClientID, version, will)
		}
	}
}

// dispatch handles one fully decoded, post-handshake packet. Returns true
// if the connection should be torn down.
func (c *Connection) dispatch(pk packets.Packet) bool {
	switch pk.FixedHeader.Type {
	case packets.Publish:
		return c.handlePublish(pk)
	case packets.Puback:
		c.handlePuback(pk)
	case packets.Pubrec:
		c.handlePubrec(pk)
	case packets.Pubrel:
		c.handlePubrel(pk)
	case packets.Pubcomp:
		c.handlePubcomp(pk)
	case packets.Subscribe:
		return c.handleSubscribe(pk)
	case packets.Unsubscribe:
		c.handleUnsubscribe(pk)
	case packets.Pingreq:
		c.deliver(packets.NewPacket(packets.Pingresp, c.Version))
	case packets.Disconnect:
		c.handleDisconnect(pk)
		return true
	case packets.Auth:
		// AUTH after the handshake (re-authentication) is ignored; no reply
		// is sent.
	default:
		return true
	}
	return false
}

func (c *Connection) handlePublish(pk packets.Packet) bool {
	if topic, violates := c.resolveTopicAliasIn(&pk); violates {
		c.sendDisconnect(packets.ErrTopicAliasInvalid)
		return true
	} else {
		pk.TopicName = topic
	}
	if c.broker != nil && pk.FixedHeader.Qos > c.broker.Options.Capabilities.MaximumQos {
		if pk.FixedHeader.Qos > 0 {
			ack := packets.NewPacket(ackTypeFor(pk.FixedHeader.Qos), c.Version)
			ack.PacketID = pk.PacketID
			ack.ReasonCode = packets.ErrQosNotSupported
			c.deliver(ack)
			return false
		}
		c.sendDisconnect(packets.ErrQosNotSupported)
		return true
	}
	if c.broker != nil && pk.FixedHeader.Retain && !c.broker.Options.Capabilities.RetainAvailable {
		if pk.FixedHeader.Qos > 0 {
			ack := packets.NewPacket(ackTypeFor(pk.FixedHeader.Qos), c.Version)
			ack.PacketID = pk.PacketID
			ack.ReasonCode = packets.ErrRetainNotSupported
			c.deliver(ack)
			return false
		}
		c.sendDisconnect(packets.ErrRetainNotSupported)
		return true
	}
	if c.broker != nil && !c.broker.Hooks.Authorize(c.ClientID, pk.TopicName, false) {
		if pk.FixedHeader.Qos > 0 {
			ack := packets.NewPacket(ackTypeFor(pk.FixedHeader.Qos), c.Version)
			ack.PacketID = pk.PacketID
			ack.ReasonCode = packets.ErrNotAuthorized
			c.deliver(ack)
		}
		return false
	}

	switch pk.FixedHeader.Qos {
	case 0:
		if c.broker != nil {
			c.broker.publish(pk, c.ClientID)
		}
	case 1:
		if c.broker != nil {
			c.broker.publish(pk, c.ClientID)
		}
		puback := packets.NewPacket(packets.Puback, c.Version)
		puback.PacketID = pk.PacketID
		c.deliver(puback)
	case 2:
		if c.session.ReceivedQos2Len() >= int(c.receiveMaximumIn()) && !c.session.HasReceivedQos2(pk.PacketID) {
			pubrec := packets.NewPacket(packets.Pubrec, c.Version)
			pubrec.PacketID = pk.PacketID
			pubrec.ReasonCode = packets.ErrReceiveMaximumExceeded
			c.deliver(pubrec)
			return false
		}
		isNew := c.session.StoreReceivedQos2(pk.PacketID, pk, uint32(c.receiveMaximumIn()))
		pubrec := packets.NewPacket(packets.Pubrec, c.Version)
		pubrec.PacketID = pk.PacketID
		if !isNew {
			pubrec.ReasonCode = packets.ErrReceiveMaximumExceeded
		}
		c.deliver(pubrec)
	}
	return false
}

func (c *Connection) receiveMaximumIn() uint16 {
	if c.broker == nil {
		return 65535
	}
	return c.broker.Options.Capabilities.ReceiveMaximum
}

func ackTypeFor(qos byte) byte {
	if qos == 2 {
		return packets.Pubrec
	}
	return packets.Puback
}

// resolveTopicAliasIn substitutes an inbound topic alias for its bound
// topic name, or records a fresh binding (MQTT-3.3.2-10/11/12). The second
// return reports a protocol violation: alias 0, alias above the
// negotiated maximum-topic-alias, or a bare alias that was never
// previously bound.
func (c *Connection) resolveTopicAliasIn(pk *packets.Packet) (string, bool) {
	if !pk.Properties.HasTopicAlias {
		return pk.TopicName, false
	}
	alias := pk.Properties.TopicAlias
	if alias == 0 {
		return "", true
	}
	if c.broker != nil && alias > c.broker.Options.Capabilities.MaximumTopicAlias {
		return "", true
	}
	if pk.TopicName != "" {
		c.topicAliasesIn[alias] = pk.TopicName
		return pk.TopicName, false
	}
	topic, ok := c.topicAliasesIn[alias]
	if !ok {
		return "", true
	}
	return topic, false
}

func (c *Connection) handlePuback(pk packets.Packet) {
	c.session.AcknowledgePublish(pk.PacketID)
	c.session.ReturnSendQuota(c.deliver)
}

func (c *Connection) handlePubrec(pk packets.Packet) {
	if pk.ReasonCode.Failed() {
		c.session.AcknowledgePublish(pk.PacketID)
		c.session.ReturnSendQuota(c.deliver)
		return
	}
	pubrel := packets.NewPacket(packets.Pubrel, c.Version)
	pubrel.PacketID = pk.PacketID
	c.session.MovePubrel(pk.PacketID, pubrel)
	c.deliver(pubrel)
}

func (c *Connection) handlePubrel(pk packets.Packet) {
	stored, ok := c.session.TakeReceivedQos2(pk.PacketID)
	pubcomp := packets.NewPacket(packets.Pubcomp, c.Version)
	pubcomp.PacketID = pk.PacketID
	c.deliver(pubcomp)
	if ok && c.broker != nil {
		c.broker.publish(stored, c.ClientID)
	}
}

func (c *Connection) handlePubcomp(pk packets.Packet) {
	c.session.AcknowledgePubrel(pk.PacketID)
	c.session.ReturnSendQuota(c.deliver)
}

// notSupportedReason reports whether code is one of the three v5-only
// "not supported" SUBACK reasons that the distilled spec (§4.6) requires
// disconnecting the connection over, once the SUBACK itself has gone out.
func notSupportedReason(code packets.Code) bool {
	return code == packets.ErrSharedSubscriptionsNotSupported ||
		code == packets.ErrSubscriptionIdsNotSupported ||
		code == packets.ErrWildcardSubscriptionsNotSupported
}

func (c *Connection) handleSubscribe(pk packets.Packet) bool {
	suback := packets.NewPacket(packets.Suback, c.Version)
	suback.PacketID = pk.PacketID
	suback.ReasonCodes = make([]packets.Code, len(pk.Subscriptions))

	hasSubID := len(pk.Properties.SubscriptionID) > 0
	idInUse := c.session != nil && c.session.PacketIDInUse(pk.PacketID)
	disconnectAfter := false

	for i, sub := range pk.Subscriptions {
		if idInUse {
			suback.ReasonCodes[i] = packets.ErrPacketIdentifierInUse
			continue
		}
		share, filter, err := ParseFilter(sub.Filter)
		if err != nil || !ValidTopicFilter(filter) {
			suback.ReasonCodes[i] = packets.ErrMalformedPacketReason
			continue
		}
		if sub.Options.NoLocal && share != "" {
			suback.ReasonCodes[i] = packets.ErrProtocolError
			continue
		}
		var caps Capabilities
		if c.broker != nil {
			caps = *c.broker.Options.Capabilities
		}
		if share != "" && c.broker != nil && !caps.SharedSubAvailable {
			suback.ReasonCodes[i] = packets.ErrSharedSubscriptionsNotSupported
			disconnectAfter = true
			continue
		}
		if hasSubID && c.broker != nil && !caps.SubIDAvailable {
			suback.ReasonCodes[i] = packets.ErrSubscriptionIdsNotSupported
			disconnectAfter = true
			continue
		}
		if strings.ContainsAny(filter, "+#") && c.broker != nil && !caps.WildcardSubAvailable {
			suback.ReasonCodes[i] = packets.ErrWildcardSubscriptionsNotSupported
			disconnectAfter = true
			continue
		}
		if c.broker != nil && !c.broker.Hooks.Authorize(c.ClientID, sub.Filter, true) {
			suback.ReasonCodes[i] = packets.ErrNotAuthorized
			continue
		}
		qos := sub.Options.Qos
		if c.broker != nil && qos > caps.MaximumQos {
			qos = caps.MaximumQos
		}
		entry := Subscription{
			ClientID:          c.ClientID,
			Filter:            filter,
			ShareName:         share,
			Qos:               qos,
			NoLocal:           sub.Options.NoLocal,
			RetainAsPublished: sub.Options.RetainAsPublished,
			RetainHandling:    sub.Options.RetainHandling,
		}
		if hasSubID {
			entry.HasSubscriptionID = true
			entry.SubscriptionID = pk.Properties.SubscriptionID[0]
		}
		replaced := false
		if c.broker != nil {
			replaced = c.broker.Topics.Insert(entry)
			c.broker.Hooks.PersistSubscription(c.ClientID, entry)
		}
		suback.ReasonCodes[i] = packets.QosGrantCode(packets.Qos(qos))

		deliverRetained := c.broker != nil
		switch sub.Options.RetainHandling {
		case 1:
			deliverRetained = deliverRetained && !replaced
		case 2:
			deliverRetained = false
		}
		if deliverRetained {
			for _, rm := range c.broker.Retained.GetRetained(filter) {
				if sub.Options.NoLocal && rm.Origin == c.ClientID {
					continue
				}
				out := rm.Packet.Copy()
				out.FixedHeader.Qos = minQos(rm.Packet.FixedHeader.Qos, qos)
				if !sub.Options.RetainAsPublished {
					out.FixedHeader.Retain = true
				}
				if out.FixedHeader.Qos == 0 {
					c.deliver(out)
				} else if c.session != nil {
					c.session.Publish(out, c.deliver)
				}
			}
		}
	}
	c.deliver(suback)

	if disconnectAfter {
		for _, code := range suback.ReasonCodes {
			if notSupportedReason(code) {
				c.sendDisconnect(code)
				return true
			}
		}
	}
	return false
}

func (c *Connection) handleUnsubscribe(pk packets.Packet) {
	unsuback := packets.NewPacket(packets.Unsuback, c.Version)
	unsuback.PacketID = pk.PacketID
	unsuback.ReasonCodes = make([]packets.Code, len(pk.Unsubscriptions))
	for i, u := range pk.Unsubscriptions {
		_, filter, err := ParseFilter(u.Filter)
		if err != nil {
			unsuback.ReasonCodes[i] = packets.ErrMalformedPacketReason
			continue
		}
		if c.broker != nil && c.broker.Topics.Delete(c.ClientID, u.Filter) {
			unsuback.ReasonCodes[i] = packets.CodeSuccess
			c.broker.Hooks.RemoveSubscription(c.ClientID, filter)
		} else {
			unsuback.ReasonCodes[i] = packets.CodeNoSubscriptionExisted
		}
	}
	c.deliver(unsuback)
}

// handleDisconnect applies the distilled spec's session-expiry and
// will-clearing rules for a client-initiated DISCONNECT.
func (c *Connection) handleDisconnect(pk packets.Packet) {
	if c.session == nil {
		return
	}
	if pk.ReasonCode.Byte == packets.CodeSuccess.Byte {
		c.session.Will = nil
	}
	if pk.Properties.HasSessionExpiry {
		if c.session.SessionExpiryInterval == 0 && pk.Properties.SessionExpiryInterval != 0 {
			// MQTT-3.1.2-11: a client that connected with expiry 0 may not
			// extend it at disconnect time; leave unchanged.
			return
		}
		c.session.SessionExpiryInterval = pk.Properties.SessionExpiryInterval
	}
}
