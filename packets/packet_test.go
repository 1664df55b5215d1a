package packets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, pk Packet) Packet {
	t.Helper()
	encoded, err := pk.Encode()
	require.NoError(t, err)

	var r Reader
	r.Feed(encoded)
	frame, ok, err := r.Next(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, encoded, frame)

	got, err := Decode(frame, pk.Version)
	require.NoError(t, err)
	return got
}

func TestConnectRoundTripV5(t *testing.T) {
	pk := NewPacket(Connect, ProtocolV5)
	pk.CleanStart = true
	pk.KeepAlive = 60
	pk.ClientID = "c1"
	pk.UsernameFlag = true
	pk.Username = "alice"
	pk.PasswordFlag = true
	pk.Password = []byte("secret")
	pk.Properties.HasSessionExpiry = true
	pk.Properties.SessionExpiryInterval = 60
	pk.WillPacket = Will{Flag: true, Topic: "last/will", Payload: []byte("bye"), Qos: 1, Retain: true}

	got := roundTrip(t, pk)
	assert.Equal(t, "c1", got.ClientID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, []byte("secret"), got.Password)
	assert.True(t, got.WillPacket.Flag)
	assert.Equal(t, "last/will", got.WillPacket.Topic)
	assert.EqualValues(t, 1, got.WillPacket.Qos)
	assert.True(t, got.WillPacket.Retain)
	assert.True(t, got.Properties.HasSessionExpiry)
	assert.EqualValues(t, 60, got.Properties.SessionExpiryInterval)
}

func TestConnectRoundTripV311(t *testing.T) {
	pk := NewPacket(Connect, ProtocolV311)
	pk.CleanStart = true
	pk.KeepAlive = 30
	pk.ClientID = "c2"

	got := roundTrip(t, pk)
	assert.Equal(t, "c2", got.ClientID)
	assert.EqualValues(t, 30, got.KeepAlive)
}

func TestConnackRoundTrip(t *testing.T) {
	pk := NewPacket(Connack, ProtocolV5)
	pk.SessionPresent = true
	pk.ReasonCode = ErrServerBusy
	pk.Properties.AssignedClientID = "server-assigned"

	got := roundTrip(t, pk)
	assert.True(t, got.SessionPresent)
	assert.Equal(t, ErrServerBusy.Byte, got.ReasonCode.Byte)
	assert.Equal(t, "server-assigned", got.Properties.AssignedClientID)
}

func TestPublishRoundTripQos1(t *testing.T) {
	pk := NewPacket(Publish, ProtocolV5)
	pk.FixedHeader.Qos = 1
	pk.TopicName = "t/x"
	pk.PacketID = 42
	pk.Payload = []byte("hi")
	pk.Properties.HasTopicAlias = true
	pk.Properties.TopicAlias = 7

	got := roundTrip(t, pk)
	assert.Equal(t, "t/x", got.TopicName)
	assert.EqualValues(t, 42, got.PacketID)
	assert.Equal(t, []byte("hi"), got.Payload)
	assert.EqualValues(t, 7, got.Properties.TopicAlias)
}

func TestPublishRoundTripQos0NoPacketID(t *testing.T) {
	pk := NewPacket(Publish, ProtocolV311)
	pk.TopicName = "a/b"
	pk.Payload = []byte("x")

	got := roundTrip(t, pk)
	assert.EqualValues(t, 0, got.PacketID)
	assert.Equal(t, "a/b", got.TopicName)
}

func TestConfirmPacketsRoundTrip(t *testing.T) {
	for _, typ := range []byte{Puback, Pubrec, Pubrel, Pubcomp} {
		pk := NewPacket(typ, ProtocolV5)
		if typ == Pubrel {
			pk.FixedHeader.Qos = 1
		}
		pk.PacketID = 99
		pk.ReasonCode = ErrPacketIdentifierNotFound

		got := roundTrip(t, pk)
		assert.EqualValues(t, 99, got.PacketID)
		assert.Equal(t, ErrPacketIdentifierNotFound.Byte, got.ReasonCode.Byte)
	}
}

func TestConfirmPacketOmitsReasonWhenSuccess(t *testing.T) {
	pk := NewPacket(Puback, ProtocolV5)
	pk.PacketID = 5
	pk.ReasonCode = CodeSuccess

	encoded, err := pk.Encode()
	require.NoError(t, err)
	assert.Equal(t, 2, pk.FixedHeader.Remaining) // just the packet id, per MQTT-3.4.2.1

	got, err := Decode(encoded, ProtocolV5)
	require.NoError(t, err)
	assert.Equal(t, CodeSuccess.Byte, got.ReasonCode.Byte)
}

func TestSubscribeRoundTrip(t *testing.T) {
	pk := NewPacket(Subscribe, ProtocolV5)
	pk.FixedHeader.Qos = 1
	pk.PacketID = 10
	pk.Properties.SubscriptionID = []int{5}
	pk.Subscriptions = []Subscription{
		{Filter: "t/+", Options: SubOptions{Qos: 1, NoLocal: true, RetainHandling: 2}},
		{Filter: "$share/g/t/#", Options: SubOptions{Qos: 2}},
	}

	got := roundTrip(t, pk)
	require.Len(t, got.Subscriptions, 2)
	assert.Equal(t, "t/+", got.Subscriptions[0].Filter)
	assert.True(t, got.Subscriptions[0].Options.NoLocal)
	assert.EqualValues(t, 2, got.Subscriptions[0].Options.RetainHandling)
	assert.Equal(t, []int{5}, got.Properties.SubscriptionID)
}

func TestSubackRoundTrip(t *testing.T) {
	pk := NewPacket(Suback, ProtocolV5)
	pk.PacketID = 11
	pk.ReasonCodes = []Code{CodeGrantedQos1, ErrTopicFilterInvalid}

	got := roundTrip(t, pk)
	require.Len(t, got.ReasonCodes, 2)
	assert.Equal(t, CodeGrantedQos1.Byte, got.ReasonCodes[0].Byte)
	assert.Equal(t, ErrTopicFilterInvalid.Byte, got.ReasonCodes[1].Byte)
}

func TestUnsubscribeUnsubackRoundTrip(t *testing.T) {
	pk := NewPacket(Unsubscribe, ProtocolV5)
	pk.FixedHeader.Qos = 1
	pk.PacketID = 12
	pk.Unsubscriptions = []Unsubscription{{Filter: "a/b"}, {Filter: "c/d"}}
	got := roundTrip(t, pk)
	require.Len(t, got.Unsubscriptions, 2)
	assert.Equal(t, "a/b", got.Unsubscriptions[0].Filter)

	ack := NewPacket(Unsuback, ProtocolV5)
	ack.PacketID = 12
	ack.ReasonCodes = []Code{CodeSuccess, CodeNoSubscriptionExisted}
	gotAck := roundTrip(t, ack)
	assert.Equal(t, CodeNoSubscriptionExisted.Byte, gotAck.ReasonCodes[1].Byte)
}

func TestPingPacketsRoundTrip(t *testing.T) {
	pk := NewPacket(Pingreq, ProtocolV311)
	got := roundTrip(t, pk)
	assert.Equal(t, byte(Pingreq), got.FixedHeader.Type)
}

func TestDisconnectRoundTrip(t *testing.T) {
	pk := NewPacket(Disconnect, ProtocolV5)
	pk.ReasonCode = ErrSessionTakenOver
	pk.Properties.SessionExpiryInterval = 0
	pk.Properties.HasSessionExpiry = true

	got := roundTrip(t, pk)
	assert.Equal(t, ErrSessionTakenOver.Byte, got.ReasonCode.Byte)
}

func TestDisconnectOmitsBodyOnSuccess(t *testing.T) {
	pk := NewPacket(Disconnect, ProtocolV5)
	pk.ReasonCode = CodeSuccess
	encoded, err := pk.Encode()
	require.NoError(t, err)
	assert.Equal(t, 0, pk.FixedHeader.Remaining)

	got, err := Decode(encoded, ProtocolV5)
	require.NoError(t, err)
	assert.Equal(t, CodeSuccess.Byte, got.ReasonCode.Byte)
}

func TestAuthRoundTrip(t *testing.T) {
	pk := NewPacket(Auth, ProtocolV5)
	pk.ReasonCode = CodeContinueAuthentication
	pk.Properties.AuthenticationMethod = "SCRAM-SHA-1"
	pk.Properties.AuthenticationData = []byte{1, 2, 3}

	got := roundTrip(t, pk)
	assert.Equal(t, CodeContinueAuthentication.Byte, got.ReasonCode.Byte)
	assert.Equal(t, "SCRAM-SHA-1", got.Properties.AuthenticationMethod)
	assert.Equal(t, []byte{1, 2, 3}, got.Properties.AuthenticationData)
}

func TestEncodedLengthMatchesRemainingLengthPlusFixedHeader(t *testing.T) {
	pk := NewPacket(Publish, ProtocolV5)
	pk.TopicName = "t"
	pk.Payload = []byte("payload")
	encoded, err := pk.Encode()
	require.NoError(t, err)

	fixedHeaderLen := 1
	n := pk.FixedHeader.Remaining
	for {
		fixedHeaderLen++
		n /= 128
		if n == 0 {
			break
		}
	}
	assert.Equal(t, fixedHeaderLen+pk.FixedHeader.Remaining, len(encoded))
}
