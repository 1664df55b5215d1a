package embermqtt

import (
	"testing"

	"github.com/alvar-labs/embermqtt/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePacketIDSkipsInUse(t *testing.T) {
	s := NewSession("c1", packets.ProtocolV5, 10)
	s.pendingAck.put(1, InflightMessage{})
	s.pendingPubrel.put(2, InflightMessage{})
	s.pendingSend.put(3, InflightMessage{})

	id, err := s.GeneratePacketID()
	require.NoError(t, err)
	assert.EqualValues(t, 4, id)
}

func TestGeneratePacketIDWrapsSkippingZero(t *testing.T) {
	s := NewSession("c1", packets.ProtocolV5, 10)
	s.nextPacketID = 65535
	id, err := s.GeneratePacketID()
	require.NoError(t, err)
	assert.EqualValues(t, 65535, id)

	id2, err := s.GeneratePacketID()
	require.NoError(t, err)
	assert.EqualValues(t, 1, id2)
}

func TestGeneratePacketIDExhausted(t *testing.T) {
	s := NewSession("c1", packets.ProtocolV5, 10)
	for i := 1; i <= 65535; i++ {
		s.pendingAck.put(uint16(i), InflightMessage{})
	}
	_, err := s.GeneratePacketID()
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestSendQuotaSaturatesAtMax(t *testing.T) {
	s := NewSession("c1", packets.ProtocolV5, 2)
	s.Attach(&Connection{})
	var delivered []packets.Packet
	deliver := func(pk packets.Packet) { delivered = append(delivered, pk) }

	pk := packets.NewPacket(packets.Publish, packets.ProtocolV5)
	pk.FixedHeader.Qos = 1
	s.Publish(pk, deliver)
	s.Publish(pk, deliver)
	s.Publish(pk, deliver) // exceeds quota, should queue not send

	assert.Equal(t, 2, len(delivered))
	assert.Equal(t, 1, s.pendingSend.len())
	assert.EqualValues(t, 0, s.sendQuota)

	s.ReturnSendQuota(deliver) // ack one: quota goes back to 1 and is spent draining the queued one
	assert.Equal(t, 3, len(delivered))
	assert.EqualValues(t, 0, s.sendQuota)
	s.ReturnSendQuota(deliver)
	s.ReturnSendQuota(deliver)
	s.ReturnSendQuota(deliver)
	assert.LessOrEqual(t, s.sendQuota, s.maxSendQuota)
}

func TestPendingMapsAreDisjoint(t *testing.T) {
	s := NewSession("c1", packets.ProtocolV5, 5)
	s.Attach(&Connection{})
	var delivered []packets.Packet
	deliver := func(pk packets.Packet) { delivered = append(delivered, pk) }

	pk := packets.NewPacket(packets.Publish, packets.ProtocolV5)
	pk.FixedHeader.Qos = 1
	s.Publish(pk, deliver)
	id := delivered[0].PacketID

	_, inSend := s.pendingSend.get(id)
	_, inAck := s.pendingAck.get(id)
	assert.False(t, inSend)
	assert.True(t, inAck)

	s.MovePubrel(id, packets.NewPacket(packets.Pubrel, packets.ProtocolV5))
	_, inAck = s.pendingAck.get(id)
	_, inPubrel := s.pendingPubrel.get(id)
	assert.False(t, inAck)
	assert.True(t, inPubrel)
}

func TestResendPendingMarksDuplicate(t *testing.T) {
	s := NewSession("c1", packets.ProtocolV5, 5)
	s.Attach(&Connection{})
	var delivered []packets.Packet
	deliver := func(pk packets.Packet) { delivered = append(delivered, pk) }

	pk := packets.NewPacket(packets.Publish, packets.ProtocolV5)
	pk.FixedHeader.Qos = 1
	s.Publish(pk, deliver)
	delivered = nil

	s.ResendPending(deliver)
	require.Len(t, delivered, 1)
	assert.True(t, delivered[0].Dup)
}

func TestReceivedQos2ReceiveMaximum(t *testing.T) {
	s := NewSession("c1", packets.ProtocolV5, 5)
	ok := s.StoreReceivedQos2(1, packets.Packet{}, 1)
	assert.True(t, ok)
	ok = s.StoreReceivedQos2(2, packets.Packet{}, 1)
	assert.False(t, ok)
}

func TestGetExpiryTimeNeverWhenConnectedOrIndefinite(t *testing.T) {
	s := NewSession("c1", packets.ProtocolV5, 5)
	s.Attach(&Connection{})
	assert.True(t, s.GetExpiryTime().IsZero())

	s.Detach()
	s.SessionExpiryInterval = NeverExpire
	assert.True(t, s.GetExpiryTime().IsZero())

	s.SessionExpiryInterval = 30
	assert.False(t, s.GetExpiryTime().IsZero())
}
