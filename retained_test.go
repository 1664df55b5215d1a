package embermqtt

import (
	"testing"
	"time"

	"github.com/alvar-labs/embermqtt/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retainedPublish(topic, payload string) packets.Packet {
	pk := packets.NewPacket(packets.Publish, packets.ProtocolV5)
	pk.TopicName = topic
	pk.Payload = []byte(payload)
	pk.FixedHeader.Retain = true
	return pk
}

func TestRetainedSetAndGet(t *testing.T) {
	store := NewRetainedStore()
	store.SetRetained("r", retainedPublish("r", "A"), "origin1")

	got := store.GetRetained("r")
	require.Len(t, got, 1)
	assert.Equal(t, "origin1", got[0].Origin)
	assert.Equal(t, []byte("A"), got[0].Packet.Payload)
}

func TestRetainedEmptyPayloadRemoves(t *testing.T) {
	store := NewRetainedStore()
	store.SetRetained("r", retainedPublish("r", "A"), "origin1")
	store.SetRetained("r", retainedPublish("r", ""), "origin1")

	got := store.GetRetained("r")
	assert.Empty(t, got)
	assert.Equal(t, 0, store.Len())
}

func TestRetainedWildcardLookup(t *testing.T) {
	store := NewRetainedStore()
	store.SetRetained("t/a", retainedPublish("t/a", "1"), "o")
	store.SetRetained("t/b", retainedPublish("t/b", "2"), "o")
	store.SetRetained("u/c", retainedPublish("u/c", "3"), "o")

	got := store.GetRetained("t/+")
	assert.Len(t, got, 2)
}

func TestRetainedExpirySweep(t *testing.T) {
	store := NewRetainedStore()
	base := time.Now()
	store.now = func() time.Time { return base }

	pk := retainedPublish("r", "A")
	pk.Properties.HasMessageExpiry = true
	pk.Properties.MessageExpiryInterval = 1
	store.SetRetained("r", pk, "o")

	store.now = func() time.Time { return base.Add(2 * time.Second) }
	store.SweepExpired()
	assert.Equal(t, 0, store.Len())
}

func TestRetainedDecrementsExpiryByElapsed(t *testing.T) {
	store := NewRetainedStore()
	base := time.Now()
	store.now = func() time.Time { return base }

	pk := retainedPublish("r", "A")
	pk.Properties.HasMessageExpiry = true
	pk.Properties.MessageExpiryInterval = 100
	store.SetRetained("r", pk, "o")

	store.now = func() time.Time { return base.Add(40 * time.Second) }
	got := store.GetRetained("r")
	require.Len(t, got, 1)
	assert.EqualValues(t, 60, got[0].Packet.Properties.MessageExpiryInterval)
}
