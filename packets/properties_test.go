package packets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertiesRoundTrip(t *testing.T) {
	p := Properties{
		ContentType:      "text/plain",
		HasMessageExpiry: true, MessageExpiryInterval: 30,
		SubscriptionID: []int{1, 2, 3},
		User: []UserProperty{
			{Key: "a", Value: "1"},
			{Key: "b", Value: "2"},
		},
	}
	encoded := p.Encode(Publish)

	got, offset, err := DecodeProperties(Publish, encoded, 0)
	require.NoError(t, err)
	assert.Equal(t, len(encoded), offset)
	assert.Equal(t, "text/plain", got.ContentType)
	assert.True(t, got.HasMessageExpiry)
	assert.EqualValues(t, 30, got.MessageExpiryInterval)
	assert.Equal(t, []int{1, 2, 3}, got.SubscriptionID)
	assert.Equal(t, p.User, got.User)
}

func TestPropertiesRejectsUnknownID(t *testing.T) {
	buf := appendVarInt(nil, 1)
	buf = append(buf, 0x7E) // not a real property identifier
	_, _, err := DecodeProperties(Publish, buf, 0)
	assert.Error(t, err)
}

func TestPropertiesRejectsIDNotLegalForPacketType(t *testing.T) {
	var p Properties
	p.AssignedClientID = "x" // only legal on CONNACK
	encoded := p.Encode(Connack)
	_, _, err := DecodeProperties(Publish, encoded, 0)
	assert.ErrorIs(t, err, ErrProtocolError)
}

func TestPropertiesRejectsDuplicateNonRepeating(t *testing.T) {
	var body []byte
	body = append(body, PropContentType)
	body = appendString(body, "a")
	body = append(body, PropContentType)
	body = appendString(body, "b")
	buf := appendVarInt(nil, len(body))
	buf = append(buf, body...)

	_, _, err := DecodeProperties(Publish, buf, 0)
	assert.Error(t, err)
}

func TestDropOptionalPriority(t *testing.T) {
	p := Properties{ReasonString: "too long", User: []UserProperty{{Key: "a", Value: "b"}}}
	require.True(t, p.DropOptional())
	assert.Empty(t, p.ReasonString)
	assert.Len(t, p.User, 1)

	require.True(t, p.DropOptional())
	assert.Empty(t, p.User)

	assert.False(t, p.DropOptional())
}
