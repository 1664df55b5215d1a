package packets

// Property identifiers, MQTT v5 §2.2.2.2.
const (
	PropPayloadFormatIndicator   byte = 0x01
	PropMessageExpiryInterval    byte = 0x02
	PropContentType              byte = 0x03
	PropResponseTopic            byte = 0x08
	PropCorrelationData          byte = 0x09
	PropSubscriptionIdentifier   byte = 0x0B
	PropSessionExpiryInterval    byte = 0x11
	PropAssignedClientID         byte = 0x12
	PropServerKeepAlive          byte = 0x13
	PropAuthenticationMethod     byte = 0x15
	PropAuthenticationData       byte = 0x16
	PropRequestProblemInfo       byte = 0x17
	PropWillDelayInterval        byte = 0x18
	PropRequestResponseInfo      byte = 0x19
	PropResponseInfo             byte = 0x1A
	PropServerReference          byte = 0x1C
	PropReasonString             byte = 0x1F
	PropReceiveMaximum           byte = 0x21
	PropTopicAliasMaximum        byte = 0x22
	PropTopicAlias               byte = 0x23
	PropMaximumQos               byte = 0x24
	PropRetainAvailable          byte = 0x25
	PropUserProperty             byte = 0x26
	PropMaximumPacketSize        byte = 0x27
	PropWildcardSubAvailable     byte = 0x28
	PropSubIDAvailable           byte = 0x29
	PropSharedSubAvailable       byte = 0x2A
)

// validProperties lists, for each packet type, the set of property
// identifiers legal on that packet. willProps is a pseudo packet-type slot
// used for the properties embedded in a CONNECT's will.
const willProps = 0xFF

var validProperties = map[byte]map[byte]bool{
	Connect: {
		PropSessionExpiryInterval: true, PropAuthenticationMethod: true, PropAuthenticationData: true,
		PropRequestProblemInfo: true, PropRequestResponseInfo: true, PropReceiveMaximum: true,
		PropTopicAliasMaximum: true, PropUserProperty: true, PropMaximumPacketSize: true,
	},
	Connack: {
		PropSessionExpiryInterval: true, PropAssignedClientID: true, PropServerKeepAlive: true,
		PropAuthenticationMethod: true, PropAuthenticationData: true, PropResponseInfo: true,
		PropServerReference: true, PropReasonString: true, PropReceiveMaximum: true,
		PropTopicAliasMaximum: true, PropMaximumQos: true, PropRetainAvailable: true,
		PropUserProperty: true, PropMaximumPacketSize: true, PropWildcardSubAvailable: true,
		PropSubIDAvailable: true, PropSharedSubAvailable: true,
	},
	Publish: {
		PropPayloadFormatIndicator: true, PropMessageExpiryInterval: true, PropContentType: true,
		PropResponseTopic: true, PropCorrelationData: true, PropSubscriptionIdentifier: true,
		PropTopicAlias: true, PropUserProperty: true,
	},
	Puback:      {PropReasonString: true, PropUserProperty: true},
	Pubrec:      {PropReasonString: true, PropUserProperty: true},
	Pubrel:      {PropReasonString: true, PropUserProperty: true},
	Pubcomp:     {PropReasonString: true, PropUserProperty: true},
	Subscribe:   {PropSubscriptionIdentifier: true, PropUserProperty: true},
	Suback:      {PropReasonString: true, PropUserProperty: true},
	Unsubscribe: {PropUserProperty: true},
	Unsuback:    {PropReasonString: true, PropUserProperty: true},
	Disconnect: {
		PropSessionExpiryInterval: true, PropServerReference: true, PropReasonString: true,
		PropUserProperty: true,
	},
	Auth: {
		PropAuthenticationMethod: true, PropAuthenticationData: true, PropReasonString: true,
		PropUserProperty: true,
	},
	willProps: {
		PropWillDelayInterval: true, PropPayloadFormatIndicator: true, PropMessageExpiryInterval: true,
		PropContentType: true, PropResponseTopic: true, PropCorrelationData: true, PropUserProperty: true,
	},
}

// repeatable identifies properties the spec permits to appear more than
// once (and for which order among repeats is significant).
var repeatable = map[byte]bool{
	PropUserProperty:           true,
	PropSubscriptionIdentifier: true,
}

// UserProperty is a single arbitrary key/value pair carried in a packet's
// user-property list.
type UserProperty struct {
	Key   string
	Value string
}

// Properties is the ordered multiset of v5 properties attached to a
// packet. Non-repeating fields are plain values with a presence flag;
// repeating fields (user properties, subscription identifiers) are slices
// that preserve encounter order.
type Properties struct {
	PayloadFormatIndicator byte
	HasPayloadFormat       bool

	MessageExpiryInterval uint32
	HasMessageExpiry      bool

	ContentType          string
	ResponseTopic        string
	CorrelationData      []byte
	SubscriptionID       []int
	SessionExpiryInterval uint32
	HasSessionExpiry      bool

	AssignedClientID string

	ServerKeepAlive uint16
	HasKeepAlive    bool

	AuthenticationMethod string
	AuthenticationData   []byte

	RequestProblemInfo byte
	HasRequestProblem  bool

	WillDelayInterval uint32
	HasWillDelay      bool

	RequestResponseInfo byte
	HasRequestResponse  bool

	ResponseInfo   string
	ServerReference string
	ReasonString   string

	ReceiveMaximum uint16
	HasReceiveMax  bool

	TopicAliasMaximum uint16
	HasTopicAliasMax  bool

	TopicAlias uint16
	HasTopicAlias bool

	MaximumQos byte
	HasMaxQos  bool

	RetainAvailable byte
	HasRetainAvail  bool

	User []UserProperty

	MaximumPacketSize uint32
	HasMaxPacketSize  bool

	WildcardSubAvailable byte
	HasWildcardSubAvail  bool

	SubIDAvailable byte
	HasSubIDAvail  bool

	SharedSubAvailable byte
	HasSharedSubAvail  bool
}

// encodeProp appends one (identifier, value) pair.
func encodeProp(buf []byte, id byte, enc func([]byte) []byte) []byte {
	buf = append(buf, id)
	return enc(buf)
}

// Encode serializes p as it would appear on the wire for packet type pkt:
// a variable-length total-length prefix followed by the (id, value) pairs.
// Encode does not enforce a size cap, and no encoder path checks the
// encoded packet against the peer's maximum packet size.
func (p *Properties) Encode(pkt byte) []byte {
	var body []byte
	if p.HasPayloadFormat {
		body = encodeProp(body, PropPayloadFormatIndicator, func(b []byte) []byte { return append(b, p.PayloadFormatIndicator) })
	}
	if p.HasMessageExpiry {
		body = encodeProp(body, PropMessageExpiryInterval, func(b []byte) []byte { return appendUint32(b, p.MessageExpiryInterval) })
	}
	if p.ContentType != "" {
		body = encodeProp(body, PropContentType, func(b []byte) []byte { return appendString(b, p.ContentType) })
	}
	if p.ResponseTopic != "" {
		body = encodeProp(body, PropResponseTopic, func(b []byte) []byte { return appendString(b, p.ResponseTopic) })
	}
	if p.CorrelationData != nil {
		body = encodeProp(body, PropCorrelationData, func(b []byte) []byte { return appendBinary(b, p.CorrelationData) })
	}
	for _, id := range p.SubscriptionID {
		body = append(body, PropSubscriptionIdentifier)
		body = appendVarInt(body, id)
	}
	if p.HasSessionExpiry {
		body = encodeProp(body, PropSessionExpiryInterval, func(b []byte) []byte { return appendUint32(b, p.SessionExpiryInterval) })
	}
	if p.AssignedClientID != "" {
		body = encodeProp(body, PropAssignedClientID, func(b []byte) []byte { return appendString(b, p.AssignedClientID) })
	}
	if p.HasKeepAlive {
		body = encodeProp(body, PropServerKeepAlive, func(b []byte) []byte { return appendUint16(b, p.ServerKeepAlive) })
	}
	if p.AuthenticationMethod != "" {
		body = encodeProp(body, PropAuthenticationMethod, func(b []byte) []byte { return appendString(b, p.AuthenticationMethod) })
	}
	if p.AuthenticationData != nil {
		body = encodeProp(body, PropAuthenticationData, func(b []byte) []byte { return appendBinary(b, p.AuthenticationData) })
	}
	if p.HasRequestProblem {
		body = encodeProp(body, PropRequestProblemInfo, func(b []byte) []byte { return append(b, p.RequestProblemInfo) })
	}
	if p.HasWillDelay {
		body = encodeProp(body, PropWillDelayInterval, func(b []byte) []byte { return appendUint32(b, p.WillDelayInterval) })
	}
	if p.HasRequestResponse {
		body = encodeProp(body, PropRequestResponseInfo, func(b []byte) []byte { return append(b, p.RequestResponseInfo) })
	}
	if p.ResponseInfo != "" {
		body = encodeProp(body, PropResponseInfo, func(b []byte) []byte { return appendString(b, p.ResponseInfo) })
	}
	if p.ServerReference != "" {
		body = encodeProp(body, PropServerReference, func(b []byte) []byte { return appendString(b, p.ServerReference) })
	}
	if p.ReasonString != "" {
		body = encodeProp(body, PropReasonString, func(b []byte) []byte { return appendString(b, p.ReasonString) })
	}
	if p.HasReceiveMax {
		body = encodeProp(body, PropReceiveMaximum, func(b []byte) []byte { return appendUint16(b, p.ReceiveMaximum) })
	}
	if p.HasTopicAliasMax {
		body = encodeProp(body, PropTopicAliasMaximum, func(b []byte) []byte { return appendUint16(b, p.TopicAliasMaximum) })
	}
	if p.HasTopicAlias {
		body = encodeProp(body, PropTopicAlias, func(b []byte) []byte { return appendUint16(b, p.TopicAlias) })
	}
	if p.HasMaxQos {
		body = encodeProp(body, PropMaximumQos, func(b []byte) []byte { return append(b, p.MaximumQos) })
	}
	if p.HasRetainAvail {
		body = encodeProp(body, PropRetainAvailable, func(b []byte) []byte { return append(b, p.RetainAvailable) })
	}
	for _, up := range p.User {
		body = append(body, PropUserProperty)
		body = appendString(body, up.Key)
		body = appendString(body, up.Value)
	}
	if p.HasMaxPacketSize {
		body = encodeProp(body, PropMaximumPacketSize, func(b []byte) []byte { return appendUint32(b, p.MaximumPacketSize) })
	}
	if p.HasWildcardSubAvail {
		body = encodeProp(body, PropWildcardSubAvailable, func(b []byte) []byte { return append(b, p.WildcardSubAvailable) })
	}
	if p.HasSubIDAvail {
		body = encodeProp(body, PropSubIDAvailable, func(b []byte) []byte { return append(b, p.SubIDAvailable) })
	}
	if p.HasSharedSubAvail {
		body = encodeProp(body, PropSharedSubAvailable, func(b []byte) []byte { return append(b, p.SharedSubAvailable) })
	}

	out := appendVarInt(nil, len(body))
	return append(out, body...)
}

// DropOptional removes, in priority order, the first optional property
// this packet type still carries from {reason-string, user-property}.
// It reports whether anything was dropped. The encoder does not call it.
func (p *Properties) DropOptional() bool {
	if p.ReasonString != "" {
		p.ReasonString = ""
		return true
	}
	if len(p.User) > 0 {
		p.User = p.User[:len(p.User)-1]
		return true
	}
	return false
}

// DecodeProperties parses a properties bag for packet type pkt starting at
// buf[offset], returning the offset of the first unconsumed byte.
func DecodeProperties(pkt byte, buf []byte, offset int) (Properties, int, error) {
	var p Properties
	length, offset, err := readVarInt(buf, offset)
	if err != nil {
		return p, offset, err
	}
	end := offset + length
	if end > len(buf) {
		return p, offset, ErrMalformedPacket
	}
	seen := map[byte]bool{}
	legal := validProperties[pkt]

	for offset < end {
		id := buf[offset]
		offset++
		if !legal[id] {
			return p, offset, ErrProtocolError
		}
		if seen[id] && !repeatable[id] {
			return p, offset, ErrMalformedPacket
		}
		seen[id] = true

		switch id {
		case PropPayloadFormatIndicator:
			p.PayloadFormatIndicator, offset, err = readByte(buf, offset)
			p.HasPayloadFormat = true
		case PropMessageExpiryInterval:
			p.MessageExpiryInterval, offset, err = readUint32(buf, offset)
			p.HasMessageExpiry = true
		case PropContentType:
			p.ContentType, offset, err = readString(buf, offset)
		case PropResponseTopic:
			p.ResponseTopic, offset, err = readString(buf, offset)
		case PropCorrelationData:
			p.CorrelationData, offset, err = readBinary(buf, offset)
		case PropSubscriptionIdentifier:
			var n int
			n, offset, err = readVarInt(buf, offset)
			p.SubscriptionID = append(p.SubscriptionID, n)
		case PropSessionExpiryInterval:
			p.SessionExpiryInterval, offset, err = readUint32(buf, offset)
			p.HasSessionExpiry = true
		case PropAssignedClientID:
			p.AssignedClientID, offset, err = readString(buf, offset)
		case PropServerKeepAlive:
			p.ServerKeepAlive, offset, err = readUint16(buf, offset)
			p.HasKeepAlive = true
		case PropAuthenticationMethod:
			p.AuthenticationMethod, offset, err = readString(buf, offset)
		case PropAuthenticationData:
			p.AuthenticationData, offset, err = readBinary(buf, offset)
		case PropRequestProblemInfo:
			p.RequestProblemInfo, offset, err = readByte(buf, offset)
			p.HasRequestProblem = true
		case PropWillDelayInterval:
			p.WillDelayInterval, offset, err = readUint32(buf, offset)
			p.HasWillDelay = true
		case PropRequestResponseInfo:
			p.RequestResponseInfo, offset, err = readByte(buf, offset)
			p.HasRequestResponse = true
		case PropResponseInfo:
			p.ResponseInfo, offset, err = readString(buf, offset)
		case PropServerReference:
			p.ServerReference, offset, err = readString(buf, offset)
		case PropReasonString:
			p.ReasonString, offset, err = readString(buf, offset)
		case PropReceiveMaximum:
			p.ReceiveMaximum, offset, err = readUint16(buf, offset)
			p.HasReceiveMax = true
		case PropTopicAliasMaximum:
			p.TopicAliasMaximum, offset, err = readUint16(buf, offset)
			p.HasTopicAliasMax = true
		case PropTopicAlias:
			p.TopicAlias, offset, err = readUint16(buf, offset)
			p.HasTopicAlias = true
		case PropMaximumQos:
			p.MaximumQos, offset, err = readByte(buf, offset)
			p.HasMaxQos = true
		case PropRetainAvailable:
			p.RetainAvailable, offset, err = readByte(buf, offset)
			p.HasRetainAvail = true
		case PropUserProperty:
			var k, v string
			k, offset, err = readString(buf, offset)
			if err == nil {
				v, offset, err = readString(buf, offset)
			}
			p.User = append(p.User, UserProperty{Key: k, Value: v})
		case PropMaximumPacketSize:
			p.MaximumPacketSize, offset, err = readUint32(buf, offset)
			p.HasMaxPacketSize = true
		case PropWildcardSubAvailable:
			p.WildcardSubAvailable, offset, err = readByte(buf, offset)
			p.HasWildcardSubAvail = true
		case PropSubIDAvailable:
			p.SubIDAvailable, offset, err = readByte(buf, offset)
			p.HasSubIDAvail = true
		case PropSharedSubAvailable:
			p.SharedSubAvailable, offset, err = readByte(buf, offset)
			p.HasSharedSubAvail = true
		default:
			return p, offset, ErrMalformedPacket
		}
		if err != nil {
			return p, offset, err
		}
	}
	return p, offset, nil
}

func readByte(buf []byte, offset int) (byte, int, error) {
	if offset >= len(buf) {
		return 0, offset, ErrMalformedPacket
	}
	return buf[offset], offset + 1, nil
}
