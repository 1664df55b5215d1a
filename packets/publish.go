package packets

func (pk *Packet) encodePublish() ([]byte, error) {
	var buf []byte
	buf = appendString(buf, pk.TopicName)
	if pk.FixedHeader.Qos > 0 {
		buf = appendUint16(buf, pk.PacketID)
	}
	if pk.Version == ProtocolV5 {
		buf = append(buf, pk.Properties.Encode(Publish)...)
	}
	buf = append(buf, pk.Payload...)
	return buf, nil
}

func (pk *Packet) decodePublish(buf []byte) error {
	if pk.FixedHeader.Qos > 2 {
		return ErrMalformedPacket
	}
	topic, offset, err := readString(buf, 0)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.TopicName = topic

	if pk.FixedHeader.Qos > 0 {
		pk.PacketID, offset, err = readUint16(buf, offset)
		if err != nil {
			return ErrMalformedPacket
		}
		if pk.PacketID == 0 {
			return ErrProtocolError
		}
	}

	if pk.Version == ProtocolV5 {
		pk.Properties, offset, err = DecodeProperties(Publish, buf, offset)
		if err != nil {
			return err
		}
	}

	pk.Payload = append([]byte(nil), buf[offset:]...)
	return nil
}

// Copy returns a value copy of pk with its own payload and
// subscription-identifier backing arrays, safe to mutate independently (e.g. to set Dup on resend).
func (pk Packet) Copy() Packet {
	out := pk
	out.Payload = append([]byte(nil), pk.Payload...)
	out.Properties.SubscriptionID = append([]int(nil), pk.Properties.SubscriptionID...)
	return out
}
