package packets

// confirm.go covers PUBACK, PUBREC, PUBREL and PUBCOMP, which share one
// wire shape: packet id, optional v5 reason code, optional v5 properties.
// The variable header may be truncated to just the packet id when the
// reason code is success and there are no properties (MQTT-3.4.2.1).

func (pk *Packet) encodeConfirm() []byte {
	var buf []byte
	buf = appendUint16(buf, pk.PacketID)
	if pk.Version != ProtocolV5 {
		return buf
	}
	if pk.ReasonCode.Byte == CodeSuccess.Byte && len(pk.Properties.User) == 0 && pk.Properties.ReasonString == "" {
		return buf
	}
	buf = append(buf, pk.ReasonCode.Byte)
	buf = append(buf, pk.Properties.Encode(pk.FixedHeader.Type)...)
	return buf
}

func (pk *Packet) decodeConfirm(buf []byte) error {
	id, offset, err := readUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.PacketID = id
	pk.ReasonCode = CodeSuccess

	if pk.Version != ProtocolV5 || offset >= len(buf) {
		return nil
	}

	code, offset, err := readByte(buf, offset)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.ReasonCode = Code{Byte: code}

	if offset >= len(buf) {
		return nil
	}
	pk.Properties, offset, err = DecodeProperties(pk.FixedHeader.Type, buf, offset)
	return err
}
