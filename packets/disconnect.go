package packets

// disconnect.go covers DISCONNECT and AUTH, which share a wire shape:
// an optional reason code followed by optional v5 properties. Both fields
// may be omitted entirely when the reason is success/normal and there are
// no properties.

func (pk *Packet) encodeDisconnectOrAuth() []byte {
	if pk.Version != ProtocolV5 {
		return nil
	}
	hasProps := pk.Properties.ReasonString != "" || len(pk.Properties.User) > 0 ||
		pk.Properties.AuthenticationMethod != "" || pk.Properties.AuthenticationData != nil ||
		pk.Properties.HasSessionExpiry || pk.Properties.ServerReference != ""
	if pk.ReasonCode.Byte == CodeSuccess.Byte && !hasProps {
		return nil
	}
	var buf []byte
	buf = append(buf, pk.ReasonCode.Byte)
	if hasProps {
		buf = append(buf, pk.Properties.Encode(pk.FixedHeader.Type)...)
	}
	return buf
}

func (pk *Packet) decodeDisconnectOrAuth(buf []byte, isDisconnect bool) error {
	pk.ReasonCode = CodeSuccess
	if pk.Version != ProtocolV5 || len(buf) == 0 {
		return nil
	}
	code, offset, err := readByte(buf, 0)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.ReasonCode = Code{Byte: code}
	if offset >= len(buf) {
		return nil
	}
	pk.Properties, offset, err = DecodeProperties(pk.FixedHeader.Type, buf, offset)
	if err != nil {
		return err
	}
	if !isDisconnect && pk.Properties.AuthenticationMethod == "" {
		return ErrProtocolError
	}
	return nil
}
