package packets

func (pk *Packet) encodeSubscribe() []byte {
	var buf []byte
	buf = appendUint16(buf, pk.PacketID)
	if pk.Version == ProtocolV5 {
		buf = append(buf, pk.Properties.Encode(Subscribe)...)
	}
	for _, s := range pk.Subscriptions {
		buf = appendString(buf, s.Filter)
		opts := s.Options.Qos & 0x03
		if pk.Version == ProtocolV5 {
			if s.Options.NoLocal {
				opts |= 1 << 2
			}
			if s.Options.RetainAsPublished {
				opts |= 1 << 3
			}
			opts |= (s.Options.RetainHandling & 0x03) << 4
		}
		buf = append(buf, opts)
	}
	return buf
}

func (pk *Packet) decodeSubscribe(buf []byte) error {
	id, offset, err := readUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.PacketID = id

	if pk.Version == ProtocolV5 {
		pk.Properties, offset, err = DecodeProperties(Subscribe, buf, offset)
		if err != nil {
			return err
		}
	}

	for offset < len(buf) {
		filter, o2, err := readString(buf, offset)
		if err != nil {
			return ErrMalformedPacket
		}
		offset = o2
		opts, o3, err := readByte(buf, offset)
		if err != nil {
			return ErrMalformedPacket
		}
		offset = o3
		if opts&0xC0 != 0 {
			return ErrMalformedPacket
		}
		sub := Subscription{
			Filter: filter,
			Options: SubOptions{
				Qos:               opts & 0x03,
				NoLocal:           opts&(1<<2) != 0,
				RetainAsPublished: opts&(1<<3) != 0,
				RetainHandling:    (opts >> 4) & 0x03,
			},
		}
		if sub.Options.Qos > 2 || sub.Options.RetainHandling > 2 {
			return ErrProtocolError
		}
		pk.Subscriptions = append(pk.Subscriptions, sub)
	}
	if len(pk.Subscriptions) == 0 {
		return ErrProtocolError
	}
	return nil
}

func (pk *Packet) encodeSuback() []byte {
	var buf []byte
	buf = appendUint16(buf, pk.PacketID)
	if pk.Version == ProtocolV5 {
		buf = append(buf, pk.Properties.Encode(Suback)...)
	}
	for _, c := range pk.ReasonCodes {
		buf = append(buf, c.Byte)
	}
	return buf
}

func (pk *Packet) decodeSuback(buf []byte) error {
	id, offset, err := readUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.PacketID = id
	if pk.Version == ProtocolV5 {
		pk.Properties, offset, err = DecodeProperties(Suback, buf, offset)
		if err != nil {
			return err
		}
	}
	for _, b := range buf[offset:] {
		pk.ReasonCodes = append(pk.ReasonCodes, Code{Byte: b})
	}
	return nil
}

func (pk *Packet) encodeUnsubscribe() []byte {
	var buf []byte
	buf = appendUint16(buf, pk.PacketID)
	if pk.Version == ProtocolV5 {
		buf = append(buf, pk.Properties.Encode(Unsubscribe)...)
	}
	for _, u := range pk.Unsubscriptions {
		buf = appendString(buf, u.Filter)
	}
	return buf
}

func (pk *Packet) decodeUnsubscribe(buf []byte) error {
	id, offset, err := readUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.PacketID = id
	if pk.Version == ProtocolV5 {
		pk.Properties, offset, err = DecodeProperties(Unsubscribe, buf, offset)
		if err != nil {
			return err
		}
	}
	for offset < len(buf) {
		filter, o2, err := readString(buf, offset)
		if err != nil {
			return ErrMalformedPacket
		}
		offset = o2
		pk.Unsubscriptions = append(pk.Unsubscriptions, Unsubscription{Filter: filter})
	}
	if len(pk.Unsubscriptions) == 0 {
		return ErrProtocolError
	}
	return nil
}

func (pk *Packet) encodeUnsuback() []byte {
	var buf []byte
	buf = appendUint16(buf, pk.PacketID)
	if pk.Version == ProtocolV5 {
		buf = append(buf, pk.Properties.Encode(Unsuback)...)
	}
	for _, c := range pk.ReasonCodes {
		buf = append(buf, c.Byte)
	}
	return buf
}

func (pk *Packet) decodeUnsuback(buf []byte) error {
	id, offset, err := readUint16(buf, 0)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.PacketID = id
	if pk.Version == ProtocolV5 {
		pk.Properties, offset, err = DecodeProperties(Unsuback, buf, offset)
		if err != nil {
			return err
		}
	}
	for _, b := range buf[offset:] {
		pk.ReasonCodes = append(pk.ReasonCodes, Code{Byte: b})
	}
	return nil
}
