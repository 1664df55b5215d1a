package packets

const connectFlagUsername = 1 << 7
const connectFlagPassword = 1 << 6
const connectFlagWillRetain = 1 << 5
const connectFlagWillQosShift = 3
const connectFlagWillFlag = 1 << 2
const connectFlagCleanStart = 1 << 1

func (pk *Packet) encodeConnect() []byte {
	var buf []byte
	buf = appendString(buf, "MQTT")
	buf = append(buf, byte(pk.Version))

	var flags byte
	if pk.UsernameFlag {
		flags |= connectFlagUsername
	}
	if pk.PasswordFlag {
		flags |= connectFlagPassword
	}
	if pk.WillPacket.Flag {
		flags |= connectFlagWillFlag
		flags |= pk.WillPacket.Qos << connectFlagWillQosShift
		if pk.WillPacket.Retain {
			flags |= connectFlagWillRetain
		}
	}
	if pk.CleanStart {
		flags |= connectFlagCleanStart
	}
	buf = append(buf, flags)
	buf = appendUint16(buf, pk.KeepAlive)

	if pk.Version == ProtocolV5 {
		buf = append(buf, pk.Properties.Encode(Connect)...)
	}

	buf = appendString(buf, pk.ClientID)

	if pk.WillPacket.Flag {
		if pk.Version == ProtocolV5 {
			buf = append(buf, pk.WillPacket.Properties.Encode(willProps)...)
		}
		buf = appendString(buf, pk.WillPacket.Topic)
		buf = appendBinary(buf, pk.WillPacket.Payload)
	}
	if pk.UsernameFlag {
		buf = appendString(buf, pk.Username)
	}
	if pk.PasswordFlag {
		buf = appendBinary(buf, pk.Password)
	}
	return buf
}

func (pk *Packet) decodeConnect(buf []byte) error {
	name, offset, err := readString(buf, 0)
	if err != nil {
		return ErrMalformedPacket
	}
	if name != "MQTT" {
		return ErrProtocolError
	}
	pk.ProtocolName = name

	version, offset, err := readByte(buf, offset)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.Version = ProtocolVersion(version)
	if pk.Version != ProtocolV311 && pk.Version != ProtocolV5 {
		return ErrUnsupportedProtocolVersion
	}

	flags, offset, err := readByte(buf, offset)
	if err != nil {
		return ErrMalformedPacket
	}
	if flags&0x01 != 0 {
		return ErrProtocolError // reserved bit must be 0
	}
	pk.UsernameFlag = flags&connectFlagUsername != 0
	pk.PasswordFlag = flags&connectFlagPassword != 0
	pk.CleanStart = flags&connectFlagCleanStart != 0
	pk.WillPacket.Flag = flags&connectFlagWillFlag != 0
	pk.WillPacket.Qos = (flags >> connectFlagWillQosShift) & 0x03
	pk.WillPacket.Retain = flags&connectFlagWillRetain != 0
	if !pk.WillPacket.Flag && (pk.WillPacket.Qos != 0 || pk.WillPacket.Retain) {
		return ErrProtocolError
	}
	if pk.WillPacket.Qos > 2 {
		return ErrProtocolError
	}

	pk.KeepAlive, offset, err = readUint16(buf, offset)
	if err != nil {
		return ErrMalformedPacket
	}

	if pk.Version == ProtocolV5 {
		pk.Properties, offset, err = DecodeProperties(Connect, buf, offset)
		if err != nil {
			return err
		}
	}

	pk.ClientID, offset, err = readString(buf, offset)
	if err != nil {
		return ErrMalformedPacket
	}

	if pk.WillPacket.Flag {
		if pk.Version == ProtocolV5 {
			pk.WillPacket.Properties, offset, err = DecodeProperties(willProps, buf, offset)
			if err != nil {
				return err
			}
		}
		pk.WillPacket.Topic, offset, err = readString(buf, offset)
		if err != nil {
			return ErrMalformedPacket
		}
		pk.WillPacket.Payload, offset, err = readBinary(buf, offset)
		if err != nil {
			return ErrMalformedPacket
		}
	}
	if pk.UsernameFlag {
		pk.Username, offset, err = readString(buf, offset)
		if err != nil {
			return ErrMalformedPacket
		}
	}
	if pk.PasswordFlag {
		pk.Password, offset, err = readBinary(buf, offset)
		if err != nil {
			return ErrMalformedPacket
		}
	}
	return nil
}

func (pk *Packet) encodeConnack() []byte {
	var buf []byte
	var flags byte
	if pk.SessionPresent {
		flags = 1
	}
	buf = append(buf, flags)
	buf = append(buf, ConnackByte(pk.Version, pk.ReasonCode))
	if pk.Version == ProtocolV5 {
		buf = append(buf, pk.Properties.Encode(Connack)...)
	}
	return buf
}

func (pk *Packet) decodeConnack(buf []byte) error {
	flags, offset, err := readByte(buf, 0)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.SessionPresent = flags&0x01 != 0

	code, offset, err := readByte(buf, offset)
	if err != nil {
		return ErrMalformedPacket
	}
	pk.ReasonCode = Code{Byte: code}

	if pk.Version == ProtocolV5 {
		pk.Properties, offset, err = DecodeProperties(Connack, buf, offset)
		if err != nil {
			return err
		}
	}
	return nil
}
