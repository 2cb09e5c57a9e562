package protocol

import "encoding/binary"

// Decode parses one datagram. Any deviation from the wire format returns an
// error matching ErrMalformedMessage.
func Decode(b []byte) (Message, error) {
	if len(b) < HeaderSize {
		return Message{}, malformed(ErrTruncated, "got %d bytes, need %d", len(b), HeaderSize)
	}

	m := Message{
		Type:      Type(b[0]),
		Operation: Operation(b[1]),
		Sequence:  Sequence(b[2]),
		User:      decodeUser(b[3 : 3+UserLen]),
	}
	length := binary.BigEndian.Uint32(b[3+UserLen : HeaderSize])

	if err := validateHeader(m); err != nil {
		return Message{}, err
	}
	if uint64(length) > MaxPayloadLen {
		return Message{}, malformed(ErrPayloadTooLarge, "length=%d", length)
	}
	body := b[HeaderSize:]
	if uint64(len(body)) != uint64(length) {
		return Message{}, malformed(ErrLengthMismatch, "length=%d trailing=%d", length, len(body))
	}
	if length > 0 && m.Type == TypeControl && m.Operation != OpErr {
		return Message{}, malformed(ErrUnexpectedBody, "op=%s", m.Operation)
	}
	if length > 0 {
		m.Payload = make([]byte, length)
		copy(m.Payload, body)
	}
	return m, nil
}

func validateHeader(m Message) error {
	switch m.Type {
	case TypeChat, TypeControl:
	default:
		return malformed(ErrUnknownType, "type=0x%02x", uint8(m.Type))
	}
	if m.Kind() == KindInvalid {
		return malformed(ErrInvalidOperation, "type=%s op=0x%02x", m.Type, uint8(m.Operation))
	}
	if !m.Sequence.Valid() {
		return malformed(ErrInvalidSequence, "seq=%d", m.Sequence)
	}
	return nil
}
