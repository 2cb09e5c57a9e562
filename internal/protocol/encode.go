package protocol

import (
	"bytes"
	"encoding/binary"
)

// Encode serializes m into a single datagram. It never fails: the user name
// is truncated to UserLen bytes and the caller is responsible for keeping the
// payload under MaxPayloadLen.
func Encode(m Message) []byte {
	buf := make([]byte, HeaderSize+len(m.Payload))
	encodeHeader(buf[:HeaderSize], m, uint32(len(m.Payload)))
	copy(buf[HeaderSize:], m.Payload)
	return buf
}

func encodeHeader(buf []byte, m Message, length uint32) {
	buf[0] = byte(m.Type)
	buf[1] = byte(m.Operation)
	buf[2] = byte(m.Sequence)
	copy(buf[3:3+UserLen], encodeUser(m.User))
	binary.BigEndian.PutUint32(buf[3+UserLen:HeaderSize], length)
}

// encodeUser pads or crops name to exactly UserLen bytes.
func encodeUser(name string) []byte {
	out := make([]byte, UserLen)
	copy(out, name)
	return out
}

func decodeUser(field []byte) string {
	return string(bytes.TrimRight(field, "\x00"))
}
