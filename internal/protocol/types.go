package protocol

import "fmt"

const (
	// UserLen is the fixed width of the sender name field.
	UserLen = 32
	// HeaderSize is the fixed header length preceding the payload.
	HeaderSize = 1 + 1 + 1 + UserLen + 4
	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507
	// MaxPayloadLen bounds the payload so one message always fits one datagram.
	MaxPayloadLen = MaxDatagramSize - HeaderSize
)

// Type separates connection control from chat content.
type Type uint8

const (
	TypeControl Type = 0x01
	TypeChat    Type = 0x02
)

func (t Type) String() string {
	switch t {
	case TypeControl:
		return "control"
	case TypeChat:
		return "chat"
	default:
		return fmt.Sprintf("type(0x%02x)", uint8(t))
	}
}

// Operation is a bit set describing a control message.
type Operation uint8

const (
	OpNone Operation = 0x00
	OpErr  Operation = 0x01
	OpSyn  Operation = 0x02
	OpAck  Operation = 0x04
	OpFin  Operation = 0x08

	OpSynAck = OpSyn | OpAck
)

func (o Operation) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpErr:
		return "ERR"
	case OpSyn:
		return "SYN"
	case OpAck:
		return "ACK"
	case OpFin:
		return "FIN"
	case OpSynAck:
		return "SYN+ACK"
	default:
		return fmt.Sprintf("op(0x%02x)", uint8(o))
	}
}

// Sequence is the alternating bit carried by every message.
type Sequence uint8

const (
	Seq0 Sequence = 0
	Seq1 Sequence = 1
)

// Flip returns the other bit.
func (s Sequence) Flip() Sequence {
	return s ^ 1
}

func (s Sequence) Valid() bool {
	return s == Seq0 || s == Seq1
}

// Kind classifies a message by its (type, operation) pair.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindData
	KindAck
	KindError
	KindSyn
	KindSynAck
	KindFin
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindAck:
		return "ack"
	case KindError:
		return "error"
	case KindSyn:
		return "syn"
	case KindSynAck:
		return "syn_ack"
	case KindFin:
		return "fin"
	default:
		return "invalid"
	}
}

// Message is one SIMP datagram.
type Message struct {
	Type      Type
	Operation Operation
	Sequence  Sequence
	User      string
	Payload   []byte
}

// Kind reports the protocol role of m.
func (m Message) Kind() Kind {
	switch m.Type {
	case TypeChat:
		if m.Operation == OpNone {
			return KindData
		}
	case TypeControl:
		switch m.Operation {
		case OpAck:
			return KindAck
		case OpErr:
			return KindError
		case OpSyn:
			return KindSyn
		case OpSynAck:
			return KindSynAck
		case OpFin:
			return KindFin
		}
	}
	return KindInvalid
}

func (m Message) String() string {
	return fmt.Sprintf("%s{seq=%d user=%q len=%d}", m.Kind(), m.Sequence, m.User, len(m.Payload))
}
