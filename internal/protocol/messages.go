package protocol

// NewData builds a chat DATA message.
func NewData(user string, seq Sequence, payload []byte) Message {
	return Message{Type: TypeChat, Operation: OpNone, Sequence: seq, User: user, Payload: payload}
}

// NewAck acknowledges the message carrying seq.
func NewAck(user string, seq Sequence) Message {
	return NewControl(user, OpAck, seq)
}

// NewError carries a human readable reason; the receiving side treats it as
// the end of the conversation.
func NewError(user string, seq Sequence, reason string) Message {
	return Message{Type: TypeControl, Operation: OpErr, Sequence: seq, User: user, Payload: []byte(reason)}
}

// NewControl builds a payload-less control message (SYN, SYN+ACK, ACK, FIN).
func NewControl(user string, op Operation, seq Sequence) Message {
	return Message{Type: TypeControl, Operation: op, Sequence: seq, User: user}
}
