package session

import (
	"net"
	"time"

	"github.com/danmuck/simp/internal/protocol"
)

// Phase is the engine's position in the session lifecycle.
type Phase int

const (
	PhaseNew Phase = iota
	PhaseSynSent
	PhaseSynReceived
	PhaseIdle
	PhaseAwaitingAck
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseSynSent:
		return "syn_sent"
	case PhaseSynReceived:
		return "syn_received"
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingAck:
		return "awaiting_ack"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Established reports whether DATA may flow.
func (p Phase) Established() bool {
	return p == PhaseIdle || p == PhaseAwaitingAck
}

// State is the per-peer session state. It is owned by one Engine and only
// touched under the engine lock.
type State struct {
	Phase           Phase
	ExpectedSend    protocol.Sequence
	ExpectedRecv    protocol.Sequence
	LastSent        *Pending
	TimeoutDeadline time.Time
	PeerUser        string
}

// Snapshot is a copy of an engine's state for reporting.
type Snapshot struct {
	ID           string            `json:"id"`
	Peer         string            `json:"peer"`
	PeerUser     string            `json:"peer_user"`
	Phase        string            `json:"phase"`
	ExpectedSend protocol.Sequence `json:"expected_send_sequence"`
	ExpectedRecv protocol.Sequence `json:"expected_recv_sequence"`
	Outstanding  bool              `json:"outstanding"`
	Attempts     int               `json:"attempts"`
	Deadline     time.Time         `json:"timeout_deadline,omitempty"`
	Stats        StatsSnapshot     `json:"stats"`
}

func peerString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
