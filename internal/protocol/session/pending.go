package session

import (
	"time"

	"github.com/danmuck/simp/internal/protocol"
)

// Pending is the one message awaiting acknowledgement. Encoded is computed
// once so every retransmission is byte-identical to the first send.
type Pending struct {
	Message       protocol.Message
	Encoded       []byte
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	DeadlineAt    time.Time

	cancelled bool
}

func newPending(m protocol.Message, now time.Time, timeout time.Duration) *Pending {
	return &Pending{
		Message:       m,
		Encoded:       protocol.Encode(m),
		Attempts:      1,
		QueuedAt:      now,
		LastAttemptAt: now,
		DeadlineAt:    now.Add(timeout),
	}
}

func (p *Pending) markAttempt(now time.Time, timeout time.Duration) {
	p.Attempts++
	p.LastAttemptAt = now
	p.DeadlineAt = now.Add(timeout)
}

// Retries is the number of retransmissions so far.
func (p *Pending) Retries() int {
	return p.Attempts - 1
}
