package session

import (
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Stats counts per-session protocol events. Guarded by the engine lock.
type Stats struct {
	Sent          uint64
	Retransmitted uint64
	Delivered     uint64
	Duplicates    uint64
	StaleAcks       uint64
	StaleHandshakes uint64
	Malformed       uint64
	Foreign         uint64

	rtt *ddsketch.DDSketch
}

// StatsSnapshot is the reportable view of Stats. RTT values are milliseconds
// over acks of messages that were never retransmitted.
type StatsSnapshot struct {
	Sent            uint64  `json:"sent"`
	Retransmitted   uint64  `json:"retransmitted"`
	Delivered       uint64  `json:"delivered"`
	Duplicates      uint64  `json:"duplicates"`
	StaleAcks       uint64  `json:"stale_acks"`
	StaleHandshakes uint64  `json:"stale_handshakes"`
	Malformed       uint64  `json:"malformed"`
	Foreign         uint64  `json:"foreign"`
	RTTSamples      uint64  `json:"rtt_samples"`
	RTTP50Millis    float64 `json:"rtt_p50_ms"`
	RTTP99Millis    float64 `json:"rtt_p99_ms"`
}

func newStats() *Stats {
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		panic(err)
	}
	return &Stats{rtt: sketch}
}

func (s *Stats) observeRTT(d time.Duration) {
	if d <= 0 {
		d = time.Microsecond
	}
	_ = s.rtt.Add(float64(d) / float64(time.Millisecond))
}

func (s *Stats) snapshot() StatsSnapshot {
	out := StatsSnapshot{
		Sent:            s.Sent,
		Retransmitted:   s.Retransmitted,
		Delivered:       s.Delivered,
		Duplicates:      s.Duplicates,
		StaleAcks:       s.StaleAcks,
		StaleHandshakes: s.StaleHandshakes,
		Malformed:       s.Malformed,
		Foreign:         s.Foreign,
		RTTSamples:      uint64(s.rtt.GetCount()),
	}
	if out.RTTSamples == 0 {
		return out
	}
	if v, err := s.rtt.GetValueAtQuantile(0.5); err == nil {
		out.RTTP50Millis = v
	}
	if v, err := s.rtt.GetValueAtQuantile(0.99); err == nil {
		out.RTTP99Millis = v
	}
	return out
}
