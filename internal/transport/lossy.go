package transport

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"
)

// LossConfig describes simulated network faults applied to outbound
// datagrams. Rates are probabilities in [0, 1].
type LossConfig struct {
	DropRate      float64
	DuplicateRate float64
	Seed          int64
}

// Enabled reports whether cfg injects any fault.
func (cfg LossConfig) Enabled() bool {
	return cfg.DropRate > 0 || cfg.DuplicateRate > 0
}

// Lossy wraps a Transport and randomly drops or duplicates what it sends.
type Lossy struct {
	Transport
	cfg LossConfig

	mu  sync.Mutex
	rng *rand.Rand

	dropped    int
	duplicated int
}

func NewLossy(inner Transport, cfg LossConfig) *Lossy {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Lossy{
		Transport: inner,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

func (l *Lossy) Send(ctx context.Context, b []byte, to net.Addr) error {
	l.mu.Lock()
	drop := l.rng.Float64() < l.cfg.DropRate
	dup := !drop && l.rng.Float64() < l.cfg.DuplicateRate
	if drop {
		l.dropped++
	}
	if dup {
		l.duplicated++
	}
	l.mu.Unlock()

	if drop {
		return nil
	}
	if err := l.Transport.Send(ctx, b, to); err != nil {
		return err
	}
	if dup {
		return l.Transport.Send(ctx, b, to)
	}
	return nil
}

// Faults reports how many datagrams were dropped and duplicated.
func (l *Lossy) Faults() (dropped, duplicated int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped, l.duplicated
}
