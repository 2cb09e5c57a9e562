package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/simp/internal/testutil/testlog"
)

func TestUDPRoundTripAndTimeout(t *testing.T) {
	testlog.Start(t)
	a, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	defer a.Close()
	b, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := a.Send(ctx, []byte("ping"), b.LocalAddr()); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, from, err := b.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(got) != "ping" || !SameAddr(from, a.LocalAddr()) {
		t.Fatalf("unexpected datagram %q from %v", got, from)
	}

	if _, _, err := b.Receive(ctx, 20*time.Millisecond); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
}

func TestUDPReceiveHonorsCancel(t *testing.T) {
	testlog.Start(t)
	u, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer u.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, _, err := u.Receive(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMuxRoutesByPeer(t *testing.T) {
	testlog.Start(t)
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	mux := NewMux(conn)

	var mu sync.Mutex
	var unknown []string
	mux.Start(func(b []byte, from net.Addr) {
		mu.Lock()
		defer mu.Unlock()
		unknown = append(unknown, string(b))
	})
	defer mux.Close()

	p1, _ := ListenUDP("127.0.0.1:0")
	defer p1.Close()
	p2, _ := ListenUDP("127.0.0.1:0")
	defer p2.Close()

	ep1, created, err := mux.Register(p1.LocalAddr())
	if err != nil || !created {
		t.Fatalf("register p1: created=%v err=%v", created, err)
	}
	if again, created, _ := mux.Register(p1.LocalAddr()); created || again != ep1 {
		t.Fatalf("expected existing endpoint on second register")
	}

	ctx := context.Background()
	if err := p1.Send(ctx, []byte("from-p1"), mux.LocalAddr()); err != nil {
		t.Fatalf("send p1: %v", err)
	}
	if err := p2.Send(ctx, []byte("from-p2"), mux.LocalAddr()); err != nil {
		t.Fatalf("send p2: %v", err)
	}

	got, _, err := ep1.Receive(ctx, time.Second)
	if err != nil || string(got) != "from-p1" {
		t.Fatalf("endpoint receive got=%q err=%v", got, err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(unknown)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("unknown handler not called")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := ep1.Send(ctx, []byte("reply"), nil); err != nil {
		t.Fatalf("endpoint send: %v", err)
	}
	got, _, err = p1.Receive(ctx, time.Second)
	if err != nil || string(got) != "reply" {
		t.Fatalf("peer receive got=%q err=%v", got, err)
	}

	ep1.Close()
	if _, ok := mux.Lookup(p1.LocalAddr()); ok {
		t.Fatalf("endpoint should be unregistered")
	}
	if _, _, err := ep1.Receive(ctx, time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestLossyDropsAndDuplicates(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()

	a, b := Pipe("a", "b")
	drop := NewLossy(a, LossConfig{DropRate: 1, Seed: 7})
	for i := 0; i < 5; i++ {
		if err := drop.Send(ctx, []byte("x"), b.LocalAddr()); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if dropped, _ := drop.Faults(); dropped != 5 {
		t.Fatalf("unexpected dropped=%d", dropped)
	}
	if _, _, err := b.Receive(ctx, 10*time.Millisecond); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected nothing delivered, got %v", err)
	}

	dup := NewLossy(a, LossConfig{DuplicateRate: 1, Seed: 7})
	if err := dup.Send(ctx, []byte("y"), b.LocalAddr()); err != nil {
		t.Fatalf("send: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, _, err := b.Receive(ctx, time.Second)
		if err != nil || string(got) != "y" {
			t.Fatalf("copy %d got=%q err=%v", i, got, err)
		}
	}
}

func TestPipeFilterRecordsEverything(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	a, b := Pipe("a", "b")
	a.SetFilter(func(p []byte) bool { return string(p) != "lost" })

	_ = a.Send(ctx, []byte("lost"), b.LocalAddr())
	_ = a.Send(ctx, []byte("kept"), b.LocalAddr())

	got, from, err := b.Receive(ctx, time.Second)
	if err != nil || string(got) != "kept" || from.String() != "a" {
		t.Fatalf("unexpected receive got=%q from=%v err=%v", got, from, err)
	}
	if sent := a.Sent(); len(sent) != 2 {
		t.Fatalf("expected 2 recorded sends, got %d", len(sent))
	}

	a.Close()
	if err := a.Send(ctx, []byte("late"), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
