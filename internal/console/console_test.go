package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/simp/internal/conversation"
	"github.com/danmuck/simp/internal/protocol"
	"github.com/danmuck/simp/internal/testutil/testlog"
)

func TestConsoleChatAndQuit(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	c := New("alice", strings.NewReader("hello\nquit\n"), &out)
	ctx := context.Background()

	first, err := c.Open(ctx)
	if err != nil || string(first) != "hello" {
		t.Fatalf("open out=%q err=%v", first, err)
	}
	_, err = c.OnMessage(ctx, protocol.NewData("bob", protocol.Seq0, []byte("hi there")))
	if !errors.Is(err, conversation.ErrEnd) {
		t.Fatalf("expected ErrEnd on quit, got %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "[alice]:") {
		t.Fatalf("missing local prompt: %q", text)
	}
	if !strings.Contains(text, "[bob]: hi there") {
		t.Fatalf("missing peer line: %q", text)
	}
}

func TestConsoleEndOfInputEnds(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	c := New("alice", strings.NewReader(""), &out)
	if _, err := c.Open(context.Background()); !errors.Is(err, conversation.ErrEnd) {
		t.Fatalf("expected ErrEnd at EOF, got %v", err)
	}
}

func TestConsoleConfirm(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	c := New("server", strings.NewReader("\nn\nyes\n"), &out)
	ctx := context.Background()
	if !c.Confirm(ctx, "Accept connection?") {
		t.Fatalf("empty answer should accept")
	}
	if c.Confirm(ctx, "Accept connection?") {
		t.Fatalf("n should refuse")
	}
	if !c.Confirm(ctx, "Accept connection?") {
		t.Fatalf("yes should accept")
	}
	if !strings.Contains(out.String(), "Accept connection? [Y/n]") {
		t.Fatalf("missing question: %q", out.String())
	}
}

func TestConsoleReadHonorsContext(t *testing.T) {
	testlog.Start(t)
	var out bytes.Buffer
	blocked, w := io.Pipe()
	defer w.Close()
	c := New("alice", blocked, &out)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Open(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}
