// Package console is the terminal chat front end: it reads the local user's
// lines and prints the peer's messages as "[user]: text".
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/danmuck/simp/internal/conversation"
	"github.com/danmuck/simp/internal/protocol"
)

// QuitCommand typed on its own line ends the conversation.
const QuitCommand = "quit"

type styles struct {
	self   lipgloss.Style
	peer   lipgloss.Style
	notice lipgloss.Style
	err    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		self:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		peer:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		notice: r.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		err:    r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
}

// Console implements conversation.Handler over a line reader and a writer.
type Console struct {
	user  string
	out   io.Writer
	style styles

	in       *bufio.Scanner
	readOnce sync.Once
	lines    chan string
	readErr  error

	mu sync.Mutex
}

var _ conversation.Handler = (*Console)(nil)

func New(user string, in io.Reader, out io.Writer) *Console {
	return &Console{
		user:  user,
		out:   out,
		style: newStyles(lipgloss.NewRenderer(out)),
		in:    bufio.NewScanner(in),
		lines: make(chan string),
	}
}

// Open prompts for the first line of a conversation.
func (c *Console) Open(ctx context.Context) ([]byte, error) {
	return c.prompt(ctx)
}

// OnMessage prints the peer's message and prompts for the reply.
func (c *Console) OnMessage(ctx context.Context, msg protocol.Message) ([]byte, error) {
	peer := msg.User
	if peer == "" {
		peer = "peer"
	}
	c.printf("%s %s\n", c.style.peer.Render("["+peer+"]:"), string(msg.Payload))
	return c.prompt(ctx)
}

// Confirm asks a yes/no question; an empty answer means yes.
func (c *Console) Confirm(ctx context.Context, question string) bool {
	c.printf("%s ", c.style.notice.Render(question+" [Y/n]"))
	line, err := c.readLine(ctx)
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true
	default:
		return false
	}
}

// Notice prints a status line.
func (c *Console) Notice(format string, args ...any) {
	c.printf("%s\n", c.style.notice.Render(fmt.Sprintf(format, args...)))
}

// Error prints a failure line.
func (c *Console) Error(err error) {
	c.printf("%s\n", c.style.err.Render("error: "+err.Error()))
}

func (c *Console) prompt(ctx context.Context) ([]byte, error) {
	c.printf("%s ", c.style.self.Render("["+c.user+"]:"))
	line, err := c.readLine(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(line) == QuitCommand {
		return nil, conversation.ErrEnd
	}
	return []byte(line), nil
}

// readLine returns the next input line. End of input ends the conversation.
func (c *Console) readLine(ctx context.Context) (string, error) {
	c.readOnce.Do(func() { go c.scan() })
	select {
	case line, ok := <-c.lines:
		if !ok {
			if c.readErr != nil {
				return "", c.readErr
			}
			return "", conversation.ErrEnd
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Console) scan() {
	defer close(c.lines)
	for c.in.Scan() {
		c.lines <- c.in.Text()
	}
	c.readErr = c.in.Err()
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}
