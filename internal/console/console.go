// Package console turns input lines into client commands or chat traffic.
package console

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"

	chat "github.com/KedArch/chat-client"
)

// Client is the part of chat.Client the console drives.
type Client interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect()
	Send(content string) error
	SendCommand(content string) error
	Params() chat.Params
	CommandSeparator() string
	Completions() *chat.Completions
}

// Console dispatches input lines. Lines starting with the command separator
// are client commands; unknown commands are forwarded to the server.
type Console struct {
	client Client
	out    func(string)
	sep    string
}

// New returns a console writing user-facing text to out.
func New(client Client, out func(string)) *Console {
	return &Console{
		client: client,
		out:    out,
		sep:    client.CommandSeparator(),
	}
}

// Welcome is the greeting shown at start.
func (c *Console) Welcome() string {
	return fmt.Sprintf("Welcome! Type %s%s for help.", c.sep, chat.CommandHelp)
}

// Prompt is shown in front of the input line.
func (c *Console) Prompt() string {
	if p := c.client.Params(); p.Host != "" {
		return p.Addr() + "> "
	}
	return "> "
}

// Execute handles one input line. It returns true when the user asked to quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, c.sep) {
		if err := c.client.Send(line); err != nil {
			c.out(chat.Describe(err))
		}
		return false
	}

	args, err := shlex.Split(line)
	if err != nil || len(args) == 0 {
		c.out("Invalid arguments")
		return false
	}

	switch strings.TrimPrefix(args[0], c.sep) {
	case chat.CommandConnect:
		c.connect(ctx, args[1:])
	case chat.CommandDisconnect:
		c.client.Disconnect()
	case chat.CommandHelp:
		c.help()
	case chat.CommandQuit:
		return true
	default:
		if err := c.client.SendCommand(strings.TrimPrefix(line, c.sep)); err != nil {
			if errors.Is(err, chat.ErrNotConnected) {
				c.out(fmt.Sprintf("Unknown command: '%s'", line))
			} else {
				c.out(chat.Describe(err))
			}
		}
	}
	return false
}

func (c *Console) connect(ctx context.Context, args []string) {
	if len(args) != 2 {
		c.out("Invalid arguments")
		return
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		c.out(chat.Describe(chat.ErrInvalidPort))
		return
	}
	if err := c.client.Connect(ctx, args[0], port); err != nil {
		c.out(chat.Describe(err))
	}
}

func (c *Console) help() {
	c.out(fmt.Sprintf("Command separator: '%s'", c.sep))
	c.out("Client commands:")
	c.out(fmt.Sprintf("%s%s $addr $port - connects to server", c.sep, chat.CommandConnect))
	c.out(fmt.Sprintf("%s%s - disconnects from the server", c.sep, chat.CommandDisconnect))
	c.out(fmt.Sprintf("%s%s - help", c.sep, chat.CommandHelp))
	c.out(fmt.Sprintf("%s%s - quits program", c.sep, chat.CommandQuit))
	c.out("Server commands are listed below when connected and become available for completion.")

	// The server answers with its own command list when connected.
	_ = c.client.SendCommand(chat.CommandHelp)
}

// Complete implements tab completion for a line editor. Only the tab key is
// handled; the token under the cursor is extended to the longest common
// prefix of its candidates, and ambiguous candidates are listed.
func (c *Console) Complete(line string, pos int, key rune) (string, int, bool) {
	if key != '\t' {
		return "", 0, false
	}

	head, tail := line[:pos], line[pos:]
	candidates := c.client.Completions().Suggest(head)
	if len(candidates) == 0 {
		return "", 0, false
	}

	start := strings.LastIndexAny(head, " \t") + 1
	current := head[start:]

	completed := commonPrefix(candidates)
	if len(candidates) == 1 {
		completed += " "
	} else if completed == current {
		c.out(strings.Join(candidates, "  "))
		return "", 0, false
	}

	newHead := head[:start] + completed
	return newHead + tail, len(newHead), true
}

func commonPrefix(words []string) string {
	prefix := words[0]
	for _, w := range words[1:] {
		for !strings.HasPrefix(w, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
