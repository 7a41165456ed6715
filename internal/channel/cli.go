package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"embedbot/internal/domain"
)

const cliPrompt = "You> "

// CLI implements domain.Channel for an interactive terminal session. Embeds
// are numbered in the order they appear so /show, /hide, /refetch and
// /discard can address them.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	mu     sync.Mutex
	byNum  map[int]string // display number -> embed key
	numOf  map[string]int
	nextNo int
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
		byNum:  make(map[int]string),
		numOf:  make(map[string]int),
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until context is cancelled or
// input ends.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound("cli", c.handleOutbound)

	c.printf("embedbot CLI. Paste a message and press Enter. /show N, /hide N, /refetch N, /discard N act on embeds. /quit exits.\n%s", cliPrompt)

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit" || line == "/q":
			c.logger.Info("user requested quit")
			return nil
		case strings.HasPrefix(line, "/"):
			c.handleCommand(line)
		default:
			c.bus.Publish(domain.InboundMessage{
				Channel:  "cli",
				ChatID:   "direct",
				SenderID: "user",
				Content:  line,
			})
		}
		c.printf("%s", cliPrompt)
	}
}

var cliActions = map[string]domain.EmbedAction{
	"/show":    domain.ActionReveal,
	"/hide":    domain.ActionHide,
	"/refetch": domain.ActionRefetch,
	"/discard": domain.ActionDiscard,
}

func (c *CLI) handleCommand(line string) {
	fields := strings.Fields(line)
	action, ok := cliActions[fields[0]]
	if !ok {
		c.printf("unknown command %s\n", fields[0])
		return
	}
	if len(fields) != 2 {
		c.printf("usage: %s N\n", fields[0])
		return
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		c.printf("not an embed number: %s\n", fields[1])
		return
	}

	c.mu.Lock()
	key, ok := c.byNum[n]
	c.mu.Unlock()
	if !ok {
		c.printf("no embed #%d\n", n)
		return
	}

	c.bus.Publish(domain.InboundMessage{
		Channel:  "cli",
		ChatID:   "direct",
		SenderID: "user",
		Action:   action,
		EmbedKey: key,
	})
}

func (c *CLI) handleOutbound(msg domain.OutboundMessage) {
	var sb strings.Builder
	sb.WriteString("\r\033[K")

	switch {
	case msg.Fill:
		for _, v := range msg.Embeds {
			fmt.Fprintf(&sb, "#%d [%s] %s\n", c.number(v.Key), v.Label, v.Markup)
		}
	case msg.Action != "":
		for _, v := range msg.Embeds {
			state := "hidden"
			if v.Visible {
				state = "shown"
			}
			if msg.Action == domain.ActionDiscard {
				state = "discarded"
				c.forget(v.Key)
			}
			fmt.Fprintf(&sb, "#%d [%s] %s\n", c.number(v.Key), v.Label, state)
		}
	case len(msg.Embeds) > 0:
		sb.WriteString("--- embeds ---\n")
		for _, v := range msg.Embeds {
			n := c.number(v.Key)
			switch {
			case !v.Visible:
				fmt.Fprintf(&sb, "#%d [%s] hidden, /show %d\n", n, hiddenEmbed(v), n)
			case v.Markup != "":
				fmt.Fprintf(&sb, "#%d [%s] %s\n", n, v.Label, v.Markup)
			default:
				fmt.Fprintf(&sb, "#%d [%s] loading...\n", n, v.Label)
			}
		}
	default:
		sb.WriteString(msg.Content + "\n")
	}

	sb.WriteString(cliPrompt)
	c.printf("%s", sb.String())
}

// number returns the display number for key, assigning the next one on
// first sight.
func (c *CLI) number(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.numOf[key]; ok {
		return n
	}
	c.nextNo++
	c.numOf[key] = c.nextNo
	c.byNum[c.nextNo] = key
	return c.nextNo
}

func (c *CLI) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.numOf[key]; ok {
		delete(c.byNum, n)
	}
}

func (c *CLI) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }
