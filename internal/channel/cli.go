package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"hrchat/internal/config"
	"hrchat/internal/domain"
)

// cliSession is the only session a terminal ever hosts.
const cliSession = "local"

// CLI implements domain.Channel for an interactive terminal widget.
type CLI struct {
	bus      domain.MessageBus
	logger   *slog.Logger
	in       io.Reader
	out      io.Writer
	copy     config.WidgetCopy
	injected domain.Injected
	spinner  bool

	outMu     sync.Mutex
	thinking  bool
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Logger   *slog.Logger
	In       io.Reader
	Out      io.Writer
	Copy     *config.WidgetCopy // nil = config.DefaultCopy()
	Injected domain.Injected
	Spinner  bool // animate while an answer is pending
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
	cp := config.DefaultCopy()
	if cfg.Copy != nil {
		cp = *cfg.Copy
	}
	return &CLI{
		logger:   cfg.Logger,
		in:       cfg.In,
		out:      cfg.Out,
		copy:     cp,
		injected: cfg.Injected,
		spinner:  cfg.Spinner,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start shows the welcome screen and runs the REPL until EOF, /quit or ctx ends.
// The session is closed on the way out.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.OnOutbound(c.Name(), c.render)

	c.publish(domain.ActionOpen, "")
	defer c.publish(domain.ActionClose, "")

	c.printf("=== %s ===\n\n%s\n%s\n\nPress Enter to %s. Type /quit to exit.\n",
		c.copy.Title, c.copy.WelcomeTitle, c.copy.WelcomeText, c.copy.StartLabel)

	stop := make(chan struct{})
	defer close(stop)
	lines, errc := c.readLines(stop)
	started := false
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return <-errc
			}
			line = l
		}

		cmd := strings.TrimSpace(line)
		switch {
		case cmd == "/quit" || cmd == "/exit" || cmd == "/q":
			c.logger.Info("user requested quit")
			return nil
		case !started:
			if cmd != "" && cmd != "/start" {
				c.printf("Press Enter to %s.\n", c.copy.StartLabel)
				continue
			}
			started = true
			c.publish(domain.ActionStart, "")
		case cmd == "":
			c.prompt()
		default:
			c.publish(domain.ActionSubmit, line)
		}
	}
}

// readLines scans input on its own goroutine so a blocked read never holds
// up shutdown. At EOF the scan error is sent on errc and lines is closed.
// Closing stop abandons a pending line.
func (c *CLI) readLines(stop <-chan struct{}) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		errc <- scanner.Err()
		close(lines)
	}()
	return lines, errc
}

func (c *CLI) publish(kind domain.ActionKind, text string) {
	action := domain.UserAction{
		Channel:   c.Name(),
		SessionID: cliSession,
		Kind:      kind,
		Text:      text,
	}
	if kind == domain.ActionOpen {
		action.Injected = c.injected
	}
	c.bus.Publish(action)
}

// render draws one widget event. User messages are already on screen.
func (c *CLI) render(ev domain.WidgetEvent) {
	switch ev.Kind {
	case domain.EventMessage:
		if ev.Message == nil || !ev.Message.IsBot {
			return
		}
		c.stopThinking()
		c.printf("\r\033[K%s> %s\n", c.copy.Title, ev.Message.Text)
	case domain.EventPending:
		if ev.Pending {
			c.startThinking()
			return
		}
		c.stopThinking()
		c.prompt()
	case domain.EventAlert:
		c.stopThinking()
		c.printf("\r\033[K[!] %s\n", ev.Alert)
		c.prompt()
	case domain.EventClosed:
		c.stopThinking()
	default:
		c.logger.Debug("cli event", "type", ev.Kind)
	}
}

func (c *CLI) prompt() {
	c.printf("You> ")
}

func (c *CLI) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *CLI) startThinking() {
	if !c.spinner {
		return
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	stop, done := make(chan struct{}), make(chan struct{})
	c.thinkStop, c.thinkDone = stop, done
	go func() {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.printf("\r%s Typing...", frames[i%len(frames)])
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.outMu.Lock()
	if !c.thinking {
		c.outMu.Unlock()
		return
	}
	c.thinking = false
	close(c.thinkStop)
	done := c.thinkDone
	c.outMu.Unlock()
	<-done
	c.printf("\r\033[K")
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, sessionID string, content string) error {
	c.printf("%s\n", content)
	return nil
}
