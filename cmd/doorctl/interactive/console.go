// Package interactive provides the operator console of doorctl.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/hive13/doorctl/pkg/controller"
	"github.com/hive13/doorctl/pkg/persistence"
)

// Controller is the part of *controller.Controller the console drives.
type Controller interface {
	Request(ctx context.Context, badge uint64, source string) (controller.Outcome, error)
	Stats() controller.Stats
}

// History provides past attempts. *persistence.AccessStateStore
// implements it.
type History interface {
	State() *persistence.AccessState
}

// DefaultHistory is how many records "history" prints without an argument.
const DefaultHistory = 10

// Console reads operator commands.
type Console struct {
	ctrl    Controller
	history History
	out     io.Writer
	rl      *readline.Instance
}

// New creates a console on the terminal. history may be nil.
func New(ctrl Controller, history History) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "doorctl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(ctrl, history, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(ctrl Controller, history History, out io.Writer) *Console {
	return &Console{ctrl: ctrl, history: history, out: out}
}

// Stdout returns a writer that coordinates with the prompt. Log output
// should go here while the console runs.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run reads commands until quit, EOF or ctx is done, then calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
		if c.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It reports whether the console should quit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "open", "o":
		c.cmdOpen(ctx, args)
	case "status", "s":
		c.cmdStatus()
	case "history", "h":
		c.cmdHistory(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
doorctl commands:
  open <badge>     - Run an access attempt for a badge number
  status           - Show controller counters
  history [n]      - Show the last n attempts (default 10)
  help             - Show this help
  quit             - Stop doorctl`)
}

func (c *Console) cmdOpen(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: open <badge>")
		return
	}
	badge, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(c.out, "Invalid badge: %s\n", args[0])
		return
	}

	out, err := c.ctrl.Request(ctx, badge, controller.SourceConsole)
	if err != nil {
		fmt.Fprintf(c.out, "Request failed: %v\n", err)
		return
	}
	if out.Opened {
		fmt.Fprintf(c.out, "Badge %d: GRANTED, door opened (%s)\n", badge, out.Result.Duration.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(c.out, "Badge %d: %s: %s\n", badge, out.Result.State, out.Reason())
}

func (c *Console) cmdStatus() {
	s := c.ctrl.Stats()
	fmt.Fprintf(c.out, "Granted:     %d\n", s.Granted)
	fmt.Fprintf(c.out, "Denied:      %d\n", s.Denied)
	fmt.Fprintf(c.out, "Failed:      %d\n", s.Failed)
	fmt.Fprintf(c.out, "Door errors: %d\n", s.DoorErrors)
	fmt.Fprintf(c.out, "Rejected:    %d\n", s.Rejected)
	fmt.Fprintf(c.out, "In flight:   %d (queued %d)\n", s.InFlight, s.Queued)
	fmt.Fprintf(c.out, "Uptime:      %s\n", s.Uptime.Round(time.Second))
}

func (c *Console) cmdHistory(args []string) {
	if c.history == nil {
		fmt.Fprintln(c.out, "No state file configured")
		return
	}
	n := DefaultHistory
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			fmt.Fprintf(c.out, "Invalid count: %s\n", args[0])
			return
		}
		n = v
	}

	recent := c.history.State().Recent
	if len(recent) == 0 {
		fmt.Fprintln(c.out, "No attempts recorded")
		return
	}
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	for _, r := range recent {
		line := fmt.Sprintf("%s  %-8s badge=%d item=%s source=%s",
			r.At.Format(time.DateTime), r.Outcome, r.Badge, r.Item, r.Source)
		if r.Reason != "" {
			line += "  " + r.Reason
		}
		fmt.Fprintln(c.out, line)
	}
}
