package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-gse/controller"
	"github.com/arloliu/go-gse/notify"
)

const commandTimeout = 2 * time.Second

var errQuit = errors.New("quit")

const consoleHelp = `commands:
  connect [host] [port]   connect to the MCU (defaults from the configuration)
  disconnect              close the link
  abort                   manual abort
  confirm                 confirm safe state and release the lockout
  apply <n|name>          apply an operation by number or name
  ops                     list operations
  valve <name> open|close command a single valve
  mode <id> on|off        enable or disable an abort mode
  arm | cancel            arm or cancel the ignition countdown
  status                  show the stand state
  quit                    exit
`

// console is the line-oriented operator interface on stdin/stdout.
type console struct {
	cmds controller.Commands
	host string
	port int

	mu  sync.Mutex
	out io.Writer
}

func newConsole(cmds controller.Commands, out io.Writer, host string, port int) *console {
	return &console{cmds: cmds, out: out, host: host, port: port}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// run executes commands read from in until quit, EOF or ctx is done.
func (c *console) run(ctx context.Context, in io.Reader) error {
	c.printf("%s", consoleHelp)

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		err := c.exec(ctx, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			c.printf("error: %v\n", err)
		}
	}

	return sc.Err()
}

func (c *console) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "connect":
		host, port := c.host, c.port
		if len(args) > 0 {
			host = args[0]
		}
		if len(args) > 1 {
			p, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid port %q", args[1])
			}
			port = p
		}
		return c.cmds.Connect(ctx, host, port)
	case "disconnect":
		return c.cmds.Disconnect(ctx)
	case "abort":
		return c.cmds.TriggerManualAbort(ctx)
	case "confirm":
		return c.cmds.ConfirmSafeState(ctx)
	case "apply":
		name, err := c.resolveOperation(strings.Join(args, " "))
		if err != nil {
			return err
		}
		return c.cmds.ApplyOperation(ctx, name)
	case "ops", "operations":
		for i, name := range c.cmds.Operations() {
			c.printf("%2d  %s\n", i+1, name)
		}
		return nil
	case "valve":
		if len(args) != 2 || (args[1] != "open" && args[1] != "close") {
			return errors.New("usage: valve <name> open|close")
		}
		return c.cmds.SetValve(ctx, strings.ToUpper(args[0]), args[1] == "open")
	case "mode":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return errors.New("usage: mode <id> on|off")
		}
		return c.cmds.ToggleAbortMode(ctx, args[0], args[1] == "on")
	case "arm":
		return c.cmds.ArmIgnition(ctx)
	case "cancel":
		return c.cmds.CancelIgnition(ctx)
	case "status":
		st, err := c.cmds.Status(ctx)
		if err != nil {
			return err
		}
		c.printStatus(st)
		return nil
	case "help", "?":
		c.printf("%s", consoleHelp)
		return nil
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
}

// resolveOperation accepts a 1-based index into the operation list or a case-insensitive name.
func (c *console) resolveOperation(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("usage: apply <n|name>")
	}

	ops := c.cmds.Operations()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(ops) {
			return "", fmt.Errorf("operation number out of range [1, %d]", len(ops))
		}
		return ops[n-1], nil
	}
	for _, name := range ops {
		if strings.EqualFold(name, arg) {
			return name, nil
		}
	}

	// unknown names are passed through; the engine closes every valve for them
	return arg, nil
}

func (c *console) printStatus(st controller.Status) {
	var b strings.Builder

	fmt.Fprintf(&b, "link: %s  locked: %t  operation: %q\n", st.Connection, st.Locked, st.Operation)

	b.WriteString("valves:")
	for _, v := range st.Valves {
		state := "closed"
		if v.Open {
			state = "OPEN"
		}
		fmt.Fprintf(&b, " %s=%s", v.Name, state)
	}
	b.WriteString("\n")

	if len(st.Readings) > 0 {
		b.WriteString("sensors:")
		for _, s := range st.Readings {
			fmt.Fprintf(&b, " %s=%g", s.ID, s.Value)
		}
		b.WriteString("\n")
	}

	for _, p := range st.Pending {
		fmt.Fprintf(&b, "pending: %s step %d -> %q in %s\n", p.Sequence, p.Index+1, p.Operation,
			time.Until(p.Due).Round(time.Millisecond))
	}
	if st.IgnitionArmed {
		fmt.Fprintf(&b, "ignition: T-%s\n", st.IgnitionRemaining.Round(time.Second))
	}

	b.WriteString("abort modes:")
	for _, m := range st.Modes {
		state := "off"
		if m.Enabled {
			state = "on"
		}
		fmt.Fprintf(&b, " %s=%s", m.ID, state)
	}
	b.WriteString("\n")

	if st.LastAbort != nil {
		fmt.Fprintf(&b, "last abort: %s (%s) at %s\n", st.LastAbort.Type, st.LastAbort.Reason,
			st.LastAbort.At.Format(time.TimeOnly))
	}

	c.printf("%s", b.String())
}

// printEvents shows operator-relevant notifications until ctx is done.
func (c *console) printEvents(ctx context.Context, sub *notify.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if line := formatEvent(ev); line != "" {
				c.printf("%s\n", line)
			}
		}
	}
}

func formatEvent(ev notify.Event) string {
	switch e := ev.(type) {
	case notify.ConnectionChanged:
		if e.Reason != "" {
			return fmt.Sprintf("[link] %s: %s", e.State, e.Reason)
		}
		return "[link] " + e.State
	case notify.AbortTriggered:
		return fmt.Sprintf("[ABORT] %s: %s", e.Type, e.Reason)
	case notify.LockoutChanged:
		if e.Locked {
			return "[lockout] engaged, confirm safe state to release"
		}
		return "[lockout] released"
	case notify.OperationChanged:
		return "[operation] " + e.Name
	case notify.SequenceStep:
		if e.Skipped {
			return fmt.Sprintf("[sequence] %s: skipped %q", e.Sequence, e.Operation)
		}
		return fmt.Sprintf("[sequence] %s: %q", e.Sequence, e.Operation)
	case notify.Countdown:
		if e.Cancelled {
			return "[ignition] countdown cancelled"
		}
		return fmt.Sprintf("[ignition] T-%s", e.Remaining.Round(time.Second))
	}

	return ""
}
