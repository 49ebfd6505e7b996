package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roman-kulish/rocket-telemetry/internal/api"
	"github.com/roman-kulish/rocket-telemetry/internal/session"
	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

const terminalHelp = `commands:
  connect [port] [baud]  open the serial port
  disconnect             close the serial port
  export <path>          move the session log to path
  status                 show the session state
  help                   show this help
  quit                   disconnect and exit
`

var errQuit = errors.New("quit")

func newRunCommand(opts *rootOptions) *cobra.Command {
	var flags sessionFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an interactive terminal session",
		Long: `run connects to the flight computer, prints every decoded reading and
accepts commands on standard input. Type "help" for the command list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, logger := opts.config, opts.logger
			if err := flags.apply(config); err != nil {
				return err
			}

			host, err := newSessionHost(config, serialOpener(config), logger)
			if err != nil {
				return err
			}

			term := newTerminal(host, cmd.OutOrStdout())
			if flags.connect {
				if err = host.connect(); err != nil {
					return errors.Join(err, host.Close())
				}
			}

			err = term.Run(cmd.Context(), cmd.InOrStdin())
			return errors.Join(err, host.Close())
		},
	}

	flags.register(cmd, true)
	return cmd
}

// terminal is a line-oriented host: session events are printed to out and
// commands are read from the input stream.
type terminal struct {
	ctrl   api.Controller
	events <-chan session.Event
	out    io.Writer

	port string
	baud int
}

func newTerminal(host *sessionHost, out io.Writer) *terminal {
	return &terminal{
		ctrl:   host.session,
		events: host.session.Events(),
		out:    out,
		port:   host.config.Serial.Port,
		baud:   host.config.Serial.BaudRate,
	}
}

// Run prints events and executes commands until ctx is done or a quit
// command is read. When the input ends, events are printed until ctx is done.
func (t *terminal) Run(ctx context.Context, in io.Reader) error {
	lines := scanLines(ctx, in)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-t.events:
			t.printEvent(ev)

		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := t.execute(line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(t.out, "error: %s\n", err)
			}
		}
	}
}

func scanLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func (t *terminal) execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "connect":
		port, baud := t.port, t.baud
		if len(args) > 0 {
			port = args[0]
		}
		if len(args) > 1 {
			var err error
			if baud, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid baud rate '%s'", args[1])
			}
		}
		if err := t.ctrl.Connect(port, baud); err != nil {
			return err
		}
		t.port, t.baud = port, baud
		fmt.Fprintf(t.out, "connecting to %s at %d baud\n", port, baud)

	case "disconnect":
		if err := t.ctrl.Disconnect(); err != nil {
			return err
		}
		fmt.Fprintln(t.out, "disconnected")

	case "export":
		if len(args) != 1 {
			return errors.New("usage: export <path>")
		}
		if err := t.ctrl.Retarget(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(t.out, "session log now at %s\n", args[0])

	case "status":
		t.printStatus()

	case "help":
		fmt.Fprint(t.out, terminalHelp)

	case "quit", "exit":
		return errQuit

	default:
		return fmt.Errorf("unknown command '%s', type help", cmd)
	}

	return nil
}

func (t *terminal) printEvent(ev session.Event) {
	switch ev.Type {
	case session.EventSampleDecoded:
		fmt.Fprintln(t.out, formatSample(ev.Sample))
	case session.EventConnectionEstablished:
		fmt.Fprintln(t.out, "connected")
	case session.EventConnectionLost:
		fmt.Fprintf(t.out, "connection lost: %s\n", errorText(ev.Err))
	case session.EventLogWriteFailed:
		fmt.Fprintf(t.out, "session log write failed: %s\n", errorText(ev.Err))
	}
}

func (t *terminal) printStatus() {
	status := t.ctrl.Status()

	fmt.Fprintf(t.out, "state:   %s\n", status.State)
	if status.Port != "" {
		fmt.Fprintf(t.out, "port:    %s @ %d baud\n", status.Port, status.BaudRate)
	}

	logState := "closed"
	if status.LogOpen {
		logState = "open"
	}
	fmt.Fprintf(t.out, "log:     %s (%s)\n", status.LogPath, logState)
	fmt.Fprintf(t.out, "history: %s points\n", humanize.Comma(int64(t.ctrl.History().Len())))

	if sample, ok := t.ctrl.Latest(); ok {
		fmt.Fprintf(t.out, "latest:  %s\n", formatSample(sample))
	}
}

// formatSample renders one reading on a single line. Missing values are "-".
func formatSample(s telemetry.Sample) string {
	var b strings.Builder

	b.WriteString(s.CapturedAt.Format("15:04:05.000"))
	for _, f := range []struct {
		name string
		v    *float64
		unit string
	}{
		{"temp", s.Temperature, "°C"},
		{"alt", s.Altitude, "m"},
		{"x", s.PosX, ""},
		{"y", s.PosY, ""},
		{"roll", s.Roll, "°"},
		{"pitch", s.Pitch, "°"},
		{"yaw", s.Yaw, "°"},
		{"mq135", s.Gas, ""},
	} {
		b.WriteString("  ")
		b.WriteString(f.name)
		b.WriteByte('=')
		if f.v == nil {
			b.WriteByte('-')
			continue
		}
		b.WriteString(humanize.FtoaWithDigits(*f.v, 2))
		b.WriteString(f.unit)
	}

	return b.String()
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
