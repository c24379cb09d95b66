package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"toolchat/internal/app"
	"toolchat/internal/logger"
)

// Setup runs the interactive authorization for the Google collaborators.
// Options.ResetAuth, when set, removes the stored credentials so the next
// setup starts from a fresh consent.
type Setup func(ctx context.Context, in io.Reader, out io.Writer) error

// Shell is the line-oriented front end over an app.Session. It owns the
// input reader so that approval prompts and commands never compete for
// buffered input.
type Shell struct {
	session     *app.Session
	in          *bufio.Reader
	out         io.Writer
	setup       Setup
	resetAuth   func() error
	turnTimeout time.Duration
	log         *zap.Logger
	commands    map[string]command
	order       []string
}

type Options struct {
	Setup       Setup
	ResetAuth   func() error
	TurnTimeout time.Duration
	Logger      *zap.Logger
}

func New(s *app.Session, in io.Reader, out io.Writer, opts Options) *Shell {
	sh := &Shell{
		session:     s,
		in:          bufio.NewReader(in),
		out:         out,
		setup:       opts.Setup,
		resetAuth:   opts.ResetAuth,
		turnTimeout: opts.TurnTimeout,
		log:         logger.OrNop(opts.Logger),
	}
	sh.register()
	return sh
}

// Run reads lines until EOF or an exit command.
func (sh *Shell) Run(ctx context.Context) error {
	fmt.Fprintln(sh.out, "toolchat: chat with tool use. Type 'help' for commands.")
	for {
		fmt.Fprint(sh.out, "\n> ")
		line, err := sh.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		if strings.TrimSpace(line) != "" {
			if sh.Execute(ctx, line) {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(sh.out)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Execute handles one input line and reports whether the shell should exit.
// Lines that are not commands are sent as chat messages.
func (sh *Shell) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	name, arg := splitCommand(line)
	if cmd, ok := sh.commands[name]; ok {
		return cmd.run(ctx, arg)
	}
	if strings.HasPrefix(line, "/") {
		fmt.Fprintf(sh.out, "Unknown command: %s. Type 'help' for commands.\n", strings.Fields(line)[0])
		return false
	}
	sh.chat(ctx, line)
	return false
}

// Approve asks on the shell's own input whether a capability may run.
func (sh *Shell) Approve(_ context.Context, toolName string, args json.RawMessage) (bool, error) {
	fmt.Fprintf(sh.out, "\n[approval required] %s %s\nallow? [y/N]: ", toolName, clip(string(args), 600))
	text, err := sh.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (sh *Shell) chat(ctx context.Context, input string) {
	ctx, cancel := withOptionalTimeout(ctx, sh.turnTimeout)
	defer cancel()
	ctx = app.WithEventHandler(ctx, sh.printEvent)

	start := time.Now()
	res, err := sh.session.Send(ctx, input)
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %s\n", describeError(err))
		return
	}
	answer := res.Answer
	if strings.TrimSpace(answer) == "" {
		answer = "(no answer)"
	}
	fmt.Fprintf(sh.out, "\n%s\n", answer)
	fmt.Fprintf(sh.out, "(done in %s)\n", time.Since(start).Round(time.Millisecond))
}

func (sh *Shell) printEvent(ev app.Event) {
	switch ev.Type {
	case app.EventThinking:
		fmt.Fprintf(sh.out, "\n[thinking]\n%s\n[/thinking]\n", ev.Text)
	case app.EventToolCall:
		fmt.Fprintf(sh.out, "-> %s %s\n", ev.Tool, clip(ev.Text, 200))
	case app.EventToolResult:
		fmt.Fprintf(sh.out, "<- %s: %s\n", ev.Tool, clip(ev.Text, 200))
	}
}

func splitCommand(line string) (string, string) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	name, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func clip(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func withOptionalTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}
