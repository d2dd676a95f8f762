package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/go-delve/liner"

	"github.com/dapbridge/dapbridge/pkg/config"
	"github.com/dapbridge/dapbridge/pkg/logflags"
	"github.com/dapbridge/dapbridge/pkg/terminal/starbind"
	"github.com/dapbridge/dapbridge/service/api"
)

const (
	historyFile                 string = ".dbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
	ansiBlue   = 34
)

// Term represents the interactive terminal driving one debug session.
type Term struct {
	debugger starbind.Debugger
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   *transcriptWriter
	InitFile string

	starlarkEnv *starbind.Env

	// breakpoints mirrors what was last sent to the adapter, which only
	// supports replacing the breakpoints of a file as a whole.
	breakpoints     map[string][]api.SourceBreakpoint
	funcBreakpoints []api.FunctionBreakpointSpec
	verified        map[string][]api.Breakpoint
	funcVerified    []api.FunctionBreakpoint

	// cancel aborts the command currently waiting on the debugger.
	cancelMu sync.Mutex
	cancel   context.CancelFunc

	// quitDetach is set by exitCommand to leave the debuggee running
	// without asking.
	quitDetach bool
}

// New returns a new Term driving d.
func New(d starbind.Debugger, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
		conf.Fill()
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	t := &Term{
		debugger:    d,
		conf:        conf,
		prompt:      "(dapbridge) ",
		line:        liner.NewLiner(),
		cmds:        cmds,
		dumb:        dumb,
		stdout:      &transcriptWriter{pw: &pagingWriter{w: w}},
		breakpoints: make(map[string][]api.SourceBreakpoint),
		verified:    make(map[string][]api.Breakpoint),
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

// sigintGuard aborts the running command on SIGINT. The debuggee is
// not interrupted: the session keeps its state.
func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		t.cancelMu.Lock()
		cancel := t.cancel
		t.cancelMu.Unlock()
		if cancel != nil {
			fmt.Fprintf(os.Stderr, "received SIGINT, abandoning the command (the debuggee is not interrupted)\n")
			cancel()
		}
	}
}

// commandContext returns the context of a command, cancelled by SIGINT, and
// the function releasing it. Commands called by a script while another
// command runs are cancelled together with it.
func (t *Term) commandContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelMu.Lock()
	prev := t.cancel
	t.cancel = func() {
		cancel()
		if prev != nil {
			prev()
		}
	}
	t.cancelMu.Unlock()
	return ctx, func() {
		t.cancelMu.Lock()
		t.cancel = prev
		t.cancelMu.Unlock()
		cancel()
	}
}

// Run begins running the terminal. It returns the exit status.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(t.cmds.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Println("Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	var lastCmd string
	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("Prompt for input failed.\n")
		}
		// <enter> repeats the last command, which is how stepping is
		// usually done.
		if strings.TrimSpace(cmdstr) == "" {
			cmdstr = lastCmd
		} else {
			lastCmd = cmdstr
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			logflags.TerminalLogger().Debugf("command %q failed: %v", cmdstr, err)
			t.Errorf("Command failed: %s\n", err)
		}
	}
}

// Source executes a file of commands, or a starlark script if path has the
// .star extension, without starting the interactive prompt.
func (t *Term) Source(path string) error {
	defer t.stdout.Flush()
	return t.cmds.Call("source "+path, t)
}

// Println prints a line to the terminal, with a highlighted prefix.
func (t *Term) Println(prefix, str string) {
	t.printColor(ansiBlue, prefix)
	fmt.Fprintf(t.stdout, "%s\n", str)
}

// Errorf prints an error message to the terminal.
func (t *Term) Errorf(format string, args ...interface{}) {
	t.printColor(ansiRed, fmt.Sprintf(format, args...))
}

func (t *Term) printColor(color int, s string) {
	if !t.dumb {
		terminalColorEscapeCode := fmt.Sprintf(terminalHighlightEscapeCode, color)
		s = fmt.Sprintf("%s%s%s", terminalColorEscapeCode, s, terminalResetEscapeCode)
	}
	fmt.Fprint(t.stdout, s)
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}
	t.stdout.Echo(t.prompt + l + "\n")

	return l, nil
}

func yesno(line *liner.State, question string) (bool, error) {
	for {
		answer, err := line.Prompt(question)
		if err != nil {
			return false, err
		}
		answer = strings.ToLower(strings.TrimSpace(answer))
		switch answer {
		case "n", "no", "":
			return false, nil
		case "y", "yes":
			return true, nil
		}
	}
}

func (t *Term) handleExit() (int, error) {
	t.stdout.Flush()
	t.stdout.CloseTranscript()

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	s := t.debugger.State()
	switch s.State {
	case api.StateDetached:
		return 0, nil
	case api.StateTerminated:
		t.debugger.Detach(context.Background(), false)
		return 0, nil
	}

	kill := false
	if !t.quitDetach {
		answer, err := yesno(t.line, fmt.Sprintf("Would you like to kill process %d? [y/N] ", s.PID))
		if err != nil {
			return 2, io.EOF
		}
		kill = answer
	}
	if _, err := t.debugger.Detach(context.Background(), kill); err != nil {
		return 1, err
	}
	return 0, nil
}
