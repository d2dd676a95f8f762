package terminal

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-dap"

	"github.com/dapbridge/dapbridge/pkg/config"
	"github.com/dapbridge/dapbridge/pkg/logflags"
	"github.com/dapbridge/dapbridge/pkg/terminal/starbind"
	"github.com/dapbridge/dapbridge/service/api"
	"github.com/dapbridge/dapbridge/service/dap/daptest"
	"github.com/dapbridge/dapbridge/service/debugger"
)

func TestMain(m *testing.M) {
	var logOutput string
	flag.StringVar(&logOutput, "log-output", "", "configures log output")
	flag.Parse()
	logflags.Setup(logOutput != "", logOutput, "")
	os.Exit(m.Run())
}

type FakeTerminal struct {
	*Term
	t      testing.TB
	out    *bytes.Buffer
	fake   *daptest.Adapter
	target *daptest.Target
}

const logCommandOutput = false

func (ft *FakeTerminal) Exec(cmdstr string) (outstr string, err error) {
	ft.out.Reset()
	err = ft.cmds.Call(cmdstr, ft.Term)
	outstr = ft.out.String()
	if logCommandOutput {
		ft.t.Logf("command %q -> %q", cmdstr, outstr)
	}
	return
}

func (ft *FakeTerminal) MustExec(cmdstr string) string {
	outstr, err := ft.Exec(cmdstr)
	if err != nil {
		ft.t.Errorf("output of %q: %q", cmdstr, outstr)
		ft.t.Fatalf("Error executing <%s>: %v", cmdstr, err)
	}
	return outstr
}

func (ft *FakeTerminal) AssertExec(cmdstr, tgt string) {
	out := ft.MustExec(cmdstr)
	if !strings.Contains(out, tgt) {
		ft.t.Fatalf("output of %q: %q does not contain %q", cmdstr, out, tgt)
	}
}

func (ft *FakeTerminal) AssertExecError(cmdstr, tgterr string) {
	_, err := ft.Exec(cmdstr)
	if err == nil {
		ft.t.Fatalf("Expected error executing %q", cmdstr)
	}
	if !strings.Contains(err.Error(), tgterr) {
		ft.t.Fatalf("Expected error %q executing %q, got error %q", tgterr, cmdstr, err.Error())
	}
}

// attach attaches to the fake debuggee and waits for its stop on entry.
func (ft *FakeTerminal) attach() {
	ft.AssertExec("attach 4242 /usr/bin/game", "Attached to process 4242")
	ft.fake.Stopped("entry", 1)
	deadline := time.Now().Add(2 * time.Second)
	for ft.debugger.State().State != api.StateStopped {
		if time.Now().After(deadline) {
			ft.t.Fatalf("state is %s", ft.debugger.State().State)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func withTestTerminal(t *testing.T, fn func(*FakeTerminal)) {
	fake, conn := daptest.NewPipe()
	target := daptest.NewTarget("main")
	target.Install(fake)
	fake.Serve()
	m := debugger.NewManager(debugger.Config{
		LogDir:         t.TempDir(),
		RequestTimeout: 2 * time.Second,
		StopTimeout:    2 * time.Second,
		OutputWait:     200 * time.Millisecond,
		Dial: func(string) (io.ReadWriteCloser, error) {
			return conn, nil
		},
	})
	defer func() {
		m.Detach(context.Background(), false)
		fake.Close()
	}()

	conf := &config.Config{}
	conf.Fill()
	term := New(m, conf)
	defer term.Close()
	out := new(bytes.Buffer)
	term.dumb = true
	term.stdout = &transcriptWriter{pw: &pagingWriter{w: out}}
	term.starlarkEnv = starbind.New(starlarkContext{term}, term.stdout)

	fn(&FakeTerminal{Term: term, t: t, out: out, fake: fake, target: target})
}

func TestCommandDefault(t *testing.T) {
	var (
		cmds = Commands{}
		cmd  = cmds.Find("non-existent-command")
	)

	err := cmd(nil, callContext{}, "")
	if err == nil {
		t.Fatal("cmd() did not default")
	}

	if err.Error() != "command not available" {
		t.Fatal("wrong command output")
	}
}

func TestCommandReplayWithoutPreviousCommand(t *testing.T) {
	var (
		cmds = DebugCommands()
		cmd  = cmds.Find("")
		err  = cmd(nil, callContext{}, "")
	)

	if err != nil {
		t.Error("Null command not returned", err)
	}
}

func TestComplete(t *testing.T) {
	cmds := DebugCommands()
	got := cmds.complete("st")
	want := []string{"st", "status", "step", "stepout"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("complete(\"st\") = %v, want %v", got, want)
	}
	if got := cmds.complete("print x"); got != nil {
		t.Errorf("arguments completed: %v", got)
	}
}

func TestNoSession(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.AssertExec("status", "Not attached")
		term.AssertExecError("next", "no debug session")
		term.AssertExecError("attach", "wrong number of arguments")
		term.AssertExecError("attach abc", "invalid pid")
		term.AssertExec("snapshot", "Snapshot not available")
	})
}

func TestAttachAndRun(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.attach()
		term.AssertExec("status", "Process 4242, state stopped")
		term.AssertExec("next", "stopped: step, thread 1")
		term.AssertExec("step", "stopped: step, thread 1")
		term.AssertExec("so", "stopped: step, thread 1")
		term.AssertExec("continue", "stopped: breakpoint, thread 1")
		term.AssertExecError("next abc", "invalid thread id")
		term.AssertExec("detach", "Session detached")
		term.AssertExec("status", "Not attached")
	})
}

func TestBreakpointCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.attach()
		term.target.Lock()
		term.target.Unverified[12] = true
		term.target.Unlock()

		term.AssertExec("break src/main.rs:10", "at src/main.rs:10 (verified)")
		out := term.MustExec("b src/main.rs:12 if n > 1")
		if !strings.Contains(out, "src/main.rs:12 if n > 1 (pending: no code at this line)") {
			t.Errorf("unverified breakpoint: %q", out)
		}
		term.AssertExec("break game::update", "at game::update (verified)")

		term.MustExec("cond src/main.rs:10 frame > 3")
		req, ok := term.fake.Last("setBreakpoints")
		if !ok {
			t.Fatal("no setBreakpoints request")
		}
		var args dap.SetBreakpointsArguments
		if err := req.Args(&args); err != nil {
			t.Fatal(err)
		}
		if len(args.Breakpoints) != 2 || args.Breakpoints[0].Condition != "frame > 3" || args.Breakpoints[1].Condition != "n > 1" {
			t.Errorf("breakpoints sent %#v", args.Breakpoints)
		}
		term.AssertExecError("cond src/main.rs:99 x", "no breakpoint")

		out = term.MustExec("breakpoints")
		for _, want := range []string{"src/main.rs:10 if frame > 3", "src/main.rs:12", "game::update"} {
			if !strings.Contains(out, want) {
				t.Errorf("breakpoints output %q does not contain %q", out, want)
			}
		}

		term.AssertExec("clear src/main.rs:10", "Breakpoint at src/main.rs:10 cleared")
		term.AssertExecError("clear src/main.rs:10", "no breakpoint at src/main.rs:10")
		term.AssertExec("clearall", "All breakpoints cleared")
		term.AssertExec("bp", "No breakpoints")
		if n := term.fake.Count("setFunctionBreakpoints"); n != 2 {
			t.Errorf("%d setFunctionBreakpoints requests", n)
		}
	})
}

var handleRe = regexp.MustCompile(`\[vars (\d+)\]`)

func TestDataCommands(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.target.Lock()
		term.target.Frames = []dap.StackFrame{{Id: 1000, Name: "update", Line: 42}, {Id: 1001, Name: "main", Line: 7}}
		term.target.Values["game.frame"] = dap.EvaluateResponseBody{Result: "7", Type: "u64", VariablesReference: 5, MemoryReference: "0x5000"}
		term.target.Values["image list"] = dap.EvaluateResponseBody{Result: "[0] game"}
		term.target.Variables[5] = []dap.Variable{{Name: "count", Value: "3", Type: "i32"}, {Name: "name", Value: `"ok"`}}
		term.target.Memory["0x5000"] = daptest.Memory{Address: 0x5000, Data: []byte("hello world!")}
		term.target.Unlock()
		term.attach()

		out := term.MustExec("print game.frame")
		if !strings.HasPrefix(out, "7 (u64)") || !strings.Contains(out, "[mem 0x5000]") {
			t.Errorf("print output %q", out)
		}
		m := handleRe.FindStringSubmatch(out)
		if m == nil {
			t.Fatalf("no variables reference in %q", out)
		}
		out = term.MustExec("vars " + m[1])
		if !strings.Contains(out, "count") || !strings.Contains(out, `"ok"`) {
			t.Errorf("vars output %q", out)
		}
		term.AssertExecError("print nosuch", "undeclared identifier")
		term.AssertExecError("vars", "wrong number of arguments")

		out = term.MustExec("x -count 16 0x5000")
		if !strings.Contains(out, "0x00005000: 68 65 6c 6c 6f") || !strings.Contains(out, "hello world!") {
			t.Errorf("examinemem output %q", out)
		}
		if !strings.Contains(out, "4 bytes unreadable") {
			t.Errorf("unreadable bytes not reported: %q", out)
		}
		term.AssertExecError("x", "no memory reference")
		term.AssertExecError("x -count abc 0x5000", "invalid number")

		term.AssertExec("lldb image list", "[0] game")

		term.MustExec("next")
		term.AssertExec("frame", "=> 0: frame id 1000")
		term.AssertExec("frame 1", "Frame 1 selected")
		term.AssertExecError("frame 5", "does not exist")
		term.MustExec("p game.frame")
		req, _ := term.fake.Last("evaluate")
		var args dap.EvaluateArguments
		req.Args(&args)
		if args.FrameId != 1001 {
			t.Errorf("evaluated in frame %d", args.FrameId)
		}

		term.AssertExec("snapshot -resources", "Snapshot not available")
		term.AssertExecError("snapshot -bogus", "unknown argument")
	})
}

func TestExecuteFile(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "init")
		script := "# comment\nstatus\n\nnosuchcommand\nhelp status\n"
		if err := os.WriteFile(path, []byte(script), 0o600); err != nil {
			t.Fatal(err)
		}
		out := term.MustExec("source " + path)
		if !strings.Contains(out, "Not attached") {
			t.Errorf("status not executed: %q", out)
		}
		if !strings.Contains(out, path+":4: command not available") {
			t.Errorf("error not reported: %q", out)
		}
		if !strings.Contains(out, "Prints the session state") {
			t.Errorf("help not executed: %q", out)
		}
	})
}

func TestStarlarkSource(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "cmds.star")
		script := `
def command_state(args):
    "Prints the session state."
    print("state", status()["state"])

def main():
    dap_command("status")
`
		if err := os.WriteFile(path, []byte(script), 0o600); err != nil {
			t.Fatal(err)
		}
		term.AssertExec("source "+path, "Not attached")
		term.AssertExec("state", "state detached")
		term.AssertExec("help state", "Prints the session state.")
	})
}

func TestHelp(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		out := term.MustExec("help")
		for _, want := range []string{"Managing the debug session", "attach", "examinemem (alias: x)", "Other commands"} {
			if !strings.Contains(out, want) {
				t.Errorf("help output does not contain %q", want)
			}
		}
		term.AssertExecError("help nosuch", "command not available")
	})
}

func TestTranscript(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		path := filepath.Join(t.TempDir(), "transcript.txt")
		term.MustExec("transcript -x " + path)
		if out := term.MustExec("status"); out != "" {
			t.Errorf("output not suppressed: %q", out)
		}
		term.MustExec("transcript -off")
		buf, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(buf), "Not attached") {
			t.Errorf("transcript %q", buf)
		}
		if !strings.HasPrefix(string(buf), "# dapbridge transcript started ") || !strings.Contains(string(buf), "# session detached\n") {
			t.Errorf("transcript header %q", buf)
		}
		term.AssertExecError("transcript -off "+path, "does not take an output path")
		term.AssertExecError("transcript", "no output path")
	})
}

func TestConfig(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		term.MustExec("config request-timeout 3s")
		if term.conf.RequestTimeout != 3*time.Second {
			t.Errorf("request-timeout %v", term.conf.RequestTimeout)
		}
		term.MustExec("config probe.capacity 128")
		if term.conf.Probe.Capacity != 128 {
			t.Errorf("probe.capacity %d", term.conf.Probe.Capacity)
		}
		term.MustExec("config safe-point-marker game_safe_point")
		if term.conf.SafePointMarker != "game_safe_point" {
			t.Errorf("safe-point-marker %q", term.conf.SafePointMarker)
		}
		term.AssertExecError("config stop-timeout soon", "must be a duration")
		term.AssertExecError("config probe.capacity -1", "greater than zero")
		term.AssertExecError("config nosuch 1", "not a configuration parameter")

		out := term.MustExec("config -list")
		for _, want := range []string{"request-timeout", "3s", "probe.capacity", "128"} {
			if !strings.Contains(out, want) {
				t.Errorf("config -list output does not contain %q", want)
			}
		}

		term.MustExec("config alias print pp")
		term.AssertExecError("pp", "not enough arguments")
		term.MustExec("config alias pp")
		term.AssertExecError("pp", "command not available")
	})
}

func TestExit(t *testing.T) {
	withTestTerminal(t, func(term *FakeTerminal) {
		_, err := term.Exec("exit -c")
		if _, ok := err.(ExitRequestError); !ok {
			t.Fatalf("exit returned %v", err)
		}
		if !term.quitDetach {
			t.Error("exit -c did not set quitDetach")
		}
	})
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
		err  bool
	}{
		{"", nil, false},
		{"a b", []string{"a", "b"}, false},
		{`-adapter "/opt/code lldb/adapter" 12`, []string{"-adapter", "/opt/code lldb/adapter", "12"}, false},
		{"a `b`", nil, true},
	}
	for _, tc := range tests {
		got, err := splitArgs(tc.in)
		if (err != nil) != tc.err {
			t.Errorf("splitArgs(%q): error %v", tc.in, err)
			continue
		}
		if strings.Join(got, "|") != strings.Join(tc.want, "|") {
			t.Errorf("splitArgs(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		loc      string
		file     string
		line     int
		function string
	}{
		{"src/main.rs:10", "src/main.rs", 10, ""},
		{`C:\game\main.rs:3`, `C:\game\main.rs`, 3, ""},
		{"game::update", "", 0, "game::update"},
		{"main", "", 0, "main"},
	}
	for _, tc := range tests {
		file, line, function := parseLocation(tc.loc)
		if file != tc.file || line != tc.line || function != tc.function {
			t.Errorf("parseLocation(%q) = %q %d %q", tc.loc, file, line, function)
		}
	}
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	DebugCommands().WriteMarkdown(&buf)
	out := buf.String()
	for _, want := range []string{"## Running the program", "[continue](#continue)", "## snapshot", "Aliases: x"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown does not contain %q", want)
		}
	}
}
