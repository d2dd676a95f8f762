package starbind

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.starlark.net/starlark"

	"github.com/dapbridge/dapbridge/pkg/probe"
	"github.com/dapbridge/dapbridge/service/api"
)

type bufferWriter struct {
	bytes.Buffer
	echo strings.Builder
}

func (w *bufferWriter) Echo(s string) { w.echo.WriteString(s) }
func (w *bufferWriter) Flush()        {}

// fakeDebugger records the arguments it was called with.
type fakeDebugger struct {
	pid       int
	program   string
	path      string
	bps       []api.SourceBreakpoint
	functions []api.FunctionBreakpointSpec
	calls     []string
	sections  probe.Sections
	expr      string
	readCount int
}

func (d *fakeDebugger) Attach(ctx context.Context, pid int, program, adapterPath string) (*api.AttachResult, error) {
	d.pid, d.program = pid, program
	return &api.AttachResult{OK: true, State: api.StateAttached, PID: pid, LogPath: "/tmp/x.jsonl"}, nil
}

func (d *fakeDebugger) Detach(ctx context.Context, terminate bool) (*api.DetachResult, error) {
	d.calls = append(d.calls, "detach")
	return &api.DetachResult{OK: true, State: api.StateDetached}, nil
}

func (d *fakeDebugger) State() *api.Status {
	return &api.Status{OK: true, State: api.StateStopped, PID: d.pid, Stop: &api.StopContext{Reason: "breakpoint", ThreadID: 3}}
}

func (d *fakeDebugger) SetBreakpoints(ctx context.Context, path string, bps []api.SourceBreakpoint, functions []api.FunctionBreakpointSpec) (*api.SetBreakpointsResult, error) {
	d.path, d.bps, d.functions = path, bps, functions
	res := &api.SetBreakpointsResult{OK: true, State: api.StateStopped}
	for i, bp := range bps {
		res.SourceBreakpoints = append(res.SourceBreakpoints, api.Breakpoint{ID: i + 1, SourcePath: path, Line: bp.Line, Verified: true})
	}
	return res, nil
}

func (d *fakeDebugger) resume(op string, threadID int) (*api.ExecutionResult, error) {
	d.calls = append(d.calls, op)
	if threadID == 0 {
		threadID = 3
	}
	stop := &api.StopContext{Reason: "step", ThreadID: threadID}
	return &api.ExecutionResult{OK: true, State: api.StateStopped, ThreadID: threadID, Stop: stop, LastStop: stop}, nil
}

func (d *fakeDebugger) Continue(ctx context.Context, threadID int) (*api.ExecutionResult, error) {
	return d.resume("continue", threadID)
}

func (d *fakeDebugger) StepOver(ctx context.Context, threadID int) (*api.ExecutionResult, error) {
	return d.resume("step_over", threadID)
}

func (d *fakeDebugger) StepIn(ctx context.Context, threadID int) (*api.ExecutionResult, error) {
	return d.resume("step_in", threadID)
}

func (d *fakeDebugger) StepOut(ctx context.Context, threadID int) (*api.ExecutionResult, error) {
	return d.resume("step_out", threadID)
}

func (d *fakeDebugger) Variables(ctx context.Context, handle, start, count int) (*api.VariablesResult, error) {
	if handle != 1 {
		return nil, errors.New("invalid handle")
	}
	return &api.VariablesResult{OK: true, Variables: []api.Variable{{Name: "x", Value: "1"}, {Name: "y", Value: "2"}}}, nil
}

func (d *fakeDebugger) Evaluate(ctx context.Context, expr string, frameID int, evalContext string) (*api.EvaluateResult, error) {
	d.expr = expr
	return &api.EvaluateResult{OK: true, Result: "42", Type: "i32", VariablesReference: 1}, nil
}

func (d *fakeDebugger) ReadMemory(ctx context.Context, memRef string, offset, count int) (*api.ReadMemoryResult, error) {
	d.readCount = count
	return &api.ReadMemoryResult{OK: true, Address: memRef, Count: count, DataBase64: "AAAA"}, nil
}

func (d *fakeDebugger) Console(ctx context.Context, command string, frameID int) (*api.EvaluateResult, error) {
	return &api.EvaluateResult{OK: true, Output: []api.OutputEvent{{Category: "console", Output: "ok\n"}}}, nil
}

func (d *fakeDebugger) Snapshot(ctx context.Context, sections probe.Sections) (*api.SnapshotResult, error) {
	d.sections = sections
	return &api.SnapshotResult{OK: true, Reason: "not at safe point"}, nil
}

type fakeContext struct {
	d        *fakeDebugger
	commands map[string]func(string) error
	called   []string
}

func (ctx *fakeContext) Debugger() Debugger { return ctx.d }

func (ctx *fakeContext) RegisterCommand(name, helpMsg string, cmdfn func(args string) error) {
	ctx.commands[name] = cmdfn
}

func (ctx *fakeContext) CallCommand(cmdstr string) error {
	ctx.called = append(ctx.called, cmdstr)
	return nil
}

func newTestEnv() (*Env, *fakeContext, *bufferWriter) {
	ctx := &fakeContext{d: &fakeDebugger{}, commands: make(map[string]func(string) error)}
	out := &bufferWriter{}
	return New(ctx, out), ctx, out
}

func TestDebuggerBuiltins(t *testing.T) {
	env, ctx, out := newTestEnv()
	script := `
r = attach(4242, program="/usr/bin/game")
if r["state"] != "attached":
    fail("attach: %s" % r)
set_breakpoints("src/main.rs", [{"line": 10}, {"line": 20, "condition": "n > 1"}], function_breakpoints=[])
s = status()
print("stopped at", s["stop"]["thread_id"])
e = step_over()
print(e["stop"]["reason"])
v = evaluate("game.frame")
for child in variables(v["variables_reference"])["variables"]:
    print(child["name"], child["value"])
read_memory("0x5000", 16)
console("image list")
snapshot(include_resources=True, include_components=False)
dap_command("status")
detach()
`
	if _, err := env.Execute("test.star", script, "", nil); err != nil {
		t.Fatal(err)
	}
	d := ctx.d
	if d.pid != 4242 || d.program != "/usr/bin/game" {
		t.Errorf("attach got %d %q", d.pid, d.program)
	}
	if d.path != "src/main.rs" || len(d.bps) != 2 || d.bps[1].Condition != "n > 1" {
		t.Errorf("set_breakpoints got %q %#v", d.path, d.bps)
	}
	if d.functions == nil || len(d.functions) != 0 {
		t.Errorf("function breakpoints %#v", d.functions)
	}
	if d.expr != "game.frame" || d.readCount != 16 {
		t.Errorf("evaluate %q, read_memory %d", d.expr, d.readCount)
	}
	if !d.sections.Entities || d.sections.Components || !d.sections.Resources {
		t.Errorf("sections %#v", d.sections)
	}
	if len(ctx.called) != 1 || ctx.called[0] != "status" {
		t.Errorf("commands called %v", ctx.called)
	}
	want := "stopped at 3\nstep\nx 1\ny 2\n"
	if out.String() != want {
		t.Errorf("output %q, want %q", out.String(), want)
	}
}

func TestBuiltinErrors(t *testing.T) {
	for _, script := range []string{
		`attach(1, 2)`,
		`attach(pid=1, pid2=2)`,
		`evaluate("x", frame_id="top")`,
		`variables(7)`,
		`cont(1, 2)`,
	} {
		env, _, _ := newTestEnv()
		_, err := env.Execute("test.star", script, "", nil)
		if err == nil {
			t.Errorf("%s: no error", script)
			continue
		}
		if !strings.Contains(err.Error(), "test.star:1") {
			t.Errorf("%s: error without position: %v", script, err)
		}
	}
}

func TestCreateCommand(t *testing.T) {
	env, ctx, out := newTestEnv()
	script := `
def command_stepn(args):
    "Steps over n lines."
    for i in range(int(args)):
        step_over()

def command_show(expr, frame):
    print(evaluate(expr, frame)["result"])

Counter = 1
def main(name):
    print("hello", name)
`
	if _, err := env.Execute("test.star", script, "main", []interface{}{"world"}); err != nil {
		t.Fatal(err)
	}
	if out.String() != "hello world\n" {
		t.Errorf("main output %q", out.String())
	}
	if _, ok := env.env["Counter"]; !ok {
		t.Error("capitalized global not exported")
	}
	if err := ctx.commands["stepn"]("3"); err != nil {
		t.Fatal(err)
	}
	if len(ctx.d.calls) != 3 {
		t.Errorf("calls %v", ctx.d.calls)
	}
	out.Reset()
	if err := ctx.commands["show"](`"a.b", 1000`); err != nil {
		t.Fatal(err)
	}
	if out.String() != "42\n" || ctx.d.expr != "a.b" {
		t.Errorf("show output %q, expr %q", out.String(), ctx.d.expr)
	}
}

func TestFileBuiltins(t *testing.T) {
	env, _, out := newTestEnv()
	path := filepath.Join(t.TempDir(), "out.txt")
	script := `
write_file(PATH, "data")
print(read_file(PATH))
help(read_file)
`
	env.env["PATH"] = starlark.String(path)
	if _, err := env.Execute("test.star", script, "", nil); err != nil {
		t.Fatal(err)
	}
	buf, err := os.ReadFile(path)
	if err != nil || string(buf) != "data" {
		t.Fatalf("file contents %q, %v", buf, err)
	}
	if !strings.HasPrefix(out.String(), "data\nread_file(Path)") {
		t.Errorf("output %q", out.String())
	}

	jsonPath := filepath.Join(t.TempDir(), "state.json")
	env.env["PATH"] = starlark.String(jsonPath)
	if _, err := env.Execute("json.star", `write_file(PATH, {"state": "stopped", "thread_id": 3})`, "", nil); err != nil {
		t.Fatal(err)
	}
	buf, err = os.ReadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "{\n  \"state\": \"stopped\",\n  \"thread_id\": 3\n}\n" {
		t.Errorf("json file %q", buf)
	}

	if _, err := env.Execute("bad.star", `write_file(1, "x")`, "", nil); err == nil || !strings.Contains(err.Error(), "not a string") {
		t.Errorf("write_file with a numeric path: %v", err)
	}
}

func TestHelp(t *testing.T) {
	env, _, out := newTestEnv()
	if _, err := env.Execute("help.star", "help()", "", nil); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	if !strings.HasPrefix(s, "Session: stopped, process 0\nSession builtins:\n") {
		t.Errorf("help output %q", s)
	}
	session := strings.Index(s, "\tsnapshot\n")
	script := strings.Index(s, "Script builtins:\n")
	if session < 0 || script < 0 || session > script || !strings.Contains(s[script:], "\tdap_command\n") {
		t.Errorf("help output %q", s)
	}
}

func TestREPL(t *testing.T) {
	env, ctx, out := newTestEnv()
	lines := []string{"x = evaluate('n')", "x['result']", "def command_again(args):", "  cont()", "", "exit"}
	var prompts []string
	err := env.repl(func(prompt string) (string, error) {
		prompts = append(prompts, prompt)
		if len(lines) == 0 {
			return "", io.EOF
		}
		line := lines[0]
		lines = lines[1:]
		return line, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	const stopped = "[0 stopped, thread 3] >>> "
	want := []string{stopped, stopped, stopped, extraPrompt, extraPrompt, stopped}
	if strings.Join(prompts, "|") != strings.Join(want, "|") {
		t.Errorf("prompts %q", prompts)
	}
	if !strings.HasPrefix(out.echo.String(), stopped+"x = evaluate('n')\n") {
		t.Errorf("echo %q", out.echo.String())
	}
	if !strings.Contains(out.String(), `"42"`) {
		t.Errorf("output %q", out.String())
	}
	if _, ok := ctx.commands["again"]; !ok {
		t.Error("command defined in the REPL was not registered")
	}
}

func TestCancel(t *testing.T) {
	env, _, _ := newTestEnv()
	env.Cancel()
	thread := env.newThread()
	env.Cancel()
	if err := isCancelled(thread); err == nil {
		t.Fatal("thread not cancelled")
	}
}
