package starbind

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	starjson "go.starlark.net/lib/json"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/dapbridge/dapbridge/pkg/probe"
	"github.com/dapbridge/dapbridge/service/api"
)

const (
	commandPrefix     = "command_"
	bridgeContextName = "dapbridge_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true

	starlark.Universe["time"] = startime.Module
	starlark.Universe["json"] = starjson.Module
}

// Debugger is the set of session operations exposed to scripts.
// *debugger.Manager implements it.
type Debugger interface {
	Attach(ctx context.Context, pid int, program, adapterPath string) (*api.AttachResult, error)
	Detach(ctx context.Context, terminate bool) (*api.DetachResult, error)
	State() *api.Status
	SetBreakpoints(ctx context.Context, path string, bps []api.SourceBreakpoint, functions []api.FunctionBreakpointSpec) (*api.SetBreakpointsResult, error)
	Continue(ctx context.Context, threadID int) (*api.ExecutionResult, error)
	StepOver(ctx context.Context, threadID int) (*api.ExecutionResult, error)
	StepIn(ctx context.Context, threadID int) (*api.ExecutionResult, error)
	StepOut(ctx context.Context, threadID int) (*api.ExecutionResult, error)
	Variables(ctx context.Context, handle, start, count int) (*api.VariablesResult, error)
	Evaluate(ctx context.Context, expr string, frameID int, evalContext string) (*api.EvaluateResult, error)
	ReadMemory(ctx context.Context, memRef string, offset, count int) (*api.ReadMemoryResult, error)
	Console(ctx context.Context, command string, frameID int) (*api.EvaluateResult, error)
	Snapshot(ctx context.Context, sections probe.Sections) (*api.SnapshotResult, error)
}

// Context is the context in which starlark scripts are evaluated.
// It gives access to the debug session and to terminal commands.
type Context interface {
	Debugger() Debugger
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx Context
	out EchoWriter
}

// scriptBuiltin is a builtin that does not go through the session manager.
type scriptBuiltin struct {
	name  string
	usage string
	doc   string
	fn    func(env *Env, args starlark.Tuple) (starlark.Value, error)
}

var scriptBuiltins = []scriptBuiltin{
	{
		name:  "dap_command",
		usage: "dap_command(Command)",
		doc:   "runs a terminal command, for example dap_command(\"break main.rs:10\").",
		fn: func(env *Env, args starlark.Tuple) (starlark.Value, error) {
			words := make([]string, len(args))
			for i := range args {
				s, ok := starlark.AsString(args[i])
				if !ok {
					return nil, fmt.Errorf("argument %d of dap_command is not a string", i)
				}
				words[i] = s
			}
			return starlark.None, env.ctx.CallCommand(strings.Join(words, " "))
		},
	},
	{
		name:  "read_file",
		usage: "read_file(Path)",
		doc:   "returns the contents of a file, for example a saved breakpoint list.",
		fn: func(env *Env, args starlark.Tuple) (starlark.Value, error) {
			path, err := pathArg(args, 1)
			if err != nil {
				return nil, err
			}
			buf, err := os.ReadFile(path)
			if err != nil {
				return nil, err
			}
			return starlark.String(buf), nil
		},
	},
	{
		name:  "write_file",
		usage: "write_file(Path, Text)",
		doc:   "writes Text to a file. Values that are not strings are written as JSON, so write_file(\"s.json\", snapshot()) saves a snapshot.",
		fn: func(env *Env, args starlark.Tuple) (starlark.Value, error) {
			path, err := pathArg(args, 2)
			if err != nil {
				return nil, err
			}
			text, ok := starlark.AsString(args[1])
			if !ok {
				var err error
				if text, err = encodeJSON(args[1]); err != nil {
					return nil, err
				}
			}
			return starlark.None, os.WriteFile(path, []byte(text), 0640)
		},
	},
}

// encodeJSON renders v as indented JSON with the json module.
func encodeJSON(v starlark.Value) (string, error) {
	thread := &starlark.Thread{Name: "encode"}
	enc, err := starlark.Call(thread, starjson.Module.Members["encode"], starlark.Tuple{v}, nil)
	if err != nil {
		return "", err
	}
	ind, err := starlark.Call(thread, starjson.Module.Members["indent"], starlark.Tuple{enc}, []starlark.Tuple{{starlark.String("indent"), starlark.String("  ")}})
	if err != nil {
		return "", err
	}
	s, _ := starlark.AsString(ind)
	return s + "\n", nil
}

func pathArg(args starlark.Tuple, want int) (string, error) {
	if len(args) != want {
		return "", fmt.Errorf("got %d arguments, want %d", len(args), want)
	}
	path, ok := starlark.AsString(args[0])
	if !ok {
		return "", fmt.Errorf("path is a %s, not a string", args[0].Type())
	}
	return path, nil
}

// New creates a new starlark binding environment.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{ctx: ctx, out: out}
	env.env, env.doc = env.starlarkPredeclare()

	for i := range scriptBuiltins {
		b := &scriptBuiltins[i]
		env.env[b.name] = starlark.NewBuiltin(b.name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
			if err := isCancelled(thread); err != nil {
				return starlark.None, err
			}
			v, err := b.fn(env, args)
			return v, decorateError(thread, err)
		})
		env.doc[b.name] = b.usage + "\n\n" + b.doc
	}
	env.env["help"] = starlark.NewBuiltin("help", env.help)
	env.doc["help"] = "help(Object)\n\nprints help for Object, or the session state and the list of builtins."
	return env
}

func (env *Env) help(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	switch len(args) {
	case 0:
		st := env.ctx.Debugger().State()
		if st.State == api.StateDetached {
			fmt.Fprintln(env.out, "Session: detached")
		} else {
			fmt.Fprintf(env.out, "Session: %s, process %d\n", st.State, st.PID)
		}
		var session, script []string
		for name, value := range env.env {
			if _, ok := value.(*starlark.Builtin); !ok {
				continue
			}
			if isSessionBinding(name) {
				session = append(session, name)
			} else {
				script = append(script, name)
			}
		}
		sort.Strings(session)
		sort.Strings(script)
		fmt.Fprintf(env.out, "Session builtins:\n\t%s\n", strings.Join(session, "\n\t"))
		fmt.Fprintf(env.out, "Script builtins:\n\t%s\n", strings.Join(script, "\n\t"))
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if d := env.doc[x.Name()]; d != "" {
				fmt.Fprintln(env.out, d)
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if d := x.Doc(); d != "" {
				fmt.Fprintln(env.out, d)
			}
		default:
			fmt.Fprintf(env.out, "no help for %s value\n", args[0].Type())
		}
	default:
		return starlark.None, fmt.Errorf("help: got %d arguments, want at most 1", len(args))
	}
	return starlark.None, nil
}

func isSessionBinding(name string) bool {
	for i := range bindings {
		if bindings[i].name == name {
			return true
		}
	}
	return false
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out EchoWriter) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute runs a script. Path names the script and source, if not nil, is
// its contents as a []byte, a string or an io.Reader. If the script defines
// a function called mainFnName it is then called with args.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (_ starlark.Value, _err error) {
	defer func() {
		if r := recover(); r != nil {
			_err = fmt.Errorf("script %s panicked: %v", path, r)
			fmt.Fprintf(env.out, "%v\n%s", _err, debug.Stack())
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}
	if err := env.exportGlobals(globals); err != nil {
		return starlark.None, err
	}
	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_"
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			err := env.createCommand(name, val)
			if err != nil {
				return err
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function,
// including a debugger operation it is waiting on.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(bridgeContextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fnval.NumParams() == 1 {
		if p0, _ := fnval.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fnval, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return nil
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
		if err != nil {
			return err
		}
		argtuple, ok := argval.(starlark.Tuple)
		if !ok {
			argtuple = starlark.Tuple{argval}
		}
		_, err = starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
	return nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []interface{}) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		v, err := interfaceToStarlarkValue(args[i])
		if err != nil {
			return starlark.None, err
		}
		argtuple[i] = v
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

// threadContext returns the context of a script thread, cancelled by Cancel.
func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(bridgeContextName).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func isCancelled(thread *starlark.Thread) error {
	select {
	case <-threadContext(thread).Done():
		return threadContext(thread).Err()
	default:
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}

// EchoWriter is the output of scripts. Echo writes only to the transcript.
type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}
