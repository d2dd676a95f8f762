package starbind

import (
	"context"
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/dapbridge/dapbridge/pkg/probe"
	"github.com/dapbridge/dapbridge/service/api"
)

// binding describes a builtin forwarding to a Debugger method. Arguments
// are accepted positionally, in the order of params, or as keywords.
type binding struct {
	name   string
	params []string
	doc    string
	call   func(ctx context.Context, d Debugger, args *bindingArgs) (interface{}, error)
}

// bindingArgs holds the arguments of one builtin call, by parameter name.
type bindingArgs struct {
	vals map[string]starlark.Value
}

func (a *bindingArgs) decode(name string, dst interface{}) error {
	v, ok := a.vals[name]
	if !ok {
		return nil
	}
	return unmarshalStarlarkValue(v, dst, name)
}

func (a *bindingArgs) has(name string) bool {
	v, ok := a.vals[name]
	return ok && v != starlark.None
}

func (a *bindingArgs) int(name string) (int, error) {
	var n int
	err := a.decode(name, &n)
	return n, err
}

func (a *bindingArgs) str(name string) (string, error) {
	var s string
	err := a.decode(name, &s)
	return s, err
}

func (a *bindingArgs) bool(name string) (bool, error) {
	var b bool
	err := a.decode(name, &b)
	return b, err
}

func bindArgs(b *binding, args starlark.Tuple, kwargs []starlark.Tuple) (*bindingArgs, error) {
	if len(args) > len(b.params) {
		return nil, fmt.Errorf("%s: got %d arguments, want at most %d", b.name, len(args), len(b.params))
	}
	r := &bindingArgs{vals: make(map[string]starlark.Value)}
	for i := range args {
		r.vals[b.params[i]] = args[i]
	}
	for _, kv := range kwargs {
		name := string(kv[0].(starlark.String))
		known := false
		for _, p := range b.params {
			if p == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown argument %q", name)
		}
		if _, dup := r.vals[name]; dup {
			return nil, fmt.Errorf("argument %q given twice", name)
		}
		r.vals[name] = kv[1]
	}
	return r, nil
}

func resumeBinding(name, doc string, f func(Debugger) func(context.Context, int) (*api.ExecutionResult, error)) binding {
	return binding{
		name:   name,
		params: []string{"thread_id"},
		doc:    doc,
		call: func(ctx context.Context, d Debugger, a *bindingArgs) (interface{}, error) {
			tid, err := a.int("thread_id")
			if err != nil {
				return nil, err
			}
			return f(d)(ctx, tid)
		},
	}
}

const setBreakpointsDoc = `set_breakpoints replaces the breakpoints of source_path.

breakpoints is a list of dicts with the keys line, column, condition,
hit_condition and log_message. If function_breakpoints, a list of dicts
with the keys name, condition and hit_condition, is given it replaces
every function breakpoint; an empty list clears them.`

var bindings = []binding{
	{
		name:   "attach",
		params: []string{"pid", "program", "adapter_path"},
		doc:    "attach attaches to a running process. The process is stopped on entry.",
		call: func(ctx context.Context, d Debugger, a *bindingArgs) (interface{}, error) {
			pid, err := a.int("pid")
			if err != nil {
				return nil, err
			}
			program, err := a.str("program")
			if err != nil {
				return nil, err
			}
			adapterPath, err := a.str("adapter_path")
			if err != nil {
				return nil, err
			}
			return d.Attach(ctx, pid, program, adapterPath)
		},
	},
	{
		name:   "detach",
		params: []string{"terminate"},
		doc:    "detach ends the debug session. If terminate is true the process is killed.",
		call: func(ctx context.Context, d Debugger, a *bindingArgs) (interface{}, error) {
			terminate, err := a.bool("terminate")
			if err != nil {
				return nil, err
			}
			return d.Detach(ctx, terminate)
		},
	},
	{
		name: "status",
		doc:  "status returns the session state and the current stop.",
		call: func(ctx context.Context, d Debugger, a *bindingArgs) (interface{}, error) {
			return d.State(), nil
		},
	},
	{
		name:   "set_breakpoints",
		params: []string{"source_path", "breakpoints", "function_breakpoints"},
		doc:    setBreakpointsDoc,
		call: func(ctx context.Context, d Debugger, a *bindingArgs) (interface{}, error) {
			path, err := a.str("source_path")
			if err != nil {
				return nil, err
			}
			var bps []api.SourceBreakpoint
			if err := a.decode("breakpoints", &bps); err != nil {
				return nil, err
			}
			var functions []api.FunctionBreakpointSpec
			if a.has("function_breakpoints") {
				functions = []api.FunctionBreakpointSpec{}
				if err := a.decode("function_breakpoints", &functions); err != nil {
					return nil, err
				}
			}
			return d.SetBreakpoints(ctx, path, bps, functions)
		},
	},
	resumeBinding("cont", "cont resumes the process and waits for the next stop.", func(d Debugger) func(context.Context, int) (*api.ExecutionResult, error) {
		return d.Continue
	}),
	resumeBinding("step_over", "step_over steps over the current line.", func(d Debugger) func(context.Context, int) (*api.ExecutionResult, error) {
		return d.StepOver
	}),
	resumeBinding("step_in", "step_in steps into the call on the current line.", func(d Debugger) func(context.Context, int) (*api.ExecutionResult, error) {
		return d.StepIn
	}),
	resumeBinding("step_out", "step_out runs until the current function returns.", func(d Debugger) func(context.Context, int) (*api.ExecutionResult, error) {
		return d.StepOut
	}),
	{
		name:   "variables",
		params: []string{"variables_reference", "start", "count"},
		doc:    "variables lists the children of a variables reference returned during the current stop.",
		call: func(ctx context.Context, d Debugger, a *bindingArgs) (interface{}, error) {
			ref, err := a.int("variables_reference")
			if err != nil {
				return nil, err
			}
			start, err := a.int("start")
			if err != nil {
				return nil, err
			}
			count, err := a.int("count")
			if err != nil {
				return nil, err
			}
			return d.Variables(ctx, ref, start, count)
		},
	},
	{
		name:   "evaluate",
		params: []string{"expression", "frame_id", "context"},
		doc:    "evaluate evaluates an expression, by default in the innermost frame of the stopped thread.",
		call: func(ctx context.Context, d Debugger, a *bindingArgs) (interface{}, error) {
			expr, err := a.str("expression")
			if err != nil {
				return nil, err
			}
			frame, err := a.int("frame_id")
			if err != nil {
				return nil, err
			}
			evalContext, err := a.str("context")
			if err != nil {
				return nil, err
			}
			return d.Evaluate(ctx, expr, frame, evalContext)
		},
	},
	{
		name:   "read_memory",
		params: []string{"memory_reference", "count", "offset"},
		doc:    "read_memory reads count bytes at a memory reference. The data is returned base64 encoded.",
		call: func(ctx context.Context, d Debugger, a *bindingArgs) (interface{}, error) {
			ref, err := a.str("memory_reference")
			if err != nil {
				return nil, err
			}
			count, err := a.int("count")
			if err != nil {
				return nil, err
			}
			offset, err := a.int("offset")
			if err != nil {
				return nil, err
			}
			return d.ReadMemory(ctx, ref, offset, count)
		},
	},
	{
		name:   "console",
		params: []string{"command", "frame_id"},
		doc:    "console runs an lldb command and returns its result and output.",
		call: func(ctx context.Context, d Debugger, a *bindingArgs) (interface{}, error) {
			command, err := a.str("command")
			if err != nil {
				return nil, err
			}
			frame, err := a.int("frame_id")
			if err != nil {
				return nil, err
			}
			return d.Console(ctx, command, frame)
		},
	},
	{
		name:   "snapshot",
		params: []string{"include_entities", "include_components", "include_resources"},
		doc:    "snapshot captures the runtime snapshot published at the debug safe point.",
		call: func(ctx context.Context, d Debugger, a *bindingArgs) (interface{}, error) {
			sections := probe.DefaultSections()
			if err := a.decode("include_entities", &sections.Entities); err != nil {
				return nil, err
			}
			if err := a.decode("include_components", &sections.Components); err != nil {
				return nil, err
			}
			if err := a.decode("include_resources", &sections.Resources); err != nil {
				return nil, err
			}
			return d.Snapshot(ctx, sections)
		},
	},
}

func (env *Env) starlarkPredeclare() (starlark.StringDict, map[string]string) {
	r := starlark.StringDict{}
	doc := make(map[string]string)

	for i := range bindings {
		b := &bindings[i]
		r[b.name] = starlark.NewBuiltin(b.name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := isCancelled(thread); err != nil {
				return starlark.None, decorateError(thread, err)
			}
			bargs, err := bindArgs(b, args, kwargs)
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
			ret, err := b.call(threadContext(thread), env.ctx.Debugger(), bargs)
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
			v, err := interfaceToStarlarkValue(ret)
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
			return v, nil
		})
		doc[b.name] = fmt.Sprintf("builtin %s(%s)\n\n%s", b.name, strings.Join(b.params, ", "), b.doc)
	}
	return r, doc
}
