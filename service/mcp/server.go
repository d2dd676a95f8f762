// Package mcp exposes the debugger session bridge as Model Context
// Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/dapbridge/dapbridge/pkg/logflags"
	"github.com/dapbridge/dapbridge/pkg/probe"
	"github.com/dapbridge/dapbridge/pkg/version"
	"github.com/dapbridge/dapbridge/service/api"
	"github.com/dapbridge/dapbridge/service/debugger"
	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server serves the debugger tools for one Manager.
type Server struct {
	debugger *debugger.Manager
	server   *mcpsdk.Server
	log      logflags.Logger
}

// NewServer creates a server whose tools drive m.
func NewServer(m *debugger.Manager) *Server {
	s := &Server{
		debugger: m,
		server: mcpsdk.NewServer(&mcpsdk.Implementation{
			Name:    "dapbridge",
			Version: version.DapbridgeVersion.Short(),
		}, nil),
		log: logflags.MCPLogger(),
	}
	s.register()
	return s
}

// Run serves requests on stdin/stdout until the client disconnects or ctx
// is done. The debug session is detached on return.
func (s *Server) Run(ctx context.Context) error {
	defer s.debugger.Detach(context.Background(), false)
	return s.server.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect serves requests on t, for tests and embedding.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

// reply converts the result of a Manager operation to a tool result.
// Failures are reported in-band with IsError set so that the calling
// model sees the error kind.
func (s *Server) reply(tool string, v interface{}, err error) (*mcpsdk.CallToolResult, any, error) {
	res := &mcpsdk.CallToolResult{}
	if err != nil {
		s.log.WithField("tool", tool).Warnf("%v", err)
		v = debugger.Failure(err)
		res.IsError = true
	}
	b, merr := json.Marshal(v)
	if merr != nil {
		return nil, nil, merr
	}
	res.Content = []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}}
	res.StructuredContent = json.RawMessage(b)
	return res, nil, nil
}

type attachArgs struct {
	PID         int    `json:"pid" jsonschema:"process id of the debuggee"`
	Program     string `json:"program,omitempty" jsonschema:"path of the debuggee executable, for symbol loading"`
	AdapterPath string `json:"adapter_path,omitempty" jsonschema:"path of the codelldb adapter executable"`
}

type detachArgs struct {
	TerminateDebuggee bool `json:"terminate_debuggee,omitempty" jsonschema:"kill the debuggee instead of letting it run"`
}

type statusArgs struct{}

type setBreakpointsArgs struct {
	SourcePath          string                       `json:"source_path,omitempty" jsonschema:"source file whose breakpoints are replaced"`
	Breakpoints         []api.SourceBreakpoint       `json:"breakpoints,omitempty" jsonschema:"the complete list of breakpoints for source_path, empty to clear"`
	FunctionBreakpoints []api.FunctionBreakpointSpec `json:"function_breakpoints,omitempty" jsonschema:"if present, replaces every function breakpoint; each entry is a function name or an object"`
}

// setBreakpointsSchema is the schema inferred from setBreakpointsArgs,
// except that a function breakpoint may also be a bare function name.
func setBreakpointsSchema() *jsonschema.Schema {
	spec, err := jsonschema.For[api.FunctionBreakpointSpec](nil)
	if err != nil {
		panic(err)
	}
	schema, err := jsonschema.For[setBreakpointsArgs](&jsonschema.ForOptions{
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeFor[api.FunctionBreakpointSpec](): {AnyOf: []*jsonschema.Schema{{Type: "string"}, spec}},
		},
	})
	if err != nil {
		panic(err)
	}
	return schema
}

type threadArgs struct {
	ThreadID int `json:"thread_id,omitempty" jsonschema:"thread to resume, defaults to the thread of the last stop"`
}

type variablesArgs struct {
	VariablesReference int `json:"variables_reference" jsonschema:"handle returned by evaluate or variables during the current stop"`
	Start              int `json:"start,omitempty"`
	Count              int `json:"count,omitempty"`
}

type evaluateArgs struct {
	Expression string `json:"expression"`
	FrameID    int    `json:"frame_id,omitempty" jsonschema:"defaults to the innermost frame of the stopped thread"`
	Context    string `json:"context,omitempty" jsonschema:"watch (default), repl, hover or clipboard"`
}

type readMemoryArgs struct {
	MemoryReference string `json:"memory_reference" jsonschema:"memory reference returned during the current stop"`
	Offset          int    `json:"offset,omitempty"`
	Count           int    `json:"count" jsonschema:"number of bytes, at most 65536"`
}

type consoleArgs struct {
	Command   string         `json:"command" jsonschema:"lldb command"`
	FrameID   int            `json:"frame_id,omitempty"`
	Context   string         `json:"context,omitempty" jsonschema:"ignored, commands always run in the repl context"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"ignored"`
}

type snapshotArgs struct {
	IncludeEntities   *bool `json:"include_entities,omitempty" jsonschema:"default true"`
	IncludeComponents *bool `json:"include_components,omitempty" jsonschema:"default true"`
	IncludeResources  bool  `json:"include_resources,omitempty" jsonschema:"default false"`
}

func (a *snapshotArgs) sections() probe.Sections {
	sections := probe.DefaultSections()
	if a.IncludeEntities != nil {
		sections.Entities = *a.IncludeEntities
	}
	if a.IncludeComponents != nil {
		sections.Components = *a.IncludeComponents
	}
	sections.Resources = a.IncludeResources
	return sections
}

func (s *Server) register() {
	m := s.debugger
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "debugger_attach",
		Description: "Attach the debugger to a running process. The process is stopped on entry.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args attachArgs) (*mcpsdk.CallToolResult, any, error) {
		res, err := m.Attach(ctx, args.PID, args.Program, args.AdapterPath)
		return s.reply("debugger_attach", res, err)
	})
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "debugger_detach",
		Description: "Detach from the debuggee and end the session.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args detachArgs) (*mcpsdk.CallToolResult, any, error) {
		res, err := m.Detach(ctx, args.TerminateDebuggee)
		return s.reply("debugger_detach", res, err)
	})
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "debugger_status",
		Description: "Report the session state and the current stop, if any.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, _ statusArgs) (*mcpsdk.CallToolResult, any, error) {
		return s.reply("debugger_status", m.State(), nil)
	})
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "debugger_set_breakpoints",
		Description: "Replace the breakpoints of a source file and optionally every function breakpoint.",
		InputSchema: setBreakpointsSchema(),
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args setBreakpointsArgs) (*mcpsdk.CallToolResult, any, error) {
		res, err := m.SetBreakpoints(ctx, args.SourcePath, args.Breakpoints, args.FunctionBreakpoints)
		return s.reply("debugger_set_breakpoints", res, err)
	})

	for _, tool := range []struct {
		name, description string
		f                 func(context.Context, int) (*api.ExecutionResult, error)
	}{
		{"debugger_continue", "Resume the debuggee and wait for the next stop.", m.Continue},
		{"debugger_step_over", "Step over the current line and wait for the stop.", m.StepOver},
		{"debugger_step_in", "Step into the call on the current line and wait for the stop.", m.StepIn},
		{"debugger_step_out", "Run until the current function returns and wait for the stop.", m.StepOut},
	} {
		tool := tool
		mcpsdk.AddTool(s.server, &mcpsdk.Tool{Name: tool.name, Description: tool.description},
			func(ctx context.Context, _ *mcpsdk.CallToolRequest, args threadArgs) (*mcpsdk.CallToolResult, any, error) {
				res, err := tool.f(ctx, args.ThreadID)
				return s.reply(tool.name, res, err)
			})
	}

	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "debugger_variables",
		Description: "List the children of a variables reference.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args variablesArgs) (*mcpsdk.CallToolResult, any, error) {
		res, err := m.Variables(ctx, args.VariablesReference, args.Start, args.Count)
		return s.reply("debugger_variables", res, err)
	})
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "debugger_evaluate",
		Description: "Evaluate an expression in a frame of the stopped debuggee.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args evaluateArgs) (*mcpsdk.CallToolResult, any, error) {
		res, err := m.Evaluate(ctx, args.Expression, args.FrameID, args.Context)
		return s.reply("debugger_evaluate", res, err)
	})
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "debugger_read_memory",
		Description: "Read raw memory of the stopped debuggee, returned as base64.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args readMemoryArgs) (*mcpsdk.CallToolResult, any, error) {
		res, err := m.ReadMemory(ctx, args.MemoryReference, args.Offset, args.Count)
		return s.reply("debugger_read_memory", res, err)
	})
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "debugger_console",
		Description: "Run an lldb command and return its result and output.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args consoleArgs) (*mcpsdk.CallToolResult, any, error) {
		res, err := m.Console(ctx, args.Command, args.FrameID)
		return s.reply("debugger_console", res, err)
	})
	mcpsdk.AddTool(s.server, &mcpsdk.Tool{
		Name:        "bevy_debug_snapshot",
		Description: "Capture the Bevy runtime snapshot published at the debug safe point.",
	}, func(ctx context.Context, _ *mcpsdk.CallToolRequest, args snapshotArgs) (*mcpsdk.CallToolResult, any, error) {
		res, err := m.Snapshot(ctx, args.sections())
		return s.reply("bevy_debug_snapshot", res, err)
	})
}
