package daptest

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/google/go-dap"
)

// Memory is a region of debuggee memory. Bytes past the end of Data are
// unreadable.
type Memory struct {
	Address uint64
	Data    []byte
}

// Target describes the debuggee reported by an adapter configured with
// Install. Fields may be changed between requests; they are read under mu.
type Target struct {
	mu sync.Mutex

	Frames    []dap.StackFrame
	Values    map[string]dap.EvaluateResponseBody
	Variables map[int][]dap.Variable
	Memory    map[string]Memory

	// Unverified lists source lines the adapter refuses to verify.
	Unverified map[int]bool
	// AttachError, when set, fails the attach request with this message.
	AttachError string
	// OnResume runs after a continue or step response has been sent. The
	// default reports a breakpoint stop for continue and a step stop for
	// the step requests.
	OnResume func(a *Adapter, command string, threadID int)

	bpID int
}

// NewTarget returns an empty target with one frame named frame.
func NewTarget(frame string) *Target {
	return &Target{
		Frames:     []dap.StackFrame{{Id: 1000, Name: frame, Line: 42}},
		Values:     make(map[string]dap.EvaluateResponseBody),
		Variables:  make(map[int][]dap.Variable),
		Memory:     make(map[string]Memory),
		Unverified: make(map[int]bool),
	}
}

// Lock and Unlock guard mutations made while the adapter is serving.
func (t *Target) Lock()   { t.mu.Lock() }
func (t *Target) Unlock() { t.mu.Unlock() }

// Install registers handlers on a that answer from t.
func (t *Target) Install(a *Adapter) {
	a.Handle("initialize", func(a *Adapter, req *Request) {
		a.Respond(req, dap.Capabilities{
			SupportsConfigurationDoneRequest: true,
			SupportsFunctionBreakpoints:      true,
			SupportsConditionalBreakpoints:   true,
			SupportsReadMemoryRequest:        true,
			SupportsTerminateRequest:         true,
		})
		a.Send(&dap.InitializedEvent{Event: a.NewEvent("initialized")})
	})
	a.Handle("attach", func(a *Adapter, req *Request) {
		t.mu.Lock()
		msg := t.AttachError
		t.mu.Unlock()
		if msg != "" {
			a.RespondError(req, msg)
			return
		}
		a.Respond(req, nil)
	})
	a.Handle("setBreakpoints", func(a *Adapter, req *Request) {
		var args dap.SetBreakpointsArguments
		req.Args(&args)
		t.mu.Lock()
		bps := make([]dap.Breakpoint, len(args.Breakpoints))
		for i, bp := range args.Breakpoints {
			t.bpID++
			bps[i].Id = t.bpID
			bps[i].Line = bp.Line
			bps[i].Verified = !t.Unverified[bp.Line]
			if !bps[i].Verified {
				bps[i].Message = "no code at this line"
			}
		}
		t.mu.Unlock()
		a.Respond(req, dap.SetBreakpointsResponseBody{Breakpoints: bps})
	})
	a.Handle("setFunctionBreakpoints", func(a *Adapter, req *Request) {
		var args dap.SetFunctionBreakpointsArguments
		req.Args(&args)
		t.mu.Lock()
		bps := make([]dap.Breakpoint, len(args.Breakpoints))
		for i, bp := range args.Breakpoints {
			t.bpID++
			bps[i].Id = t.bpID
			bps[i].Verified = bp.Name != ""
		}
		t.mu.Unlock()
		a.Respond(req, dap.SetBreakpointsResponseBody{Breakpoints: bps})
	})
	resume := func(a *Adapter, req *Request) {
		var args struct {
			ThreadID int `json:"threadId"`
		}
		req.Args(&args)
		if req.Command == "continue" {
			a.Respond(req, dap.ContinueResponseBody{AllThreadsContinued: true})
		} else {
			a.Respond(req, nil)
		}
		t.mu.Lock()
		onResume := t.OnResume
		t.mu.Unlock()
		if onResume != nil {
			onResume(a, req.Command, args.ThreadID)
			return
		}
		if req.Command == "continue" {
			a.Stopped("breakpoint", args.ThreadID, t.bpID)
		} else {
			a.Stopped("step", args.ThreadID)
		}
	}
	for _, cmd := range []string{"continue", "next", "stepIn", "stepOut"} {
		a.Handle(cmd, resume)
	}
	a.Handle("stackTrace", func(a *Adapter, req *Request) {
		var args dap.StackTraceArguments
		req.Args(&args)
		t.mu.Lock()
		frames := append([]dap.StackFrame(nil), t.Frames...)
		t.mu.Unlock()
		if args.StartFrame < len(frames) {
			frames = frames[args.StartFrame:]
		} else {
			frames = nil
		}
		if args.Levels > 0 && len(frames) > args.Levels {
			frames = frames[:args.Levels]
		}
		a.Respond(req, dap.StackTraceResponseBody{StackFrames: frames, TotalFrames: len(frames)})
	})
	a.Handle("evaluate", func(a *Adapter, req *Request) {
		var args dap.EvaluateArguments
		req.Args(&args)
		t.mu.Lock()
		v, ok := t.Values[args.Expression]
		t.mu.Unlock()
		if !ok {
			a.RespondError(req, fmt.Sprintf("use of undeclared identifier '%s'", args.Expression))
			return
		}
		a.Respond(req, v)
	})
	a.Handle("variables", func(a *Adapter, req *Request) {
		var args dap.VariablesArguments
		req.Args(&args)
		t.mu.Lock()
		vars, ok := t.Variables[args.VariablesReference]
		t.mu.Unlock()
		if !ok {
			a.RespondError(req, "invalid variables reference")
			return
		}
		if args.Start < len(vars) {
			vars = vars[args.Start:]
		} else {
			vars = nil
		}
		if args.Count > 0 && len(vars) > args.Count {
			vars = vars[:args.Count]
		}
		a.Respond(req, dap.VariablesResponseBody{Variables: vars})
	})
	a.Handle("readMemory", func(a *Adapter, req *Request) {
		var args dap.ReadMemoryArguments
		req.Args(&args)
		t.mu.Lock()
		mem, ok := t.Memory[args.MemoryReference]
		t.mu.Unlock()
		if !ok {
			a.RespondError(req, "invalid memory reference")
			return
		}
		readable := len(mem.Data) - args.Offset
		if readable < 0 {
			readable = 0
		}
		if readable > args.Count {
			readable = args.Count
		}
		var data []byte
		if readable > 0 {
			data = mem.Data[args.Offset : args.Offset+readable]
		}
		a.Respond(req, dap.ReadMemoryResponseBody{
			Address:         fmt.Sprintf("0x%x", mem.Address+uint64(args.Offset)),
			UnreadableBytes: args.Count - readable,
			Data:            base64.StdEncoding.EncodeToString(data),
		})
	})
	a.Handle("terminate", func(a *Adapter, req *Request) {
		a.Respond(req, nil)
		a.Terminated()
	})
}
