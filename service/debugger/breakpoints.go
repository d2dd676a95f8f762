package debugger

import (
	"context"
	"path/filepath"

	"github.com/dapbridge/dapbridge/service/api"
	godap "github.com/google/go-dap"
)

// breakpointRegistry holds the breakpoints as last acknowledged by the
// adapter. Source breakpoints are kept per file; function breakpoints form
// one global set.
type breakpointRegistry struct {
	source    map[string][]api.Breakpoint
	functions []api.FunctionBreakpoint
}

func newBreakpointRegistry() *breakpointRegistry {
	return &breakpointRegistry{source: make(map[string][]api.Breakpoint)}
}

func (r *breakpointRegistry) replaceSource(path string, bps []api.Breakpoint) {
	if len(bps) == 0 {
		delete(r.source, path)
		return
	}
	r.source[path] = bps
}

func (r *breakpointRegistry) replaceFunctions(bps []api.FunctionBreakpoint) {
	r.functions = bps
}

func (r *breakpointRegistry) sourceFor(path string) []api.Breakpoint {
	return append([]api.Breakpoint(nil), r.source[path]...)
}

func (r *breakpointRegistry) functionList() []api.FunctionBreakpoint {
	return append([]api.FunctionBreakpoint(nil), r.functions...)
}

// update applies a breakpoint event reported by the adapter.
func (r *breakpointRegistry) update(id int, verified bool, message string) {
	if id == 0 {
		return
	}
	for _, bps := range r.source {
		for i := range bps {
			if bps[i].ID == id {
				bps[i].Verified = verified
				bps[i].Message = message
				return
			}
		}
	}
	for i := range r.functions {
		if r.functions[i].ID == id {
			r.functions[i].Verified = verified
			r.functions[i].Message = message
			return
		}
	}
}

const msgNoAdapterAnswer = "adapter did not report this breakpoint"

// setBreakpoints replaces the source breakpoints of path and, when
// functions is not nil, the whole function breakpoint set.
func (s *Session) setBreakpoints(ctx context.Context, path string, requested []api.SourceBreakpoint, functions []api.FunctionBreakpointSpec) (*api.SetBreakpointsResult, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if !state.Live() {
		return nil, newError(InvalidState, "set_breakpoints: session is %s", state)
	}

	if err := s.acquire(ctx); err != nil {
		return nil, wrapAdapterError("setBreakpoints", err)
	}
	defer s.release()

	if path != "" {
		args := godap.SetBreakpointsArguments{
			Source:      godap.Source{Name: filepath.Base(path), Path: path},
			Breakpoints: make([]godap.SourceBreakpoint, len(requested)),
		}
		for i, bp := range requested {
			args.Breakpoints[i] = godap.SourceBreakpoint{
				Line:         bp.Line,
				Column:       bp.Column,
				Condition:    bp.Condition,
				HitCondition: bp.HitCondition,
				LogMessage:   bp.LogMessage,
			}
		}
		var body godap.SetBreakpointsResponseBody
		_, err := s.requestLocked(ctx, "setBreakpoints", func(r godap.Request) godap.Message {
			return &godap.SetBreakpointsRequest{Request: r, Arguments: args}
		}, &body, 0)
		if err != nil {
			return nil, err
		}
		bps := make([]api.Breakpoint, len(requested))
		for i, bp := range requested {
			bps[i] = api.Breakpoint{
				SourcePath:   path,
				Line:         bp.Line,
				Column:       bp.Column,
				Condition:    bp.Condition,
				HitCondition: bp.HitCondition,
				LogMessage:   bp.LogMessage,
				Message:      msgNoAdapterAnswer,
			}
			if i < len(body.Breakpoints) {
				got := body.Breakpoints[i]
				bps[i].ID = got.Id
				bps[i].Verified = got.Verified
				bps[i].Message = got.Message
				if got.Line > 0 {
					bps[i].Line = got.Line
				}
			}
		}
		s.mu.Lock()
		s.breakpoints.replaceSource(path, bps)
		s.mu.Unlock()
	}

	if functions != nil {
		args := godap.SetFunctionBreakpointsArguments{
			Breakpoints: make([]godap.FunctionBreakpoint, len(functions)),
		}
		for i, fb := range functions {
			args.Breakpoints[i] = godap.FunctionBreakpoint{Name: fb.Name, Condition: fb.Condition, HitCondition: fb.HitCondition}
		}
		var body godap.SetFunctionBreakpointsResponseBody
		_, err := s.requestLocked(ctx, "setFunctionBreakpoints", func(r godap.Request) godap.Message {
			return &godap.SetFunctionBreakpointsRequest{Request: r, Arguments: args}
		}, &body, 0)
		if err != nil {
			return nil, err
		}
		fbps := make([]api.FunctionBreakpoint, len(functions))
		for i, fb := range functions {
			fbps[i] = api.FunctionBreakpoint{FunctionName: fb.Name, Condition: fb.Condition, Message: msgNoAdapterAnswer}
			if i < len(body.Breakpoints) {
				got := body.Breakpoints[i]
				fbps[i].ID = got.Id
				fbps[i].Verified = got.Verified
				fbps[i].Message = got.Message
			}
		}
		s.mu.Lock()
		s.breakpoints.replaceFunctions(fbps)
		s.mu.Unlock()
	}

	if err := s.configurationDoneLocked(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res := &api.SetBreakpointsResult{
		OK:                    true,
		State:                 s.state,
		ConfigurationDoneSent: s.configDone,
		SourceBreakpoints:     s.breakpoints.sourceFor(path),
		FunctionBreakpoints:   s.breakpoints.functionList(),
	}
	if s.state == api.StateStopped {
		res.Stop = copyStop(s.stop)
	}
	if res.SourceBreakpoints == nil {
		res.SourceBreakpoints = []api.Breakpoint{}
	}
	if res.FunctionBreakpoints == nil {
		res.FunctionBreakpoints = []api.FunctionBreakpoint{}
	}
	return res, nil
}
