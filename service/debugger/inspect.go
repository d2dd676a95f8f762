package debugger

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/dapbridge/dapbridge/service/api"
	godap "github.com/google/go-dap"
)

// evaluateContexts maps the contexts accepted by Evaluate to the context
// sent to the adapter.
var evaluateContexts = map[string]string{
	"":          "watch",
	"watch":     "watch",
	"repl":      "repl",
	"hover":     "hover",
	"clipboard": "clipboard",
	"console":   "repl",
}

// requireStopped returns the current stop and handle generation, or
// NotStopped.
func (s *Session) requireStopped(op string) (*api.StopContext, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != api.StateStopped {
		return nil, 0, newError(NotStopped, "%s: debuggee is %s, not stopped", op, s.state)
	}
	return copyStop(s.stop), s.gen, nil
}

// topFrameID returns the innermost frame of the stopped thread.
func (s *Session) topFrameID(ctx context.Context) (int, error) {
	frames, err := s.stackFrames(ctx)
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 0, newError(NoStoppedThread, "stopped thread has no frames")
	}
	return frames[0].Id, nil
}

func (s *Session) variables(ctx context.Context, handle, start, count int) (*api.VariablesResult, error) {
	_, gen, err := s.requireStopped("variables")
	if err != nil {
		return nil, err
	}
	if start < 0 || count < 0 {
		return nil, newError(InvalidArgument, "variables: start and count must not be negative")
	}
	s.mu.Lock()
	ref, ok := s.handles.get(handle)
	s.mu.Unlock()
	if !ok {
		return nil, newError(InvalidHandle, "variables: unknown or stale handle %d", handle)
	}

	var body godap.VariablesResponseBody
	_, err = s.request(ctx, "variables", func(r godap.Request) godap.Message {
		return &godap.VariablesRequest{Request: r, Arguments: godap.VariablesArguments{
			VariablesReference: ref,
			Start:              start,
			Count:              count,
		}}
	}, &body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, newError(InvalidHandle, "variables: debuggee resumed while reading handle %d", handle)
	}
	vars := make([]api.Variable, len(body.Variables))
	for i, v := range body.Variables {
		s.handles.addMemory(v.MemoryReference)
		vars[i] = api.Variable{
			Name:               v.Name,
			Value:              v.Value,
			Type:               v.Type,
			EvaluateName:       v.EvaluateName,
			VariablesReference: s.handles.create(v.VariablesReference),
			NamedVariables:     v.NamedVariables,
			IndexedVariables:   v.IndexedVariables,
			MemoryReference:    v.MemoryReference,
		}
	}
	return &api.VariablesResult{OK: true, Variables: vars}, nil
}

func (s *Session) evaluate(ctx context.Context, op, expr string, frameID int, evalContext string) (*api.EvaluateResult, error) {
	_, gen, err := s.requireStopped(op)
	if err != nil {
		return nil, err
	}
	adapterContext, ok := evaluateContexts[evalContext]
	if !ok {
		return nil, newError(InvalidArgument, "%s: unknown context %q", op, evalContext)
	}
	if frameID == 0 {
		if frameID, err = s.topFrameID(ctx); err != nil {
			return nil, err
		}
	}

	var body godap.EvaluateResponseBody
	_, err = s.request(ctx, "evaluate", func(r godap.Request) godap.Message {
		return &godap.EvaluateRequest{Request: r, Arguments: godap.EvaluateArguments{
			Expression: expr,
			FrameId:    frameID,
			Context:    adapterContext,
		}}
	}, &body)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return nil, newError(InvalidHandle, "%s: debuggee resumed during evaluation", op)
	}
	s.handles.addMemory(body.MemoryReference)
	return &api.EvaluateResult{
		OK:                 true,
		Result:             body.Result,
		Type:               body.Type,
		VariablesReference: s.handles.create(body.VariablesReference),
		MemoryReference:    body.MemoryReference,
	}, nil
}

func (s *Session) readMemory(ctx context.Context, memRef string, offset, count int) (*api.ReadMemoryResult, error) {
	if _, _, err := s.requireStopped("read_memory"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	known := s.handles.hasMemory(memRef)
	s.mu.Unlock()
	if !known {
		return nil, newError(InvalidHandle, "read_memory: memory reference %q was not issued during the current stop", memRef)
	}
	return s.readMemoryRef(ctx, memRef, offset, count)
}

// readMemoryRef reads without checking that memRef was issued by the
// bridge.
func (s *Session) readMemoryRef(ctx context.Context, memRef string, offset, count int) (*api.ReadMemoryResult, error) {
	var body godap.ReadMemoryResponseBody
	resp, err := s.request(ctx, "readMemory", func(r godap.Request) godap.Message {
		return &godap.ReadMemoryRequest{Request: r, Arguments: godap.ReadMemoryArguments{
			MemoryReference: memRef,
			Offset:          offset,
			Count:           count,
		}}
	}, &body)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(body.Data)
	if err != nil {
		return nil, &Error{Kind: AdapterProtocolError, Msg: "readMemory: data is not base64", Err: err}
	}
	return &api.ReadMemoryResult{
		OK:              true,
		Address:         body.Address,
		Count:           len(data),
		DataBase64:      body.Data,
		UnreadableBytes: body.UnreadableBytes,
		Raw:             resp.Body,
	}, nil
}

// console runs a debugger command in the repl context and returns it
// together with the output it produced.
func (s *Session) console(ctx context.Context, command string, frameID int) (*api.EvaluateResult, error) {
	s.mu.Lock()
	mark := s.output.mark()
	s.mu.Unlock()

	res, err := s.evaluate(ctx, "console", command, frameID, "repl")
	if err != nil {
		return nil, err
	}
	res.Output = s.waitOutput(ctx, mark, s.conf.OutputWait)
	return res, nil
}

// waitOutput returns the output events received since mark, waiting up to
// wait for the first one.
func (s *Session) waitOutput(ctx context.Context, mark int, wait time.Duration) []api.OutputEvent {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		s.mu.Lock()
		out := s.output.since(mark)
		ch := s.changed
		s.mu.Unlock()
		if len(out) > 0 {
			return out
		}
		select {
		case <-ch:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}
