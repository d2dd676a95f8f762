package debugger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dapbridge/dapbridge/pkg/probe"
	"github.com/dapbridge/dapbridge/service/api"
	godap "github.com/google/go-dap"
)

// Snapshot steps, as reported in SnapshotError.
const (
	stepStackTrace = "stack trace"
	stepEvaluate   = "evaluate"
	stepMemoryRead = "memory read"
	stepDecode     = "decode"
)

const snapshotFrameLevels = 3

func snapshotError(step string, err error) error {
	return &Error{Kind: SnapshotError, Msg: "snapshot", Step: step, Err: err}
}

func unsupported(reason string, stop *api.StopContext) *api.SnapshotResult {
	return &api.SnapshotResult{OK: true, Supported: false, Reason: reason, Stop: stop}
}

// snapshot reads the probe state published by the debuggee when it is
// paused in its safe-point function. The command slot is held for the
// whole chain so no other request can interleave with it.
func (s *Session) snapshot(ctx context.Context, sections probe.Sections) (*api.SnapshotResult, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, wrapAdapterError("snapshot", err)
	}
	defer s.release()

	s.mu.Lock()
	state, stop := s.state, copyStop(s.stop)
	s.mu.Unlock()
	if state != api.StateStopped || stop == nil {
		return unsupported("debuggee is not stopped", nil), nil
	}
	if stop.ThreadID == 0 {
		return unsupported("stop does not name a thread", stop), nil
	}

	raw := make(map[string]json.RawMessage)

	var trace godap.StackTraceResponseBody
	resp, err := s.requestLocked(ctx, "stackTrace", func(r godap.Request) godap.Message {
		return &godap.StackTraceRequest{Request: r, Arguments: godap.StackTraceArguments{
			ThreadId:   stop.ThreadID,
			StartFrame: 0,
			Levels:     snapshotFrameLevels,
		}}
	}, &trace, 0)
	if err != nil {
		return nil, snapshotError(stepStackTrace, err)
	}
	raw["stack_trace"] = resp.Body
	if len(trace.StackFrames) == 0 {
		return unsupported("stopped thread has no frames", stop), nil
	}
	top := trace.StackFrames[0]
	if !strings.Contains(top.Name, s.conf.SafePointMarker) {
		return unsupported(fmt.Sprintf("top frame is not %s (got %q)", s.conf.SafePointMarker, top.Name), stop), nil
	}

	eval := func(key, expr, evalContext string) (*godap.EvaluateResponseBody, error) {
		var body godap.EvaluateResponseBody
		resp, err := s.requestLocked(ctx, "evaluate", func(r godap.Request) godap.Message {
			return &godap.EvaluateRequest{Request: r, Arguments: godap.EvaluateArguments{
				Expression: expr,
				FrameId:    top.Id,
				Context:    evalContext,
			}}
		}, &body, 0)
		if err != nil {
			return nil, err
		}
		raw[key] = resp.Body
		return &body, nil
	}

	counterBody, err := eval("evaluate_counter", s.conf.Probe.Counter, "watch")
	if err != nil {
		return nil, snapshotError(stepEvaluate, err)
	}
	counter, err := probe.ParseInteger(counterBody.Result)
	if err != nil {
		return nil, snapshotError(stepEvaluate, fmt.Errorf("%s: %v", s.conf.Probe.Counter, err))
	}
	lengthBody, err := eval("evaluate_length", s.conf.Probe.Length, "watch")
	if err != nil {
		return nil, snapshotError(stepEvaluate, err)
	}
	length, err := probe.ParseInteger(lengthBody.Result)
	if err != nil {
		return nil, snapshotError(stepEvaluate, fmt.Errorf("%s: %v", s.conf.Probe.Length, err))
	}
	if length > uint64(s.conf.Probe.Capacity) {
		return nil, snapshotError(stepEvaluate, fmt.Errorf("%s is %d, larger than the %d byte probe buffer", s.conf.Probe.Length, length, s.conf.Probe.Capacity))
	}
	if length == 0 {
		return nil, snapshotError(stepDecode, fmt.Errorf("%s is zero, nothing was published", s.conf.Probe.Length))
	}

	memRef, err := s.bufferReference(ctx, eval)
	if err != nil {
		return nil, snapshotError(stepEvaluate, err)
	}

	var mem godap.ReadMemoryResponseBody
	resp, err = s.requestLocked(ctx, "readMemory", func(r godap.Request) godap.Message {
		return &godap.ReadMemoryRequest{Request: r, Arguments: godap.ReadMemoryArguments{
			MemoryReference: memRef,
			Count:           int(length),
		}}
	}, &mem, 0)
	if err != nil {
		return nil, snapshotError(stepMemoryRead, err)
	}
	raw["read_memory"] = resp.Body
	data, err := base64.StdEncoding.DecodeString(mem.Data)
	if err != nil {
		return nil, snapshotError(stepMemoryRead, err)
	}
	if mem.UnreadableBytes > 0 || uint64(len(data)) != length {
		return nil, snapshotError(stepMemoryRead, fmt.Errorf("read %d of %d bytes at %s (%d unreadable)", len(data), length, memRef, mem.UnreadableBytes))
	}

	snap, err := probe.Decode(data, sections)
	if err != nil {
		return nil, snapshotError(stepDecode, err)
	}
	n := int(length)
	return &api.SnapshotResult{
		OK:           true,
		Supported:    true,
		FrameCounter: &counter,
		SnapshotLen:  &n,
		Snapshot:     snap,
		Raw:          raw,
		Stop:         stop,
	}, nil
}

type evalFunc func(key, expr, evalContext string) (*godap.EvaluateResponseBody, error)

// bufferReference resolves the memory reference of the probe buffer. The
// watch evaluation normally carries one; otherwise the address is parsed
// from a p/x in the repl, whose answer codelldb may print as output.
func (s *Session) bufferReference(ctx context.Context, eval evalFunc) (string, error) {
	symbol := s.conf.Probe.Buffer
	if v, ok := s.addrCache.Get(symbol); ok {
		return v.(string), nil
	}

	body, err := eval("evaluate_buffer", symbol, "watch")
	if err == nil && body.MemoryReference != "" {
		s.addrCache.Add(symbol, body.MemoryReference)
		return body.MemoryReference, nil
	}
	if err == nil {
		if addr, ok := probe.ParseHexAddress(body.Result); ok {
			ref := fmt.Sprintf("0x%x", addr)
			s.addrCache.Add(symbol, ref)
			return ref, nil
		}
	}

	s.mu.Lock()
	mark := s.output.mark()
	s.mu.Unlock()
	fallback, ferr := eval("evaluate_buffer_fallback", "p/x "+symbol, "repl")
	if ferr != nil {
		if err != nil {
			return "", err
		}
		return "", ferr
	}
	addr, ok := probe.ParseHexAddress(fallback.Result)
	if !ok {
		addr, ok = s.addressFromOutput(ctx, mark)
	}
	if !ok {
		return "", fmt.Errorf("could not resolve the address of %s", symbol)
	}
	ref := fmt.Sprintf("0x%x", addr)
	s.addrCache.Add(symbol, ref)
	return ref, nil
}

// addressFromOutput looks for a hex address in the output events that
// arrive after mark, waiting up to OutputWait.
func (s *Session) addressFromOutput(ctx context.Context, mark int) (uint64, bool) {
	deadline := time.Now().Add(s.conf.OutputWait)
	for {
		out := s.waitOutput(ctx, mark, time.Until(deadline))
		if len(out) == 0 {
			return 0, false
		}
		for _, ev := range out {
			if addr, ok := probe.ParseHexAddress(ev.Output); ok {
				return addr, true
			}
		}
		mark += len(out)
		if !time.Now().Before(deadline) {
			return 0, false
		}
	}
}
