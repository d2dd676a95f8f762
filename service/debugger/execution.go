package debugger

import (
	"context"
	"errors"
	"time"

	"github.com/dapbridge/dapbridge/service/api"
	godap "github.com/google/go-dap"
)

// Execution control verbs, by operation name.
const (
	opContinue = "continue"
	opStepOver = "step_over"
	opStepIn   = "step_in"
	opStepOut  = "step_out"
)

var resumeCommands = map[string]func(godap.Request, int) godap.Message{
	opContinue: func(r godap.Request, tid int) godap.Message {
		return &godap.ContinueRequest{Request: r, Arguments: godap.ContinueArguments{ThreadId: tid}}
	},
	opStepOver: func(r godap.Request, tid int) godap.Message {
		return &godap.NextRequest{Request: r, Arguments: godap.NextArguments{ThreadId: tid}}
	},
	opStepIn: func(r godap.Request, tid int) godap.Message {
		return &godap.StepInRequest{Request: r, Arguments: godap.StepInArguments{ThreadId: tid}}
	},
	opStepOut: func(r godap.Request, tid int) godap.Message {
		return &godap.StepOutRequest{Request: r, Arguments: godap.StepOutArguments{ThreadId: tid}}
	},
}

var adapterVerbs = map[string]string{
	opContinue: "continue",
	opStepOver: "next",
	opStepIn:   "stepIn",
	opStepOut:  "stepOut",
}

// resume issues a continue or step and waits for the debuggee to stop
// again, terminate, or for the stop timeout to expire.
func (s *Session) resume(ctx context.Context, op string, threadID int) (*api.ExecutionResult, error) {
	build, verb := resumeCommands[op], adapterVerbs[op]

	s.mu.Lock()
	if s.state != api.StateStopped {
		state := s.state
		s.mu.Unlock()
		return nil, newError(InvalidState, "%s: debuggee is %s, not stopped", op, state)
	}
	last := copyStop(s.stop)
	if threadID == 0 {
		if last == nil || last.ThreadID == 0 {
			s.mu.Unlock()
			return nil, newError(NoStoppedThread, "%s: no thread_id given and the current stop has no thread", op)
		}
		threadID = last.ThreadID
	}
	before := s.stops
	s.invalidate()
	s.stop = nil
	s.setState(api.StateRunning, op)
	s.broadcast()
	s.mu.Unlock()

	_, err := s.request(ctx, verb, func(r godap.Request) godap.Message {
		return build(r, threadID)
	}, nil)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && (e.Kind == AdapterError || e.Kind == InvalidState) {
			// The adapter refused; nothing moved.
			s.mu.Lock()
			if s.state == api.StateRunning && s.stops == before && !s.closed {
				s.stop = last
				s.setState(api.StateStopped, op+" refused")
				s.broadcast()
			}
			s.mu.Unlock()
		}
		return nil, err
	}

	stop, state, err := s.waitForStop(ctx, before)
	if err != nil {
		return nil, err
	}
	if stop != nil && state == api.StateStopped {
		stop = s.withFrames(ctx, stop)
	}
	return &api.ExecutionResult{OK: true, State: state, ThreadID: threadID, Stop: stop, LastStop: last}, nil
}

// waitForStop blocks until a stopped event newer than before has been
// ingested, the session terminates or detaches, or the stop timeout
// elapses.
func (s *Session) waitForStop(ctx context.Context, before int) (*api.StopContext, api.SessionState, error) {
	timer := time.NewTimer(s.conf.StopTimeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		state := s.state
		switch {
		case s.stops > before:
			stop := copyStop(s.latestStop)
			s.mu.Unlock()
			return stop, state, nil
		case state == api.StateTerminated || state == api.StateDetached:
			s.mu.Unlock()
			return nil, state, nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, api.StateRunning, wrapAdapterError("waiting for stop", ctx.Err())
		case <-timer.C:
			return nil, api.StateRunning, newError(Timeout, "no stop within %v; the debuggee is still running, retry or detach", s.conf.StopTimeout)
		}
	}
}

// withFrames fills in the frame ids of stop from a stack trace of the
// stopped thread. Failures leave stop unchanged.
func (s *Session) withFrames(ctx context.Context, stop *api.StopContext) *api.StopContext {
	frames, err := s.stackFrames(ctx)
	if err != nil {
		s.log.Debugf("stack trace after stop: %v", err)
		return stop
	}
	stop.FrameIDs = make([]int, len(frames))
	for i := range frames {
		stop.FrameIDs[i] = frames[i].Id
	}
	s.mu.Lock()
	if s.stop != nil && s.stop.ThreadID == stop.ThreadID && s.stops > 0 {
		s.stop.FrameIDs = append([]int(nil), stop.FrameIDs...)
	}
	s.mu.Unlock()
	return stop
}

const stackTraceLevels = 20

// stackFrames returns the frames of the stopped thread, cached for the
// current stop.
func (s *Session) stackFrames(ctx context.Context) ([]godap.StackFrame, error) {
	s.mu.Lock()
	if s.state != api.StateStopped || s.stop == nil {
		s.mu.Unlock()
		return nil, newError(NotStopped, "stack trace: debuggee is not stopped")
	}
	if s.framesGen == s.gen && s.frames != nil {
		frames := s.frames
		s.mu.Unlock()
		return frames, nil
	}
	gen, tid := s.gen, s.stop.ThreadID
	s.mu.Unlock()
	if tid == 0 {
		return nil, newError(NoStoppedThread, "stack trace: the current stop has no thread")
	}

	var body godap.StackTraceResponseBody
	_, err := s.request(ctx, "stackTrace", func(r godap.Request) godap.Message {
		return &godap.StackTraceRequest{Request: r, Arguments: godap.StackTraceArguments{ThreadId: tid, Levels: stackTraceLevels}}
	}, &body)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.gen == gen {
		s.frames = body.StackFrames
		s.framesGen = gen
	}
	s.mu.Unlock()
	return body.StackFrames, nil
}
