// Package debugger bridges discrete debugger operations onto one live,
// event-driven debug adapter session.
package debugger

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/dapbridge/dapbridge/pkg/logflags"
	"github.com/dapbridge/dapbridge/pkg/probe"
	"github.com/dapbridge/dapbridge/service/api"
	"github.com/dapbridge/dapbridge/service/dap"
)

// Manager owns at most one debug session. Its methods are safe for
// concurrent use: requests to the adapter are serialized by the session,
// and a second attach fails instead of queuing.
type Manager struct {
	conf Config
	log  logflags.Logger

	// mu guards session and pending only.
	mu      sync.Mutex
	session *Session
	// pending is the session of an attach still in its handshake. Detach
	// aborts it.
	pending *Session
}

// NewManager creates a Manager with no session.
func NewManager(conf Config) *Manager {
	conf.fill()
	return &Manager{conf: conf, log: logflags.SessionLogger()}
}

// Attach spawns the debug adapter and attaches it to process pid. The
// debuggee is stopped on entry; Attach returns once the adapter has
// acknowledged the attach. A Detach issued meanwhile aborts the attach,
// which then fails with InvalidState.
func (m *Manager) Attach(ctx context.Context, pid int, program, adapterPath string) (res *api.AttachResult, err error) {
	defer m.recoverInternal("attach", &err)
	if pid <= 0 {
		return nil, newError(InvalidArgument, "attach: invalid pid %d", pid)
	}
	if adapterPath == "" {
		adapterPath = m.conf.AdapterPath
	}

	m.mu.Lock()
	if m.pending != nil {
		m.mu.Unlock()
		return nil, newError(AlreadyAttached, "attach: another attach is in progress")
	}
	if old := m.session; old != nil {
		st := old.status()
		if st.State != api.StateTerminated {
			m.mu.Unlock()
			return nil, newError(AlreadyAttached, "attach: already attached to process %d, detach first", st.PID)
		}
		// The debuggee is gone, the session only needs tearing down.
		m.session = nil
		m.mu.Unlock()
		old.detach(ctx, false)
		m.mu.Lock()
		if m.pending != nil || m.session != nil {
			m.mu.Unlock()
			return nil, newError(AlreadyAttached, "attach: another attach is in progress")
		}
	}
	events, err := openEventLog(m.conf.LogDir, pid)
	if err != nil {
		m.mu.Unlock()
		return nil, &Error{Kind: Internal, Msg: "attach", Err: err}
	}
	s := newSession(&m.conf, pid, program, events)
	m.pending = s
	m.mu.Unlock()

	conn, err := m.dial(adapterPath)
	m.mu.Lock()
	aborted := m.pending != s
	switch {
	case aborted:
	case err != nil:
		m.pending = nil
	default:
		s.connect(conn)
	}
	m.mu.Unlock()
	if aborted {
		if conn != nil {
			conn.Close()
		}
		return nil, errAttachAborted(pid)
	}
	if err != nil {
		s.close()
		return nil, &Error{Kind: AdapterSpawnFailed, Msg: "attach", Err: err}
	}

	s.log.Infof("attaching to %d (%s) with %s", pid, program, adapterPath)
	err = s.handshake(ctx)

	m.mu.Lock()
	aborted = m.pending != s
	if !aborted {
		m.pending = nil
		if err == nil {
			m.session = s
		}
	}
	m.mu.Unlock()
	if aborted {
		return nil, errAttachAborted(pid)
	}
	if err != nil {
		s.log.Errorf("attach failed: %v", err)
		s.detach(ctx, false)
		return nil, err
	}

	st := s.status()
	return &api.AttachResult{
		OK:                    true,
		State:                 st.State,
		PID:                   pid,
		LogPath:               st.LogPath,
		ConfigurationDoneSent: st.ConfigurationDoneSent,
	}, nil
}

func errAttachAborted(pid int) error {
	return newError(InvalidState, "attach: detached while attaching to process %d", pid)
}

func (m *Manager) dial(adapterPath string) (io.ReadWriteCloser, error) {
	if m.conf.Dial != nil {
		return m.conf.Dial(adapterPath)
	}
	a, err := dap.StartAdapter(adapterPath, m.conf.AdapterArgs...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Detach ends the current session, if any, and aborts an attach in
// progress. If terminate is true the debuggee is killed, otherwise it
// keeps running. Detach is idempotent.
func (m *Manager) Detach(ctx context.Context, terminate bool) (*api.DetachResult, error) {
	m.mu.Lock()
	s, pending := m.session, m.pending
	m.session, m.pending = nil, nil
	m.mu.Unlock()
	if pending != nil {
		pending.log.Infof("attach aborted by detach")
		pending.abort()
	}
	if s != nil {
		s.detach(ctx, terminate)
	}
	return &api.DetachResult{OK: true, State: api.StateDetached}, nil
}

// State returns the current session state.
func (m *Manager) State() *api.Status {
	m.mu.Lock()
	s := m.session
	if s == nil {
		s = m.pending
	}
	m.mu.Unlock()
	if s == nil {
		return &api.Status{OK: true, State: api.StateDetached}
	}
	return s.status()
}

// drop tears s down if it is still the current session.
func (m *Manager) drop(ctx context.Context, s *Session) {
	m.mu.Lock()
	if m.session == s {
		m.session = nil
	}
	m.mu.Unlock()
	s.detach(ctx, false)
}

// current returns the session, or an error of kind none if there is no
// session. A session whose adapter connection was lost, or whose debuggee
// terminated, is torn down and reported once.
func (m *Manager) current(ctx context.Context, op string, none Kind) (*Session, error) {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return nil, newError(none, "%s: no debug session, attach first", op)
	}
	if lost := s.lostErr(); lost != nil {
		m.drop(ctx, s)
		return nil, &Error{Kind: AdapterProtocolError, Msg: op + ": adapter connection lost", Err: lost}
	}
	if st := s.status(); st.State == api.StateTerminated {
		m.drop(ctx, s)
		return nil, newError(none, "%s: process %d terminated, debug session closed", op, st.PID)
	}
	return s, nil
}

// recoverInternal turns a panic in op into an Internal error and drops the
// session, whose state can no longer be trusted.
func (m *Manager) recoverInternal(op string, err *error) {
	if r := recover(); r != nil {
		m.log.Errorf("panic in %s: %v\n%s", op, r, debug.Stack())
		m.Detach(context.Background(), false)
		*err = newError(Internal, "%s: internal error: %v", op, r)
	}
}

// SetBreakpoints replaces the breakpoints of source file path with bps.
// When functions is not nil it also replaces every function breakpoint;
// an empty, non-nil slice clears them.
func (m *Manager) SetBreakpoints(ctx context.Context, path string, bps []api.SourceBreakpoint, functions []api.FunctionBreakpointSpec) (res *api.SetBreakpointsResult, err error) {
	defer m.recoverInternal("set_breakpoints", &err)
	if path == "" && len(bps) > 0 {
		return nil, newError(InvalidArgument, "set_breakpoints: source breakpoints need a source path")
	}
	if path == "" && functions == nil {
		return nil, newError(InvalidArgument, "set_breakpoints: neither a source path nor function breakpoints given")
	}
	for _, bp := range bps {
		if bp.Line < 1 {
			return nil, newError(InvalidArgument, "set_breakpoints: invalid line %d", bp.Line)
		}
	}
	for _, fb := range functions {
		if fb.Name == "" {
			return nil, newError(InvalidArgument, "set_breakpoints: function breakpoint without a name")
		}
	}
	s, err := m.current(ctx, "set_breakpoints", InvalidState)
	if err != nil {
		return nil, err
	}
	return s.setBreakpoints(ctx, path, bps, functions)
}

func (m *Manager) resume(ctx context.Context, op string, threadID int) (res *api.ExecutionResult, err error) {
	defer m.recoverInternal(op, &err)
	if threadID < 0 {
		return nil, newError(InvalidArgument, "%s: invalid thread_id %d", op, threadID)
	}
	s, err := m.current(ctx, op, InvalidState)
	if err != nil {
		return nil, err
	}
	return s.resume(ctx, op, threadID)
}

// Continue resumes the debuggee and waits for it to stop again. A zero
// threadID selects the thread of the current stop.
func (m *Manager) Continue(ctx context.Context, threadID int) (*api.ExecutionResult, error) {
	return m.resume(ctx, opContinue, threadID)
}

// StepOver steps over the current line of threadID.
func (m *Manager) StepOver(ctx context.Context, threadID int) (*api.ExecutionResult, error) {
	return m.resume(ctx, opStepOver, threadID)
}

// StepIn steps into the call on the current line of threadID.
func (m *Manager) StepIn(ctx context.Context, threadID int) (*api.ExecutionResult, error) {
	return m.resume(ctx, opStepIn, threadID)
}

// StepOut runs threadID until the current function returns.
func (m *Manager) StepOut(ctx context.Context, threadID int) (*api.ExecutionResult, error) {
	return m.resume(ctx, opStepOut, threadID)
}

// Variables lists the children of handle, a variables reference returned
// during the current stop. A zero count returns every child.
func (m *Manager) Variables(ctx context.Context, handle, start, count int) (res *api.VariablesResult, err error) {
	defer m.recoverInternal("variables", &err)
	s, err := m.current(ctx, "variables", NotStopped)
	if err != nil {
		return nil, err
	}
	return s.variables(ctx, handle, start, count)
}

// Evaluate evaluates expr in frameID, or in the innermost frame of the
// stopped thread if frameID is zero. evalContext is one of watch (the
// default), repl, hover or clipboard.
func (m *Manager) Evaluate(ctx context.Context, expr string, frameID int, evalContext string) (res *api.EvaluateResult, err error) {
	defer m.recoverInternal("evaluate", &err)
	s, err := m.current(ctx, "evaluate", NotStopped)
	if err != nil {
		return nil, err
	}
	return s.evaluate(ctx, "evaluate", expr, frameID, evalContext)
}

// ReadMemory reads count bytes at offset from memRef, a memory reference
// returned during the current stop.
func (m *Manager) ReadMemory(ctx context.Context, memRef string, offset, count int) (res *api.ReadMemoryResult, err error) {
	defer m.recoverInternal("read_memory", &err)
	if count < 1 || count > MaxReadMemory {
		return nil, newError(InvalidArgument, "read_memory: count must be between 1 and %d, got %d", MaxReadMemory, count)
	}
	if memRef == "" {
		return nil, newError(InvalidArgument, "read_memory: empty memory reference")
	}
	s, err := m.current(ctx, "read_memory", NotStopped)
	if err != nil {
		return nil, err
	}
	return s.readMemory(ctx, memRef, offset, count)
}

// Console runs a raw debugger command, such as an lldb command, and
// returns its result and the output it printed.
func (m *Manager) Console(ctx context.Context, command string, frameID int) (res *api.EvaluateResult, err error) {
	defer m.recoverInternal("console", &err)
	s, err := m.current(ctx, "console", NotStopped)
	if err != nil {
		return nil, err
	}
	return s.console(ctx, command, frameID)
}

// Snapshot reads the probe state of a debuggee paused at its safe point.
// Outside the safe point the result is unsupported rather than an error.
func (m *Manager) Snapshot(ctx context.Context, sections probe.Sections) (res *api.SnapshotResult, err error) {
	defer m.recoverInternal("bevy_debug_snapshot", &err)
	m.mu.Lock()
	cur := m.session
	m.mu.Unlock()
	if cur == nil {
		return unsupported("no attached debugger session", nil), nil
	}
	if st := cur.status(); st.State == api.StateTerminated && cur.lostErr() == nil {
		m.drop(ctx, cur)
		return unsupported(fmt.Sprintf("process %d terminated, debug session closed", st.PID), nil), nil
	}
	s, err := m.current(ctx, "bevy_debug_snapshot", NotStopped)
	if err != nil {
		return nil, err
	}
	return s.snapshot(ctx, sections)
}
