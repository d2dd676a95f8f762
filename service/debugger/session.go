package debugger

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/dapbridge/dapbridge/pkg/logflags"
	"github.com/dapbridge/dapbridge/service/api"
	"github.com/dapbridge/dapbridge/service/dap"
	godap "github.com/google/go-dap"
	lru "github.com/hashicorp/golang-lru"
)

// Session is one live debug adapter connection attached to one process.
//
// Requests to the adapter are serialized through a single command slot.
// Events are ingested on the client's reader goroutine: they update the
// state under mu and then wake every waiter by closing the changed
// channel.
type Session struct {
	conf    *Config
	log     logflags.Logger
	pid     int
	program string

	conn   io.Closer
	client *dap.Client
	events *eventLog

	// slot holds a token while a request is in flight.
	slot chan struct{}

	initialized     chan struct{}
	initializedOnce sync.Once

	// addrCache remembers probe buffer addresses resolved through the repl
	// fallback; they are static for the life of the process.
	addrCache *lru.Cache

	detachOnce sync.Once
	done       chan struct{}

	mu          sync.Mutex
	state       api.SessionState
	stop        *api.StopContext
	latestStop  *api.StopContext
	// stops counts stopped events, gen counts handle invalidations.
	stops       int
	gen         int
	handles     *handlesMap
	frames      []godap.StackFrame
	framesGen   int
	configDone  bool
	breakpoints *breakpointRegistry
	output      *outputRing
	lost        error
	closed      bool
	changed     chan struct{}
}

func newSession(conf *Config, pid int, program string, events *eventLog) *Session {
	cache, _ := lru.New(16)
	return &Session{
		conf:        conf,
		log:         logflags.SessionLogger().WithField("pid", pid),
		pid:         pid,
		program:     program,
		events:      events,
		slot:        make(chan struct{}, 1),
		initialized: make(chan struct{}),
		addrCache:   cache,
		done:        make(chan struct{}),
		state:       api.StateAttaching,
		handles:     newHandlesMap(),
		framesGen:   -1,
		breakpoints: newBreakpointRegistry(),
		output:      newOutputRing(conf.MaxOutputEvents),
		changed:     make(chan struct{}),
	}
}

// connect starts the adapter client over conn.
func (s *Session) connect(conn io.ReadWriteCloser) {
	s.conn = conn
	s.client = dap.NewClient(conn, s.handleEvent, s.events)
	go s.watchConnection()
}

// broadcast wakes every waiter. Must be called with mu held.
func (s *Session) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// setState records a transition. Must be called with mu held.
func (s *Session) setState(state api.SessionState, reason string) {
	if s.state == state {
		return
	}
	s.log.Debugf("state %s -> %s (%s)", s.state, state, reason)
	s.events.internal(map[string]interface{}{"transition": map[string]string{"from": string(s.state), "to": string(state), "reason": reason}})
	s.state = state
}

// invalidate drops every handle issued during the current stop. Must be
// called with mu held.
func (s *Session) invalidate() {
	s.gen++
	s.handles.reset()
	s.frames = nil
}

func (s *Session) handleEvent(e *dap.Event) {
	switch e.Name {
	case "initialized":
		s.initializedOnce.Do(func() { close(s.initialized) })
	case "stopped":
		var body godap.StoppedEventBody
		if se, ok := e.Message.(*godap.StoppedEvent); ok {
			body = se.Body
		} else if err := json.Unmarshal(e.Body, &body); err != nil {
			s.log.Warnf("malformed stopped event: %v", err)
			return
		}
		stop := &api.StopContext{
			Reason:            body.Reason,
			Description:       body.Description,
			Text:              body.Text,
			ThreadID:          body.ThreadId,
			AllThreadsStopped: body.AllThreadsStopped,
			HitBreakpointIDs:  body.HitBreakpointIds,
		}
		s.mu.Lock()
		if s.closed || s.state == api.StateTerminated {
			s.mu.Unlock()
			return
		}
		s.invalidate()
		s.stop = stop
		s.latestStop = stop
		s.stops++
		s.setState(api.StateStopped, "stopped: "+body.Reason)
		s.broadcast()
		s.mu.Unlock()
	case "continued":
		s.mu.Lock()
		if s.state == api.StateStopped {
			s.invalidate()
			s.stop = nil
			s.setState(api.StateRunning, "continued")
			s.broadcast()
		}
		s.mu.Unlock()
	case "exited", "terminated":
		s.mu.Lock()
		if !s.closed && s.state != api.StateTerminated {
			s.invalidate()
			s.stop = nil
			s.setState(api.StateTerminated, e.Name)
			s.broadcast()
		}
		s.mu.Unlock()
	case "output":
		var body godap.OutputEventBody
		if oe, ok := e.Message.(*godap.OutputEvent); ok {
			body = oe.Body
		} else if err := json.Unmarshal(e.Body, &body); err != nil {
			return
		}
		s.mu.Lock()
		s.output.add(api.OutputEvent{Category: body.Category, Output: body.Output})
		s.broadcast()
		s.mu.Unlock()
	case "breakpoint":
		var body struct {
			Reason     string `json:"reason"`
			Breakpoint struct {
				ID       int    `json:"id"`
				Verified bool   `json:"verified"`
				Message  string `json:"message"`
			} `json:"breakpoint"`
		}
		if err := json.Unmarshal(e.Body, &body); err != nil {
			return
		}
		if body.Reason == "changed" {
			s.mu.Lock()
			s.breakpoints.update(body.Breakpoint.ID, body.Breakpoint.Verified, body.Breakpoint.Message)
			s.mu.Unlock()
		}
	}
}

// watchConnection forces Terminated when the adapter connection drops
// without a detach.
func (s *Session) watchConnection() {
	<-s.client.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.lost = s.client.Err()
	s.log.Errorf("adapter connection lost: %v", s.lost)
	s.invalidate()
	s.stop = nil
	s.setState(api.StateTerminated, "connection lost")
	s.broadcast()
}

func (s *Session) lostErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// acquire takes the command slot.
func (s *Session) acquire(ctx context.Context) error {
	select {
	case s.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return errSessionClosed
	}
}

func (s *Session) release() {
	<-s.slot
}

type buildFunc func(godap.Request) godap.Message

// requestLocked issues one request while the caller holds the command
// slot and decodes the response body into body, if not nil.
func (s *Session) requestLocked(ctx context.Context, command string, build buildFunc, body interface{}, timeout time.Duration) (*dap.Response, error) {
	if timeout <= 0 {
		timeout = s.conf.RequestTimeout
	}
	resp, err := s.client.Do(ctx, build(s.client.NewRequest(command)), timeout)
	if err != nil {
		return resp, wrapAdapterError(command, err)
	}
	if body != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, body); err != nil {
			return resp, &Error{Kind: AdapterProtocolError, Msg: "decoding " + command + " response", Err: err}
		}
	}
	return resp, nil
}

// request is requestLocked with its own acquisition of the command slot.
func (s *Session) request(ctx context.Context, command string, build buildFunc, body interface{}) (*dap.Response, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, wrapAdapterError(command, err)
	}
	defer s.release()
	return s.requestLocked(ctx, command, build, body, 0)
}

// attachArguments are the codelldb attach arguments.
type attachArguments struct {
	PID             int      `json:"pid"`
	Program         string   `json:"program,omitempty"`
	StopOnEntry     bool     `json:"stopOnEntry"`
	SourceLanguages []string `json:"sourceLanguages"`
}

type attachRequest struct {
	godap.Request
	Arguments attachArguments `json:"arguments"`
}

type disconnectRequest struct {
	godap.Request
	Arguments struct {
		TerminateDebuggee bool `json:"terminateDebuggee"`
	} `json:"arguments"`
}

type terminateRequest struct {
	godap.Request
	Arguments struct{} `json:"arguments"`
}

// handshake performs initialize, attach and configurationDone.
func (s *Session) handshake(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return wrapAdapterError("initialize", err)
	}
	defer s.release()

	_, err := s.requestLocked(ctx, "initialize", func(r godap.Request) godap.Message {
		return &godap.InitializeRequest{Request: r, Arguments: godap.InitializeRequestArguments{
			ClientID:                     "dapbridge",
			ClientName:                   "dapbridge",
			AdapterID:                    "codelldb",
			Locale:                       "en-us",
			PathFormat:                   "path",
			LinesStartAt1:                true,
			ColumnsStartAt1:              true,
			SupportsVariableType:         true,
			SupportsVariablePaging:       true,
			SupportsRunInTerminalRequest: false,
			SupportsMemoryReferences:     true,
		}}
	}, nil, s.conf.InitializeTimeout)
	if err != nil {
		return err
	}

	// The attach response only arrives after configurationDone, so attach
	// is sent without waiting for it.
	req := &attachRequest{Request: s.client.NewRequest("attach")}
	req.Arguments = attachArguments{
		PID:             s.pid,
		Program:         s.program,
		StopOnEntry:     true,
		SourceLanguages: []string{"rust"},
	}
	call, err := s.client.Send(req)
	if err != nil {
		return wrapAdapterError("attach", err)
	}

	timer := time.NewTimer(s.conf.InitializedWait)
	defer timer.Stop()
	select {
	case <-s.initialized:
	case <-call.Done():
		// attach answered before initialized: only an error is final here
	case <-timer.C:
		s.log.Warnf("no initialized event after %v, sending configurationDone anyway", s.conf.InitializedWait)
	case <-ctx.Done():
		return wrapAdapterError("attach", ctx.Err())
	}

	select {
	case <-call.Done():
		if _, err := call.Wait(ctx, 0); err != nil {
			return s.attachError(err)
		}
	default:
	}

	if err := s.configurationDoneLocked(ctx); err != nil {
		return err
	}
	if _, err := call.Wait(ctx, s.conf.RequestTimeout); err != nil {
		return s.attachError(err)
	}

	s.mu.Lock()
	if s.state == api.StateAttaching {
		s.setState(api.StateAttached, "attach")
		s.broadcast()
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) attachError(err error) error {
	if perr := permissionError(s.pid, err); perr != nil {
		return perr
	}
	return wrapAdapterError("attach", err)
}

// configurationDoneLocked sends configurationDone once per session.
func (s *Session) configurationDoneLocked(ctx context.Context) error {
	s.mu.Lock()
	done := s.configDone
	s.mu.Unlock()
	if done {
		return nil
	}
	_, err := s.requestLocked(ctx, "configurationDone", func(r godap.Request) godap.Message {
		return &godap.ConfigurationDoneRequest{Request: r}
	}, nil, s.conf.InitializeTimeout)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.configDone = true
	s.mu.Unlock()
	return nil
}

// detach ends the session. It is safe to call more than once.
func (s *Session) detach(ctx context.Context, terminate bool) {
	s.detachOnce.Do(func() {
		if s.client != nil && s.client.Err() == nil {
			s.disconnect(ctx, terminate)
		}
		s.close()
	})
}

// abort closes a session whose handshake is still running. No disconnect
// is sent: the handshake holds the command slot.
func (s *Session) abort() {
	s.detachOnce.Do(s.close)
}

func (s *Session) disconnect(ctx context.Context, terminate bool) {
	actx, cancel := context.WithTimeout(ctx, s.conf.RequestTimeout)
	err := s.acquire(actx)
	cancel()
	if err != nil {
		s.log.Warnf("adapter busy, dropping connection without disconnect: %v", err)
		return
	}
	defer s.release()
	if terminate {
		_, err := s.requestLocked(ctx, "terminate", func(r godap.Request) godap.Message {
			return &terminateRequest{Request: r}
		}, nil, s.conf.DisconnectTimeout)
		if err != nil {
			s.log.Warnf("terminate: %v", err)
		}
	}
	_, err = s.requestLocked(ctx, "disconnect", func(r godap.Request) godap.Message {
		req := &disconnectRequest{Request: r}
		req.Arguments.TerminateDebuggee = terminate
		return req
	}, nil, s.conf.DisconnectTimeout)
	if err != nil {
		s.log.Warnf("disconnect: %v", err)
	}
}

// close tears the session down and wakes every waiter with Detached.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.invalidate()
	s.stop = nil
	s.setState(api.StateDetached, "detach")
	close(s.done)
	s.broadcast()
	s.mu.Unlock()

	if s.client != nil {
		s.client.Close()
	} else if s.conn != nil {
		s.conn.Close()
	}
	s.events.Close()
}

// status returns a copy of the current state.
func (s *Session) status() *api.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &api.Status{
		OK:                    true,
		State:                 s.state,
		PID:                   s.pid,
		LogPath:               s.events.path,
		Stop:                  copyStop(s.stop),
		ConfigurationDoneSent: s.configDone,
	}
}

func copyStop(stop *api.StopContext) *api.StopContext {
	if stop == nil {
		return nil
	}
	c := *stop
	c.HitBreakpointIDs = append([]int(nil), stop.HitBreakpointIDs...)
	c.FrameIDs = append([]int(nil), stop.FrameIDs...)
	return &c
}
