// Package daptest provides a scriptable in-process debug adapter for
// testing code that drives an adapter over DAP.
package daptest

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/google/go-dap"
)

// Request is a request received by the fake adapter.
type Request struct {
	Seq       int
	Command   string
	Arguments json.RawMessage
}

// Args decodes the request arguments into v.
func (r *Request) Args(v interface{}) error {
	return json.Unmarshal(r.Arguments, v)
}

// Handler answers one request. It runs on the adapter's serve goroutine.
type Handler func(a *Adapter, req *Request)

// Adapter is a fake debug adapter. Requests for which no handler is
// registered are answered with a generic success response.
type Adapter struct {
	conn   net.Conn
	reader *bufio.Reader

	wmu sync.Mutex
	seq int

	mu       sync.Mutex
	handlers map[string]Handler
	requests []Request

	done chan struct{}
}

// NewPipe returns a fake adapter and the client side of its connection.
// Serve must be called to start answering requests.
func NewPipe() (*Adapter, net.Conn) {
	server, client := net.Pipe()
	a := &Adapter{
		conn:     server,
		reader:   bufio.NewReader(server),
		seq:      1,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
	return a, client
}

// Handle registers h for command, replacing any previous handler.
func (a *Adapter) Handle(command string, h Handler) {
	a.mu.Lock()
	a.handlers[command] = h
	a.mu.Unlock()
}

// Handler returns the handler registered for command, nil if there is none.
func (a *Adapter) Handler(command string) Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handlers[command]
}

// Serve answers requests until the connection is closed.
func (a *Adapter) Serve() {
	go func() {
		defer close(a.done)
		for {
			content, err := dap.ReadBaseMessage(a.reader)
			if err != nil {
				return
			}
			var req Request
			var env struct {
				Seq       int             `json:"seq"`
				Command   string          `json:"command"`
				Arguments json.RawMessage `json:"arguments"`
			}
			if err := json.Unmarshal(content, &env); err != nil {
				return
			}
			req = Request{Seq: env.Seq, Command: env.Command, Arguments: env.Arguments}
			a.mu.Lock()
			a.requests = append(a.requests, req)
			h := a.handlers[req.Command]
			a.mu.Unlock()
			if h == nil {
				a.Respond(&req, nil)
				continue
			}
			h(a, &req)
		}
	}()
}

// Done is closed when Serve returns.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

// Close closes the connection.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

// Requests returns the requests received so far.
func (a *Adapter) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Request(nil), a.requests...)
}

// Count returns how many requests for command were received.
func (a *Adapter) Count(command string) int {
	n := 0
	for _, req := range a.Requests() {
		if req.Command == command {
			n++
		}
	}
	return n
}

// Last returns the last request received for command.
func (a *Adapter) Last(command string) (Request, bool) {
	reqs := a.Requests()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Command == command {
			return reqs[i], true
		}
	}
	return Request{}, false
}

type response struct {
	dap.Response
	Body interface{} `json:"body,omitempty"`
}

func (a *Adapter) newResponse(req *Request, success bool) dap.Response {
	r := dap.Response{}
	r.Type = "response"
	r.RequestSeq = req.Seq
	r.Command = req.Command
	r.Success = success
	return r
}

// Respond sends a successful response to req with the given body.
func (a *Adapter) Respond(req *Request, body interface{}) {
	a.Send(&response{Response: a.newResponse(req, true), Body: body})
}

// RespondError sends an error response to req.
func (a *Adapter) RespondError(req *Request, message string) {
	r := &response{Response: a.newResponse(req, false)}
	r.Message = message
	r.Body = map[string]interface{}{
		"error": dap.ErrorMessage{Id: 3001, Format: message},
	}
	a.Send(r)
}

// NewEvent returns an event header for name.
func (a *Adapter) NewEvent(name string) dap.Event {
	e := dap.Event{}
	e.Type = "event"
	e.Event = name
	return e
}

// SendEvent sends an event with an arbitrary body.
func (a *Adapter) SendEvent(name string, body interface{}) {
	a.Send(&struct {
		dap.Event
		Body interface{} `json:"body,omitempty"`
	}{Event: a.NewEvent(name), Body: body})
}

// Send writes msg after stamping the next sequence number on it.
func (a *Adapter) Send(msg dap.Message) {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	b, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		panic(err)
	}
	m["seq"] = a.seq
	a.seq++
	b, _ = json.Marshal(m)
	dap.WriteBaseMessage(a.conn, b)
}

// SendRaw writes content as a single frame without inspecting it.
func (a *Adapter) SendRaw(content []byte) {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	dap.WriteBaseMessage(a.conn, content)
}

// Stopped sends a stopped event.
func (a *Adapter) Stopped(reason string, threadID int, hitBreakpoints ...int) {
	a.Send(&dap.StoppedEvent{
		Event: a.NewEvent("stopped"),
		Body: dap.StoppedEventBody{
			Reason:            reason,
			ThreadId:          threadID,
			AllThreadsStopped: true,
			HitBreakpointIds:  hitBreakpoints,
		},
	})
}

// Output sends an output event.
func (a *Adapter) Output(category, output string) {
	a.Send(&dap.OutputEvent{
		Event: a.NewEvent("output"),
		Body:  dap.OutputEventBody{Category: category, Output: output},
	})
}

// Terminated sends a terminated event.
func (a *Adapter) Terminated() {
	a.Send(&dap.TerminatedEvent{Event: a.NewEvent("terminated")})
}
