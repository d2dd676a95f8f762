// Package dap implements the client side of the Debug Adapter Protocol
// used to drive a native debug adapter such as codelldb.
//
// A Client owns one connection to an adapter. Requests are tagged with
// increasing sequence numbers and their responses are matched back by
// request_seq. Events are delivered, in arrival order, to the EventHandler
// supplied at construction, from the single goroutine reading the
// connection.
package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dapbridge/dapbridge/pkg/logflags"
	"github.com/google/go-dap"
)

// Directions and kinds used when mirroring frames into a Sink.
const (
	Outbound = "outbound"
	Inbound  = "inbound"
	Internal = "internal"

	KindRequest  = "request"
	KindResponse = "response"
	KindEvent    = "event"
	KindOther    = "other"
)

// Sink receives a copy of every frame exchanged with the adapter.
type Sink interface {
	Record(direction, kind string, payload json.RawMessage)
}

// Event is an asynchronous message received from the adapter.
type Event struct {
	Seq  int
	Name string
	Body json.RawMessage
	// Message is the decoded go-dap event, nil for events go-dap does not
	// know about.
	Message dap.Message
}

// EventHandler is called for every event. It runs on the reader goroutine
// and must not issue requests.
type EventHandler func(*Event)

// Response is the adapter's answer to a request.
type Response struct {
	Seq        int
	RequestSeq int
	Command    string
	Success    bool
	Message    string
	Body       json.RawMessage
	// Raw is the complete frame as received.
	Raw json.RawMessage
}

// envelope holds the fields shared by every protocol message, enough to
// route a frame without knowing its concrete type.
type envelope struct {
	Seq        int             `json:"seq"`
	Type       string          `json:"type"`
	Command    string          `json:"command,omitempty"`
	RequestSeq int             `json:"request_seq,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Message    string          `json:"message,omitempty"`
	Event      string          `json:"event,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Call is a request that has been written to the adapter and is waiting
// for its response.
type Call struct {
	Seq     int
	Command string

	done chan struct{}
	once sync.Once
	resp *Response
	err  error
}

func (call *Call) finish(resp *Response, err error) {
	call.once.Do(func() {
		call.resp, call.err = resp, err
		close(call.done)
	})
}

// Done returns a channel closed once the response, or a connection
// failure, has been recorded.
func (call *Call) Done() <-chan struct{} {
	return call.done
}

// Wait blocks until the response arrives, ctx is cancelled or timeout
// elapses. A timeout of zero waits indefinitely.
func (call *Call) Wait(ctx context.Context, timeout time.Duration) (*Response, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-call.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer:
		return nil, &TimeoutError{Command: call.Command, Timeout: timeout}
	}
	if call.err != nil {
		return nil, call.err
	}
	if !call.resp.Success {
		return call.resp, newResponseError(call.resp)
	}
	return call.resp, nil
}

// Client is a connection to a debug adapter.
type Client struct {
	log     logflags.Logger
	conn    io.ReadWriteCloser
	reader  *bufio.Reader
	handler EventHandler
	sink    Sink

	// sendMu serializes writes so frames are never interleaved.
	sendMu sync.Mutex

	mu      sync.Mutex
	seq     int
	pending map[int]*Call
	err     error
	done    chan struct{}
}

// NewClient starts reading conn and returns the client driving it. handler
// and sink may be nil.
func NewClient(conn io.ReadWriteCloser, handler EventHandler, sink Sink) *Client {
	c := &Client{
		log:     logflags.DAPLogger(),
		conn:    conn,
		reader:  bufio.NewReader(conn),
		handler: handler,
		sink:    sink,
		seq:     1,
		pending: make(map[int]*Call),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// NewRequest returns a request header for command carrying the next
// sequence number.
func (c *Client) NewRequest(command string) dap.Request {
	request := dap.Request{}
	request.Type = "request"
	request.Command = command
	request.Seq = c.nextSeq()
	return request
}

// nextSeq returns the seq of the next message sent to the adapter.
func (c *Client) nextSeq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.seq
	c.seq++
	return seq
}

// Send writes request to the adapter and returns immediately. The
// returned Call completes when the matching response is read.
func (c *Client) Send(request dap.Message) (*Call, error) {
	jsonmsg, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(jsonmsg, &env); err != nil {
		return nil, err
	}
	if env.Type != "request" {
		return nil, fmt.Errorf("cannot send %q message as a request", env.Type)
	}
	call := &Call{Seq: env.Seq, Command: env.Command, done: make(chan struct{})}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	if _, dup := c.pending[env.Seq]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("request seq %d already in flight", env.Seq)
	}
	c.pending[env.Seq] = call
	c.mu.Unlock()

	if err := c.write(jsonmsg, KindRequest); err != nil {
		c.mu.Lock()
		delete(c.pending, env.Seq)
		c.mu.Unlock()
		c.fail(err)
		return nil, err
	}
	return call, nil
}

// Do sends request and waits for its response.
func (c *Client) Do(ctx context.Context, request dap.Message, timeout time.Duration) (*Response, error) {
	call, err := c.Send(request)
	if err != nil {
		return nil, err
	}
	resp, err := call.Wait(ctx, timeout)
	if err != nil {
		c.forget(call)
	}
	return resp, err
}

func (c *Client) forget(call *Call) {
	c.mu.Lock()
	if c.pending[call.Seq] == call {
		delete(c.pending, call.Seq)
	}
	c.mu.Unlock()
}

func (c *Client) write(jsonmsg []byte, kind string) error {
	c.log.Debugf("[-> to adapter] %s", jsonmsg)
	if c.sink != nil {
		c.sink.Record(Outbound, kind, jsonmsg)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return dap.WriteBaseMessage(c.conn, jsonmsg)
}

// Done returns a channel that is closed when the connection is lost or
// closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection stopped, nil while it is alive.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return c.conn.Close()
}

// fail records the first terminal error and fails every pending call.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	pending := c.pending
	c.pending = make(map[int]*Call)
	close(c.done)
	c.mu.Unlock()

	for _, call := range pending {
		call.finish(nil, err)
	}
}

func (c *Client) readLoop() {
	for {
		content, err := dap.ReadBaseMessage(c.reader)
		if err != nil {
			if c.Err() == nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					c.log.Debug("adapter closed the connection")
					c.fail(ErrConnectionLost)
				} else {
					c.log.Errorf("reading from adapter: %v", err)
					c.fail(&ProtocolError{Err: err})
				}
			}
			return
		}
		c.log.Debugf("[<- from adapter] %s", content)
		if err := c.dispatch(content); err != nil {
			c.log.Errorf("malformed message from adapter: %v", err)
			c.fail(&ProtocolError{Err: err})
			c.conn.Close()
			return
		}
	}
}

func (c *Client) dispatch(content []byte) error {
	var env envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return err
	}
	raw := json.RawMessage(content)
	switch env.Type {
	case "response":
		if c.sink != nil {
			c.sink.Record(Inbound, KindResponse, raw)
		}
		c.mu.Lock()
		call, ok := c.pending[env.RequestSeq]
		delete(c.pending, env.RequestSeq)
		c.mu.Unlock()
		if !ok {
			// Late answer to a request whose caller already gave up.
			c.log.Warnf("response to unknown request %d (%s)", env.RequestSeq, env.Command)
			return nil
		}
		call.finish(&Response{
			Seq:        env.Seq,
			RequestSeq: env.RequestSeq,
			Command:    env.Command,
			Success:    env.Success,
			Message:    env.Message,
			Body:       env.Body,
			Raw:        raw,
		}, nil)
	case "event":
		if c.sink != nil {
			c.sink.Record(Inbound, KindEvent, raw)
		}
		msg, err := dap.DecodeProtocolMessage(content)
		if err != nil {
			if _, unknown := err.(*dap.DecodeProtocolMessageFieldError); !unknown {
				return err
			}
			msg = nil
		}
		if c.handler != nil {
			c.handler(&Event{Seq: env.Seq, Name: env.Event, Body: env.Body, Message: msg})
		}
	case "request":
		// Reverse requests (runInTerminal, startDebugging) are not supported.
		if c.sink != nil {
			c.sink.Record(Inbound, KindRequest, raw)
		}
		c.log.Warnf("rejecting reverse request %q", env.Command)
		return c.rejectReverseRequest(env)
	default:
		return &dap.DecodeProtocolMessageFieldError{Seq: env.Seq, SubType: "ProtocolMessage", FieldName: "type", FieldValue: env.Type}
	}
	return nil
}

// rejectedRequest answers a reverse request the client does not implement.
type rejectedRequest struct {
	dap.Response
	Body struct {
		Error dap.ErrorMessage `json:"error"`
	} `json:"body"`
}

func (c *Client) rejectReverseRequest(env envelope) error {
	response := &rejectedRequest{}
	response.Seq = c.nextSeq()
	response.Type = "response"
	response.RequestSeq = env.Seq
	response.Command = env.Command
	response.Success = false
	response.Message = "unsupported"
	response.Body.Error = dap.ErrorMessage{
		Id:     UnsupportedCommand,
		Format: fmt.Sprintf("reverse request %q is not supported", env.Command),
	}
	jsonmsg, err := json.Marshal(response)
	if err != nil {
		return err
	}
	if err := c.write(jsonmsg, KindResponse); err != nil {
		c.fail(err)
	}
	return nil
}
