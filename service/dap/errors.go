package dap

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Unique identifiers for errors the client reports back to the adapter.
const (
	UnsupportedCommand int = 9999
)

var (
	// ErrClosed is returned for calls pending when the client is closed.
	ErrClosed = errors.New("adapter connection closed")
	// ErrConnectionLost is returned when the adapter hangs up.
	ErrConnectionLost = errors.New("adapter connection lost")
)

// TimeoutError is returned when the adapter does not answer a request in
// time.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for %s response", e.Timeout, e.Command)
}

// ProtocolError reports a frame that could not be decoded.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("adapter protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ResponseError is an unsuccessful response to a request.
type ResponseError struct {
	Command string
	Message string
	// Detail is the formatted error message from the response body, if any.
	Detail string
	Body   json.RawMessage
}

func (e *ResponseError) Error() string {
	switch {
	case e.Detail != "" && e.Message != "" && !strings.Contains(e.Detail, e.Message):
		return fmt.Sprintf("%s failed: %s: %s", e.Command, e.Message, e.Detail)
	case e.Detail != "":
		return fmt.Sprintf("%s failed: %s", e.Command, e.Detail)
	case e.Message != "":
		return fmt.Sprintf("%s failed: %s", e.Command, e.Message)
	}
	return fmt.Sprintf("%s failed", e.Command)
}

func newResponseError(resp *Response) *ResponseError {
	e := &ResponseError{Command: resp.Command, Message: resp.Message, Body: resp.Body}
	var body struct {
		Error *struct {
			Format    string            `json:"format"`
			Variables map[string]string `json:"variables"`
		} `json:"error"`
	}
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &body) == nil && body.Error != nil {
		e.Detail = expandFormat(body.Error.Format, body.Error.Variables)
	}
	return e
}

// expandFormat substitutes {name} placeholders of a DAP error message.
func expandFormat(format string, vars map[string]string) string {
	if len(vars) == 0 {
		return format
	}
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(format)
}
