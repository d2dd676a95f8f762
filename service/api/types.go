// Package api defines the values returned by the session bridge to every
// frontend (MCP tools, terminal, scripts).
package api

import "encoding/json"

// SessionState is the execution state of the debug session.
type SessionState string

const (
	StateDetached   SessionState = "detached"
	StateAttaching  SessionState = "attaching"
	StateAttached   SessionState = "attached"
	StateRunning    SessionState = "running"
	StateStopped    SessionState = "stopped"
	StateTerminated SessionState = "terminated"
)

// Live returns true for states in which the adapter can accept requests.
func (s SessionState) Live() bool {
	switch s {
	case StateAttached, StateRunning, StateStopped:
		return true
	}
	return false
}

// StopContext describes why and where the debuggee is paused.
type StopContext struct {
	// Reason is the adapter-reported stop reason: entry, breakpoint, step,
	// pause, exception, ...
	Reason      string `json:"reason"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text,omitempty"`
	// ThreadID is the thread that stopped, zero if the adapter did not say.
	ThreadID          int   `json:"thread_id"`
	AllThreadsStopped bool  `json:"all_threads_stopped"`
	HitBreakpointIDs  []int `json:"hit_breakpoint_ids,omitempty"`
	// FrameIDs are the frames of ThreadID, innermost first, when known.
	FrameIDs []int `json:"frame_ids,omitempty"`
}

// SourceBreakpoint is a requested source line breakpoint.
type SourceBreakpoint struct {
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hit_condition,omitempty"`
	LogMessage   string `json:"log_message,omitempty"`
}

// FunctionBreakpointSpec is a requested function breakpoint.
type FunctionBreakpointSpec struct {
	Name         string `json:"name"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hit_condition,omitempty"`
}

// UnmarshalJSON accepts a bare function name as well as an object.
func (b *FunctionBreakpointSpec) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*b = FunctionBreakpointSpec{Name: name}
		return nil
	}
	type spec FunctionBreakpointSpec
	return json.Unmarshal(data, (*spec)(b))
}

// Breakpoint is a source breakpoint as acknowledged by the adapter.
type Breakpoint struct {
	ID           int    `json:"id,omitempty"`
	SourcePath   string `json:"source_path"`
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hit_condition,omitempty"`
	LogMessage   string `json:"log_message,omitempty"`
	// Verified is exactly what the adapter reported.
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

// FunctionBreakpoint is a function breakpoint as acknowledged by the adapter.
type FunctionBreakpoint struct {
	ID           int    `json:"id,omitempty"`
	FunctionName string `json:"function_name"`
	Condition    string `json:"condition,omitempty"`
	Verified     bool   `json:"verified"`
	Message      string `json:"message,omitempty"`
}

// Variable is one entry of a variables query. VariablesReference is a
// bridge handle valid until the debuggee resumes.
type Variable struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	EvaluateName       string `json:"evaluate_name,omitempty"`
	VariablesReference int    `json:"variables_reference"`
	NamedVariables     int    `json:"named_variables,omitempty"`
	IndexedVariables   int    `json:"indexed_variables,omitempty"`
	MemoryReference    string `json:"memory_reference,omitempty"`
}

// OutputEvent is text the adapter or debuggee printed.
type OutputEvent struct {
	Category string `json:"category,omitempty"`
	Output   string `json:"output"`
}

// AttachResult is returned by attach.
type AttachResult struct {
	OK                    bool         `json:"ok"`
	State                 SessionState `json:"state"`
	PID                   int          `json:"pid"`
	LogPath               string       `json:"log_path"`
	ConfigurationDoneSent bool         `json:"configuration_done_sent"`
}

// DetachResult is returned by detach.
type DetachResult struct {
	OK    bool         `json:"ok"`
	State SessionState `json:"state"`
}

// Status describes the current session, if any.
type Status struct {
	OK                    bool         `json:"ok"`
	State                 SessionState `json:"state"`
	PID                   int          `json:"pid,omitempty"`
	LogPath               string       `json:"log_path,omitempty"`
	Stop                  *StopContext `json:"stop,omitempty"`
	ConfigurationDoneSent bool         `json:"configuration_done_sent"`
}

// SetBreakpointsResult is returned by set_breakpoints.
type SetBreakpointsResult struct {
	OK                    bool                 `json:"ok"`
	State                 SessionState         `json:"state"`
	Stop                  *StopContext         `json:"stop,omitempty"`
	ConfigurationDoneSent bool                 `json:"configuration_done_sent"`
	SourceBreakpoints     []Breakpoint         `json:"source_breakpoints"`
	FunctionBreakpoints   []FunctionBreakpoint `json:"function_breakpoints"`
}

// ExecutionResult is returned by continue and the step commands.
type ExecutionResult struct {
	OK       bool         `json:"ok"`
	State    SessionState `json:"state"`
	ThreadID int          `json:"thread_id"`
	// Stop is the stop that ended the command, nil if the debuggee did not
	// stop again.
	Stop *StopContext `json:"stop,omitempty"`
	// LastStop is the stop that was current when the command was issued.
	LastStop *StopContext `json:"last_stop,omitempty"`
}

// VariablesResult is returned by variables.
type VariablesResult struct {
	OK        bool       `json:"ok"`
	Variables []Variable `json:"variables"`
}

// EvaluateResult is returned by evaluate and console.
type EvaluateResult struct {
	OK                 bool   `json:"ok"`
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variables_reference"`
	MemoryReference    string `json:"memory_reference,omitempty"`
	// Output holds output events received while a console command ran.
	Output []OutputEvent `json:"output,omitempty"`
}

// ReadMemoryResult is returned by read_memory. A non-zero UnreadableBytes
// means Data covers only the readable prefix of the requested range.
type ReadMemoryResult struct {
	OK              bool            `json:"ok"`
	Address         string          `json:"address"`
	Count           int             `json:"count"`
	DataBase64      string          `json:"data_base64"`
	UnreadableBytes int             `json:"unreadable_bytes"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// SnapshotResult is returned by bevy_debug_snapshot. When Supported is
// false only Reason and Stop are set.
type SnapshotResult struct {
	OK           bool                       `json:"ok"`
	Supported    bool                       `json:"supported"`
	FrameCounter *uint64                    `json:"frame_counter,omitempty"`
	SnapshotLen  *int                       `json:"snapshot_len,omitempty"`
	Snapshot     map[string]interface{}     `json:"snapshot,omitempty"`
	Raw          map[string]json.RawMessage `json:"raw,omitempty"`
	Reason       string                     `json:"reason,omitempty"`
	Stop         *StopContext               `json:"stop,omitempty"`
}

// Failure is the structured form of an error returned to frontends.
type Failure struct {
	OK    bool         `json:"ok"`
	Error FailureError `json:"error"`
}

// FailureError classifies a failure. Step names the snapshot step that
// failed, if any.
type FailureError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}
