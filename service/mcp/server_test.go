package mcp

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"testing"
	"time"

	"github.com/dapbridge/dapbridge/pkg/logflags"
	"github.com/dapbridge/dapbridge/service/api"
	"github.com/dapbridge/dapbridge/service/dap/daptest"
	"github.com/dapbridge/dapbridge/service/debugger"
	"github.com/google/go-dap"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestMain(m *testing.M) {
	var logOutput string
	flag.StringVar(&logOutput, "log-output", "", "configures log output")
	flag.Parse()
	logflags.Setup(logOutput != "", logOutput, "")
	os.Exit(m.Run())
}

func startServer(t *testing.T) (*mcpsdk.ClientSession, *daptest.Adapter) {
	t.Helper()
	fake, conn := daptest.NewPipe()
	daptest.NewTarget("main").Install(fake)
	fake.Serve()
	m := debugger.NewManager(debugger.Config{
		LogDir:         t.TempDir(),
		RequestTimeout: 2 * time.Second,
		StopTimeout:    2 * time.Second,
		Dial: func(string) (io.ReadWriteCloser, error) {
			return conn, nil
		},
	})

	ctx := context.Background()
	ct, st := mcpsdk.NewInMemoryTransports()
	if _, err := NewServer(m).Connect(ctx, st); err != nil {
		t.Fatal(err)
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		cs.Close()
		m.Detach(context.Background(), false)
		fake.Close()
	})
	return cs, fake
}

func call(t *testing.T, cs *mcpsdk.ClientSession, name string, args map[string]any, out interface{}) bool {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if len(res.Content) != 1 {
		t.Fatalf("%s: %d content items", name, len(res.Content))
	}
	text, ok := res.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("%s: content is %T", name, res.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), out); err != nil {
		t.Fatalf("%s: %v in %q", name, err, text.Text)
	}
	return res.IsError
}

func TestTools(t *testing.T) {
	cs, _ := startServer(t)
	want := map[string]bool{
		"debugger_attach": true, "debugger_detach": true, "debugger_status": true,
		"debugger_set_breakpoints": true, "debugger_continue": true, "debugger_step_over": true,
		"debugger_step_in": true, "debugger_step_out": true, "debugger_variables": true,
		"debugger_evaluate": true, "debugger_read_memory": true, "debugger_console": true,
		"bevy_debug_snapshot": true,
	}
	res, err := cs.ListTools(context.Background(), &mcpsdk.ListToolsParams{})
	if err != nil {
		t.Fatal(err)
	}
	for _, tool := range res.Tools {
		if !want[tool.Name] {
			t.Errorf("unexpected tool %s", tool.Name)
		}
		delete(want, tool.Name)
	}
	for name := range want {
		t.Errorf("missing tool %s", name)
	}
}

func TestAttachAndFailures(t *testing.T) {
	cs, fake := startServer(t)

	var failure api.Failure
	if !call(t, cs, "debugger_continue", map[string]any{}, &failure) {
		t.Fatal("continue without session succeeded")
	}
	if failure.OK || failure.Error.Kind != string(debugger.InvalidState) {
		t.Errorf("continue without session: %#v", failure)
	}

	var attach api.AttachResult
	if call(t, cs, "debugger_attach", map[string]any{"pid": 4242, "program": "/usr/bin/game"}, &attach) {
		t.Fatalf("attach failed: %#v", attach)
	}
	if !attach.OK || attach.State != api.StateAttached || attach.LogPath == "" {
		t.Errorf("attach: %#v", attach)
	}

	fake.Stopped("entry", 1)
	var status api.Status
	deadline := time.Now().Add(2 * time.Second)
	for status.State != api.StateStopped {
		if time.Now().After(deadline) {
			t.Fatalf("state %s", status.State)
		}
		call(t, cs, "debugger_status", map[string]any{}, &status)
	}

	var exec api.ExecutionResult
	if call(t, cs, "debugger_step_over", map[string]any{}, &exec) {
		t.Fatalf("step over failed: %#v", exec)
	}
	if exec.State != api.StateStopped || exec.Stop == nil || exec.Stop.Reason != "step" || exec.LastStop == nil {
		t.Errorf("step over: %#v", exec)
	}

	failure = api.Failure{}
	if !call(t, cs, "debugger_read_memory", map[string]any{"memory_reference": "0x10", "count": 70000}, &failure) {
		t.Fatal("oversized read succeeded")
	}
	if failure.Error.Kind != string(debugger.InvalidArgument) {
		t.Errorf("oversized read: %#v", failure)
	}

	var snap api.SnapshotResult
	if call(t, cs, "bevy_debug_snapshot", map[string]any{"include_resources": true}, &snap) {
		t.Fatalf("snapshot failed: %#v", snap)
	}
	if !snap.OK || snap.Supported || snap.Stop == nil {
		t.Errorf("snapshot outside safe point: %#v", snap)
	}

	var detach api.DetachResult
	call(t, cs, "debugger_detach", map[string]any{}, &detach)
	if !detach.OK || detach.State != api.StateDetached {
		t.Errorf("detach: %#v", detach)
	}
}

func attachServer(t *testing.T, cs *mcpsdk.ClientSession) {
	t.Helper()
	var attach api.AttachResult
	if call(t, cs, "debugger_attach", map[string]any{"pid": 4242}, &attach) {
		t.Fatalf("attach failed: %#v", attach)
	}
}

func TestDetachTerminateDebuggee(t *testing.T) {
	cs, fake := startServer(t)
	attachServer(t, cs)

	var detach api.DetachResult
	if call(t, cs, "debugger_detach", map[string]any{"terminate_debuggee": true}, &detach) {
		t.Fatalf("detach failed: %#v", detach)
	}
	if !detach.OK || detach.State != api.StateDetached {
		t.Errorf("detach: %#v", detach)
	}
	if n := fake.Count("terminate"); n != 1 {
		t.Errorf("%d terminate requests", n)
	}
	req, ok := fake.Last("disconnect")
	if !ok {
		t.Fatal("no disconnect request")
	}
	var args struct {
		TerminateDebuggee bool `json:"terminateDebuggee"`
	}
	req.Args(&args)
	if !args.TerminateDebuggee {
		t.Error("terminateDebuggee not set")
	}
}

func TestFunctionBreakpointNames(t *testing.T) {
	cs, fake := startServer(t)
	attachServer(t, cs)

	var res api.SetBreakpointsResult
	args := map[string]any{
		"function_breakpoints": []any{
			"game::update",
			map[string]any{"name": "game::render", "condition": "frame > 10"},
		},
	}
	if call(t, cs, "debugger_set_breakpoints", args, &res) {
		t.Fatalf("set_breakpoints failed: %#v", res)
	}
	if len(res.FunctionBreakpoints) != 2 || !res.FunctionBreakpoints[0].Verified {
		t.Errorf("function breakpoints: %#v", res.FunctionBreakpoints)
	}
	req, ok := fake.Last("setFunctionBreakpoints")
	if !ok {
		t.Fatal("no setFunctionBreakpoints request")
	}
	var sent dap.SetFunctionBreakpointsArguments
	req.Args(&sent)
	if len(sent.Breakpoints) != 2 || sent.Breakpoints[0].Name != "game::update" ||
		sent.Breakpoints[1].Name != "game::render" || sent.Breakpoints[1].Condition != "frame > 10" {
		t.Errorf("sent %#v", sent.Breakpoints)
	}

	_, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "debugger_set_breakpoints",
		Arguments: map[string]any{"function_breakpoints": []any{42}},
	})
	if err == nil {
		t.Error("numeric function breakpoint accepted")
	}
}
