package starbind

import (
	"testing"

	"go.starlark.net/starlark"

	"github.com/dapbridge/dapbridge/service/api"
)

func TestConv(t *testing.T) {
	script := `
# A list global that we'll unmarshal into a slice.
x = [1,2]
bps = [{"line": 10, "condition": "n > 3"}, {"Line": 12}]
`
	globals, err := starlark.ExecFile(&starlark.Thread{}, "test.star", script, nil)
	if err != nil {
		t.Fatal(err)
	}
	starlarkVal, ok := globals["x"]
	if !ok {
		t.Fatal("missing global 'x'")
	}
	var x []int
	err = unmarshalStarlarkValue(starlarkVal, &x, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 2 || x[0] != 1 || x[1] != 2 {
		t.Fatalf("expected [1 2], got: %v", x)
	}

	var bps []api.SourceBreakpoint
	if err := unmarshalStarlarkValue(globals["bps"], &bps, "bps"); err != nil {
		t.Fatal(err)
	}
	if len(bps) != 2 || bps[0].Line != 10 || bps[0].Condition != "n > 3" || bps[1].Line != 12 {
		t.Fatalf("got %#v", bps)
	}

	var s string
	if err := unmarshalStarlarkValue(starlark.MakeInt(1), &s, "s"); err == nil {
		t.Fatal("int converted to string")
	}
	var fb api.FunctionBreakpointSpec
	if err := unmarshalStarlarkValue(globals["bps"].(*starlark.List).Index(0), &fb, "fb"); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestInterfaceToStarlarkValue(t *testing.T) {
	counter := uint64(1 << 63)
	v, err := interfaceToStarlarkValue(&api.SnapshotResult{
		OK:           true,
		Supported:    true,
		FrameCounter: &counter,
		Snapshot:     map[string]interface{}{"frame": 3, "ratio": 0.5},
	})
	if err != nil {
		t.Fatal(err)
	}
	d, ok := v.(*starlark.Dict)
	if !ok {
		t.Fatalf("got %T", v)
	}
	fc, _, _ := d.Get(starlark.String("frame_counter"))
	if n, ok := fc.(starlark.Int).Uint64(); !ok || n != counter {
		t.Errorf("frame_counter %v", fc)
	}
	snap, _, _ := d.Get(starlark.String("snapshot"))
	frame, _, _ := snap.(*starlark.Dict).Get(starlark.String("frame"))
	if frame.String() != "3" {
		t.Errorf("frame %v", frame)
	}
	ratio, _, _ := snap.(*starlark.Dict).Get(starlark.String("ratio"))
	if _, ok := ratio.(starlark.Float); !ok {
		t.Errorf("ratio %T", ratio)
	}

	var none *api.Status
	if v, _ := interfaceToStarlarkValue(none); v != starlark.None {
		t.Errorf("nil pointer converted to %v", v)
	}
}
