package api

import (
	"encoding/json"
	"testing"
)

func TestFunctionBreakpointSpecUnmarshal(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    FunctionBreakpointSpec
		wantErr bool
	}{
		{`"game::update"`, FunctionBreakpointSpec{Name: "game::update"}, false},
		{`{"name":"game::update","condition":"n > 1","hit_condition":"3"}`, FunctionBreakpointSpec{Name: "game::update", Condition: "n > 1", HitCondition: "3"}, false},
		{`42`, FunctionBreakpointSpec{}, true},
	} {
		var got FunctionBreakpointSpec
		err := json.Unmarshal([]byte(tc.in), &got)
		if (err != nil) != tc.wantErr {
			t.Errorf("%s: error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s: got %#v, want %#v", tc.in, got, tc.want)
		}
	}

	var specs []FunctionBreakpointSpec
	if err := json.Unmarshal([]byte(`["a", {"name": "b"}]`), &specs); err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 || specs[0].Name != "a" || specs[1].Name != "b" {
		t.Errorf("mixed list %#v", specs)
	}
}
