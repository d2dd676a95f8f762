package debugger

import (
	"testing"

	"github.com/dapbridge/dapbridge/service/api"
)

func TestOutputRing(t *testing.T) {
	r := newOutputRing(3)
	if got := r.since(0); got != nil {
		t.Fatalf("empty ring returned %v", got)
	}
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		r.add(api.OutputEvent{Output: s})
	}
	if r.mark() != 5 {
		t.Fatalf("mark = %d", r.mark())
	}
	got := r.since(0)
	if len(got) != 3 || got[0].Output != "c" || got[2].Output != "e" {
		t.Fatalf("since(0) = %v", got)
	}
	got = r.since(4)
	if len(got) != 1 || got[0].Output != "e" {
		t.Fatalf("since(4) = %v", got)
	}
	if got := r.since(5); got != nil {
		t.Fatalf("since(mark) = %v", got)
	}
}
