package debugger

import "testing"

func TestHandlesMap(t *testing.T) {
	hs := newHandlesMap()
	if got := hs.create(0); got != 0 {
		t.Fatalf("create(0) = %d, want 0", got)
	}
	h1 := hs.create(7)
	h2 := hs.create(9)
	if h1 != startHandle || h2 != startHandle+1 {
		t.Fatalf("unexpected handles %d %d", h1, h2)
	}
	if ref, ok := hs.get(h2); !ok || ref != 9 {
		t.Fatalf("get(%d) = %d, %v", h2, ref, ok)
	}
	hs.addMemory("0x1000")
	if !hs.hasMemory("0x1000") {
		t.Fatal("memory reference not recorded")
	}

	hs.reset()
	if _, ok := hs.get(h1); ok {
		t.Fatal("handle survived reset")
	}
	if hs.hasMemory("0x1000") {
		t.Fatal("memory reference survived reset")
	}
	// numbering continues so that stale handles can never alias new ones
	if h3 := hs.create(7); h3 == h1 || h3 == h2 {
		t.Fatalf("handle %d reused after reset", h3)
	}
}
