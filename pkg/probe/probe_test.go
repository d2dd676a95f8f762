package probe

import (
	"testing"
)

func TestParseInteger(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"42", 42, true},
		{"(usize) 17", 17, true},
		{"0x2a", 42, true},
		{"AtomicU64 { v: UnsafeCell<u64> { value: 1234 } }", 1234, true},
		{"{v:{value:0x10}}", 16, true},
		{"<unavailable>", 0, false},
	} {
		got, err := ParseInteger(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("ParseInteger(%q) = %d, %v; want %d ok=%v", tc.in, got, err, tc.want, tc.ok)
		}
	}
}

func TestParseHexAddress(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"(*mut u8) $0 = 0x00005555deadbeef", 0x5555deadbeef, true},
		{"0X10", 0x10, true},
		{"no address here", 0, false},
		{"0x", 0, false},
	} {
		got, ok := ParseHexAddress(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("ParseHexAddress(%q) = %#x, %v; want %#x, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDecodeSections(t *testing.T) {
	data := []byte(`{"frame_index":7,"entity_count":3,"entities":[1,2,3],"components":{"Transform":3},"resource_summaries":[],"warnings":["w"]}` + "\x00\x00\x00")

	got, err := Decode(data, DefaultSections())
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"frame_index", "entity_count", "entities", "components", "warnings"} {
		if _, ok := got[k]; !ok {
			t.Errorf("default sections dropped %q", k)
		}
	}
	if _, ok := got["resource_summaries"]; ok {
		t.Error("resources should be excluded by default")
	}

	got, err = Decode(data, Sections{Resources: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["entities"]; ok {
		t.Error("entities should be excluded")
	}
	if _, ok := got["components"]; ok {
		t.Error("components should be excluded")
	}
	if _, ok := got["resource_summaries"]; !ok {
		t.Error("resources should be included")
	}

	if _, err := Decode([]byte("\x00\x00"), DefaultSections()); err == nil {
		t.Error("expected error for empty snapshot")
	}
	if _, err := Decode([]byte("[1,2]"), DefaultSections()); err == nil {
		t.Error("expected error for non-object snapshot")
	}
}
