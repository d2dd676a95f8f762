package terminal

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPagingWriterCount(t *testing.T) {
	for _, tc := range []struct {
		in   string
		rows int
	}{
		{"abc", 0},
		{"abc\n", 1},
		{"a\nb\nc\n", 3},
		{strings.Repeat("x", 25) + "\n", 3},
		{strings.Repeat("x", 10) + "\n", 1},
	} {
		w := &pagingWriter{columns: 10}
		if got := w.count([]byte(tc.in)); got != tc.rows {
			t.Errorf("%q: %d rows, want %d", tc.in, got, tc.rows)
		}
	}
}

func TestPagingWriterWithoutPager(t *testing.T) {
	var buf bytes.Buffer
	w := &pagingWriter{w: &buf, mode: pagingArmed, lines: 2, columns: 80, pager: filepath.Join(t.TempDir(), "nopager")}
	for _, line := range []string{"entities: 3\n", "components: 12\n", "resources: 1\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatal(err)
		}
	}
	if w.mode != pagingOff {
		t.Errorf("mode %d after the pager failed to start", w.mode)
	}
	if buf.String() != "entities: 3\ncomponents: 12\nresources: 1\n" {
		t.Errorf("output %q", buf.String())
	}
	w.Reset()
}

func TestTranscriptWriter(t *testing.T) {
	var screen bytes.Buffer
	w := &transcriptWriter{pw: &pagingWriter{w: &screen}}
	path := filepath.Join(t.TempDir(), "t.txt")
	fh, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w.TranscribeTo(fh, false, "session stopped, process 4242")
	w.Echo("(dapbridge) status\n")
	w.Write([]byte("stopped\n"))
	if err := w.CloseTranscript(); err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("after\n"))

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf) != "# session stopped, process 4242\n(dapbridge) status\nstopped\n" {
		t.Errorf("transcript %q", buf)
	}
	if screen.String() != "stopped\nafter\n" {
		t.Errorf("screen %q", screen.String())
	}
}
