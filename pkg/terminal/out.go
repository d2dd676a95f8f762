package terminal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-isatty"
)

// transcriptWriter is the output of the terminal. It writes to a
// pagingWriter and, while a transcript is open, to the transcript file.
type transcriptWriter struct {
	pw *pagingWriter

	file *bufio.Writer
	fh   io.Closer
	// fileOnly suppresses the terminal output while a transcript is open.
	fileOnly bool
}

func (w *transcriptWriter) Write(p []byte) (int, error) {
	if !w.fileOnly {
		if n, err := w.pw.Write(p); err != nil {
			return n, err
		}
	}
	if w.file != nil {
		return w.file.Write(p)
	}
	return len(p), nil
}

// Echo writes str to the transcript only, for text the user typed.
func (w *transcriptWriter) Echo(str string) {
	if w.file != nil {
		w.file.WriteString(str)
	}
}

// Flush flushes the transcript.
func (w *transcriptWriter) Flush() {
	if w.file != nil {
		w.file.Flush()
	}
}

// TranscribeTo starts a transcript in fh, closing the previous one. The
// header, one line per session fact, is written first as comments.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser, fileOnly bool, header ...string) {
	w.CloseTranscript()
	w.fh = fh
	w.file = bufio.NewWriter(fh)
	w.fileOnly = fileOnly
	for _, line := range header {
		fmt.Fprintf(w.file, "# %s\n", line)
	}
}

// CloseTranscript closes the transcript, if one is open.
func (w *transcriptWriter) CloseTranscript() error {
	if w.file == nil {
		return nil
	}
	w.file.Flush()
	err := w.fh.Close()
	w.file, w.fh, w.fileOnly = nil, nil, false
	return err
}

type pagingMode uint8

const (
	pagingOff pagingMode = iota
	// pagingArmed writes through while counting screen lines.
	pagingArmed
	// pagingPiped sends everything to the pager process.
	pagingPiped
)

// pagingWriter writes to w. Once PageMaybe arms it, output longer than one
// screen is piped to a pager; the part already shown is sent again so the
// pager holds the whole output.
type pagingWriter struct {
	w    io.Writer
	mode pagingMode

	pager   string
	cmd     *exec.Cmd
	cmdIn   io.WriteCloser
	onError func()

	lines, columns int
	// shown is the output written since the writer was armed, rows and col
	// its extent on the screen.
	shown     []byte
	rows, col int
	// midLine is set when the screen does not end with a newline.
	midLine bool
}

func (w *pagingWriter) Write(p []byte) (int, error) {
	switch w.mode {
	case pagingArmed:
		w.shown = append(w.shown, p...)
		if w.count(p) > w.lines && w.startPager() {
			return len(p), nil
		}
		if len(p) > 0 {
			w.midLine = p[len(p)-1] != '\n'
		}
		return w.w.Write(p)
	case pagingPiped:
		n, err := w.cmdIn.Write(p)
		if err != nil && w.onError != nil {
			w.onError()
			w.onError = nil
		}
		return n, err
	default:
		return w.w.Write(p)
	}
}

// count advances the screen position over p and returns the number of
// rows used so far. Lines longer than the screen wrap.
func (w *pagingWriter) count(p []byte) int {
	for _, b := range p {
		if b == '\n' || (w.columns > 0 && w.col >= w.columns) {
			w.rows++
			w.col = 0
		}
		if b != '\n' {
			w.col++
		}
	}
	return w.rows
}

// startPager moves the output to the pager. It returns false, leaving the
// writer off, if the pager can not be started.
func (w *pagingWriter) startPager() bool {
	cmd := exec.Command(w.pager)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	in, err := cmd.StdinPipe()
	if err == nil {
		err = cmd.Start()
	}
	if err != nil {
		w.mode = pagingOff
		w.shown = nil
		return false
	}
	if w.midLine {
		w.w.Write([]byte("\n"))
	}
	fmt.Fprintf(w.w, "Sending output to %s...\n", w.pager)
	in.Write(w.shown)
	w.cmd, w.cmdIn = cmd, in
	w.shown = nil
	w.mode = pagingPiped
	return true
}

// Reset disarms the writer and waits for the pager to exit.
func (w *pagingWriter) Reset() {
	if w.cmd != nil {
		w.cmdIn.Close()
		w.cmd.Wait()
		w.cmd, w.cmdIn = nil, nil
	}
	w.mode = pagingOff
	w.shown = nil
	w.rows, w.col = 0, 0
	w.midLine = false
}

// PageMaybe arms the writer for the output of one command. onError is
// called the first time writing to the pager fails.
func (w *pagingWriter) PageMaybe(onError func()) {
	if w.mode != pagingOff {
		return
	}
	pager, ok := w.pagerCommand()
	if !ok {
		return
	}
	lines, columns, ok := screenSize()
	if !ok {
		return
	}
	w.pager = pager
	w.lines, w.columns = lines, columns
	w.onError = onError
	w.mode = pagingArmed
}

// pagerCommand returns the pager to use. DAPBRIDGE_PAGER is used even when
// the output is not a terminal.
func (w *pagingWriter) pagerCommand() (string, bool) {
	if pager := os.Getenv("DAPBRIDGE_PAGER"); pager != "" {
		return pager, true
	}
	if f, ok := w.w.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
		return "", false
	}
	if strings.ToLower(os.Getenv("TERM")) == "dumb" {
		return "", false
	}
	if pager := os.Getenv("PAGER"); pager != "" {
		return pager, true
	}
	return "more", true
}
