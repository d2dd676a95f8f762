package dap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/dapbridge/dapbridge/pkg/logflags"
)

// for testing
var (
	startupGrace = 100 * time.Millisecond
	stopGrace    = 2 * time.Second
)

// ErrNoAdapterPath is returned when no adapter executable was configured.
var ErrNoAdapterPath = errors.New("debug adapter path not provided: pass adapter_path, set adapter-path in the config file or set CODELLDB_ADAPTER_PATH")

// Adapter is a debug adapter child process speaking DAP over its standard
// input and output.
type Adapter struct {
	Path string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
}

// CheckAdapterPath verifies that path names an executable regular file.
func CheckAdapterPath(path string) error {
	if path == "" {
		return ErrNoAdapterPath
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("debug adapter %q: %v", path, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("debug adapter %q is a directory", path)
	}
	if fi.Mode().Perm()&0111 == 0 {
		return fmt.Errorf("debug adapter %q is not executable", path)
	}
	return nil
}

// StartAdapter spawns the adapter at path with args. It fails if the
// process cannot be started or exits immediately.
func StartAdapter(path string, args ...string) (*Adapter, error) {
	if err := CheckAdapterPath(path); err != nil {
		return nil, err
	}
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// Stdout is an explicit pipe so that Wait does not close the read side
	// while the client is still draining it.
	stdout, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = w
	cmd.Stderr = &lineLogger{log: logflags.AdapterOutputLogger()}
	err = cmd.Start()
	w.Close()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("could not start debug adapter %q: %v", path, err)
	}

	a := &Adapter{Path: path, cmd: cmd, stdin: stdin, stdout: stdout, exited: make(chan struct{})}
	go func() {
		a.waitErr = cmd.Wait()
		close(a.exited)
	}()

	select {
	case <-a.exited:
		stdout.Close()
		return nil, fmt.Errorf("debug adapter %q exited during startup: %v", path, a.exitStatus())
	case <-time.After(startupGrace):
	}
	return a, nil
}

// lineLogger writes every complete line it receives to log.
type lineLogger struct {
	log logflags.Logger
	buf bytes.Buffer
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		l.log.Debug(string(l.buf.Next(i + 1)[:i]))
	}
	return len(p), nil
}

func (a *Adapter) exitStatus() string {
	if a.waitErr != nil {
		return a.waitErr.Error()
	}
	return "exit status 0"
}

// Pid returns the process id of the adapter.
func (a *Adapter) Pid() int {
	return a.cmd.Process.Pid
}

// Exited returns a channel closed when the adapter process exits.
func (a *Adapter) Exited() <-chan struct{} {
	return a.exited
}

func (a *Adapter) Read(p []byte) (int, error) {
	return a.stdout.Read(p)
}

func (a *Adapter) Write(p []byte) (int, error) {
	return a.stdin.Write(p)
}

// Close closes the adapter's standard input and waits briefly for it to
// exit, killing it otherwise.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.stdin.Close()
		defer a.stdout.Close()
		select {
		case <-a.exited:
		case <-time.After(stopGrace):
			a.cmd.Process.Kill()
			<-a.exited
		}
	})
	return nil
}
