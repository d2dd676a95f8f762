//go:build linux || darwin || freebsd
// +build linux darwin freebsd

package terminal

import (
	"golang.org/x/sys/unix"
)

// screenSize returns the size of the terminal on stdout.
func screenSize() (lines, columns int, ok bool) {
	ws, err := unix.IoctlGetWinsize(unix.Stdout, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, false
	}
	return int(ws.Row), int(ws.Col), true
}
