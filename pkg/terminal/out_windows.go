package terminal

import (
	"golang.org/x/sys/windows"
)

// screenSize returns the size of the console window.
func screenSize() (lines, columns int, ok bool) {
	var sbi windows.ConsoleScreenBufferInfo
	if err := windows.GetConsoleScreenBufferInfo(windows.Stdout, &sbi); err != nil {
		return 0, 0, false
	}
	return int(sbi.Window.Bottom - sbi.Window.Top + 1), int(sbi.Window.Right - sbi.Window.Left + 1), true
}
