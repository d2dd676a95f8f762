package terminal

import (
	"io"

	"github.com/mattn/go-colorable"
)

// getColorableWriter returns a writer translating ANSI escape codes
// for the Windows console.
func getColorableWriter() io.Writer {
	return colorable.NewColorableStdout()
}
