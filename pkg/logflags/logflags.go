package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var session = false
var dapWire = false
var adapterOutput = false
var mcpServer = false
var terminal = false

var logOut io.WriteCloser

func makeLogger(flag bool, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(flag, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = &textFormatter{}
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.ErrorLevel
	}
	return &logrusLogger{logger}
}

// Any returns true if any logging is enabled.
func Any() bool {
	return session || dapWire || adapterOutput || mcpServer || terminal
}

// Session returns true if the debugger session layer should log.
func Session() bool {
	return session
}

// SessionLogger returns a logger for the session layer.
func SessionLogger() Logger {
	return makeLogger(session, Fields{"layer": "session"})
}

// DAP returns true if every message exchanged with the debug adapter should
// be logged.
func DAP() bool {
	return dapWire
}

// DAPLogger returns a logger for the adapter wire protocol.
func DAPLogger() Logger {
	return makeLogger(dapWire, Fields{"layer": "dap"})
}

// AdapterOutput returns true if the stderr of the debug adapter should be
// copied to the log instead of discarded.
func AdapterOutput() bool {
	return adapterOutput
}

// AdapterOutputLogger returns a logger for the adapter's own stderr.
func AdapterOutputLogger() Logger {
	return makeLogger(adapterOutput, Fields{"layer": "dap", "kind": "adapterout"})
}

// MCP returns true if tool calls received by the MCP server should be logged.
func MCP() bool {
	return mcpServer
}

func MCPLogger() Logger {
	return makeLogger(mcpServer, Fields{"layer": "mcp"})
}

func TerminalLogger() Logger {
	return makeLogger(terminal, Fields{"layer": "terminal"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "dapbridge-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "session"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "session":
			session = true
		case "dap":
			dapWire = true
		case "adapterout":
			adapterOutput = true
		case "mcp":
			mcpServer = true
		case "terminal":
			terminal = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'dapbridge help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprint(&b, layer)
		b.WriteByte(' ')
	}
	b.WriteString(entry.Message)
	for k, v := range entry.Data {
		if k == "layer" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
