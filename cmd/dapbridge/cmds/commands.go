package cmds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dapbridge/dapbridge/cmd/dapbridge/cmds/helphelpers"
	"github.com/dapbridge/dapbridge/pkg/config"
	"github.com/dapbridge/dapbridge/pkg/logflags"
	"github.com/dapbridge/dapbridge/pkg/terminal"
	"github.com/dapbridge/dapbridge/pkg/version"
	"github.com/dapbridge/dapbridge/service/debugger"
	"github.com/dapbridge/dapbridge/service/mcp"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string
	// adapterPath overrides the debug adapter executable.
	adapterPath string
	// logDir overrides the directory receiving session event logs.
	logDir string

	// scriptPid is the process attached before a script runs, zero for none.
	scriptPid int
	// scriptProgram is the executable of scriptPid.
	scriptProgram string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const dapbridgeCommandLongDesc = `Dapbridge drives a native debugger session through a debug adapter.

It attaches to a running process through CodeLLDB, speaking the Debug
Adapter Protocol, and exposes the session as tools an agent can call over
the Model Context Protocol (see 'dapbridge serve'), as an interactive
terminal (see 'dapbridge attach') or to starlark scripts (see 'dapbridge
script').

A program that cooperates with the debugger can expose a runtime snapshot,
read with the snapshot terminal command or the bevy_debug_snapshot tool
while it is paused at its debug safe point.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main dapbridge root command.
	rootCommand = &cobra.Command{
		Use:   "dapbridge",
		Short: "Dapbridge is a debugger session bridge for native programs.",
		Long:  dapbridgeCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'dapbridge help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'dapbridge help log').")

	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().StringVar(&adapterPath, "adapter", "", "Path of the debug adapter executable, overrides the adapter-path configuration parameter.")
	rootCommand.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory receiving one event log per debug session.")

	// 'serve' subcommand.
	serveCommand := &cobra.Command{
		Use:   "serve",
		Short: "Serves the debugger tools over the Model Context Protocol.",
		Long: `Serves the debugger tools over the Model Context Protocol on stdin and stdout.

The server drives at most one debug session at a time. Tools:

	debugger_attach, debugger_detach, debugger_status,
	debugger_set_breakpoints, debugger_continue, debugger_step_over,
	debugger_step_in, debugger_step_out, debugger_variables,
	debugger_evaluate, debugger_read_memory, debugger_console,
	bevy_debug_snapshot

Logs are never written to stdout, use --log-dest to keep them.`,
		Run: serveCmd,
	}
	rootCommand.AddCommand(serveCommand)

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach pid [executable]",
		Short: "Attach to running process and begin debugging.",
		Long: `Attach to an already running process and begin debugging it.

The process is stopped on entry. When exiting the debug session you will
have the option to let the process continue or kill it.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a PID")
			}
			if len(args) > 2 {
				return errors.New("too many arguments")
			}
			return nil
		},
		Run: attachCmd,
	}
	rootCommand.AddCommand(attachCommand)

	// 'script' subcommand.
	scriptCommand := &cobra.Command{
		Use:   "script <path/to/script>",
		Short: "Run a command file or starlark script.",
		Long: `Run a command file or starlark script without the interactive terminal.

Files with the .star extension are starlark scripts, their main function is
called after they are loaded. Other files contain one terminal command per
line. With --pid the process is attached before the script runs. The
session is detached, leaving the process running, when the script ends.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a script")
			}
			return nil
		},
		Run: scriptCmd,
	}
	scriptCommand.Flags().IntVarP(&scriptPid, "pid", "p", 0, "Pid to attach to.")
	scriptCommand.Flags().StringVar(&scriptProgram, "program", "", "Executable of the attached process.")
	rootCommand.AddCommand(scriptCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Dapbridge Debugger Bridge\n%s\n", version.DapbridgeVersion)
			protos := version.Protocols()
			fmt.Fprintf(cmd.OutOrStdout(), "DAP client: go-dap %s\nMCP server: go-sdk %s\n", protos["DAP"], protos["MCP"])
			if log {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:    "doc",
		Short:  "Prints the documentation of the terminal commands.",
		Hidden: !docCall,
		Run: func(cmd *cobra.Command, args []string) {
			terminal.DebugCommands().WriteMarkdown(cmd.OutOrStdout())
		},
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	session		Log session state changes and debugger operations
	dap		Log all DAP messages
	adapterout	Copy the standard error of the debug adapter to the log
	mcp		Log tool calls received by the MCP server
	terminal	Log failed terminal commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

Independently of these flags every session writes its DAP traffic and state
changes to a JSONL event log in the log-dir directory.

`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// newManager returns a Manager configured from the configuration file and
// the command line.
func newManager() *debugger.Manager {
	if adapterPath != "" {
		conf.AdapterPath = adapterPath
	}
	if logDir != "" {
		conf.LogDir = logDir
	}
	return debugger.NewManager(debugger.NewConfig(conf))
}

func serveCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if logDest == "" && log {
			// stdout carries the protocol.
			logDest = strconv.Itoa(int(os.Stderr.Fd()))
		}
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with serve\n")
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := mcp.NewServer(newManager()).Run(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}()
	os.Exit(status)
}

func attachCmd(cmd *cobra.Command, args []string) {
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid pid: %s\n", args[0])
		os.Exit(1)
	}
	var program string
	if len(args) > 1 {
		program = args[1]
	}
	os.Exit(execute(pid, program))
}

func execute(pid int, program string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	m := newManager()
	res, err := m.Attach(context.Background(), pid, program, conf.ResolveAdapterPath(""))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("Attached to process %d, session log: %s\n", res.PID, res.LogPath)

	term := terminal.New(m, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

func scriptCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with script\n")
		}

		m := newManager()
		defer m.Detach(context.Background(), false)
		if scriptPid > 0 {
			if _, err := m.Attach(context.Background(), scriptPid, scriptProgram, conf.ResolveAdapterPath("")); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
		}

		term := terminal.New(m, conf)
		defer term.Close()
		if err := term.Source(args[0]); err != nil {
			if _, ok := err.(terminal.ExitRequestError); ok {
				return 0
			}
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return 0
	}()
	os.Exit(status)
}
