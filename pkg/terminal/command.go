// Package terminal implements functions for responding to user
// input and dispatching to appropriate backend commands.
package terminal

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/dapbridge/dapbridge/pkg/probe"
	"github.com/dapbridge/dapbridge/service/api"
)

// callContext is the context a command runs in. Cancelling it abandons
// a command waiting on the debugger.
type callContext struct {
	context.Context
	// FrameID is the frame selected with the frame command, zero for
	// the innermost frame of the stopped thread.
	FrameID int
}

type cmdfunc func(t *Term, ctx callContext, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the terminal.
type Commands struct {
	cmds  []command
	trie  *trie.Trie
	frame int // Index of the frame selected by the frame command.
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"attach"}, group: sessionCmds, cmdFn: attachCmd, helpMsg: `Attaches to a running process.

	attach [-adapter <path>] <pid> [program]

The process is stopped on entry. Program is the path of its executable,
used to load symbols. The debug adapter is, in order, the -adapter
argument, the adapter-path configuration parameter or the executable named
by $CODELLDB_ADAPTER_PATH.`},
		{aliases: []string{"detach"}, group: sessionCmds, cmdFn: detachCmd, helpMsg: `Ends the debug session.

	detach [-kill]

The process keeps running unless -kill is specified.`},
		{aliases: []string{"status", "st"}, group: sessionCmds, cmdFn: statusCmd, helpMsg: `Prints the session state and the current stop.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break <file>:<line> [if <condition>]
	break <function> [if <condition>]

A breakpoint the adapter could not resolve is kept pending and listed with
the reason given by the adapter.`},
		{aliases: []string{"clear"}, group: breakCmds, cmdFn: clearCmd, helpMsg: `Deletes a breakpoint.

	clear <file>:<line>
	clear <function>`},
		{aliases: []string{"clearall"}, group: breakCmds, cmdFn: clearAll, helpMsg: `Deletes multiple breakpoints.

	clearall [<file>]

If a file is specified only the breakpoints of that file are deleted,
otherwise every breakpoint is deleted.`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"condition", "cond"}, group: breakCmds, cmdFn: conditionCmd, helpMsg: `Set breakpoint condition.

	condition <file>:<line> <boolean expression>
	condition <function> <boolean expression>

Specifies that the breakpoint should be hit only if the expression is
true. An empty expression removes the condition.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: c.cont, helpMsg: `Run until breakpoint or program termination.

	continue [<thread id>]

Without a thread id the thread of the current stop is resumed.`},
		{aliases: []string{"next", "n"}, group: runCmds, cmdFn: c.next, helpMsg: `Step over to next source line.

	next [<thread id>]`},
		{aliases: []string{"step", "s"}, group: runCmds, cmdFn: c.step, helpMsg: `Single step through program.

	step [<thread id>]`},
		{aliases: []string{"stepout", "so"}, group: runCmds, cmdFn: c.stepout, helpMsg: `Step out of the current function.

	stepout [<thread id>]`},
		{aliases: []string{"print", "p"}, group: dataCmds, cmdFn: printVar, helpMsg: `Evaluate an expression.

	print [-ctx <context>] <expression>

The expression is evaluated in the selected frame. Context is one of watch
(the default), repl, hover or clipboard. A result with children shows the
variables reference to pass to the vars command.`},
		{aliases: []string{"vars"}, group: dataCmds, cmdFn: vars, helpMsg: `Print the children of a variables reference.

	vars <reference> [<start> [<count>]]

References are only valid until the program resumes.`},
		{aliases: []string{"examinemem", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine raw memory.

	examinemem [-count <count>] [-off <offset>] <memory reference>

Memory references are returned by print and vars and are only valid until
the program resumes. The default count is 64 bytes.`},
		{aliases: []string{"lldb", "console"}, group: dataCmds, cmdFn: lldbCmd, helpMsg: `Run an lldb command.

	lldb <command>

The command runs in the selected frame. Its output is printed as well as
its result.`},
		{aliases: []string{"snapshot"}, group: dataCmds, cmdFn: snapshotCmd, helpMsg: `Capture the runtime snapshot.

	snapshot [-resources] [-no-entities] [-no-components]

The program must be stopped at the debug safe point, see the
safe-point-marker configuration parameter. Resources are not included
unless -resources is specified.`},
		{aliases: []string{"frame"}, group: dataCmds, cmdFn: c.frameCmd, helpMsg: `Set the frame used by print and lldb.

	frame [<index>]

Index 0 is the innermost frame of the stopped thread. Without an argument
the frames of the current stop are listed. The selection is reset when the
program resumes.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark
script. If path is a single '-' character an interactive starlark
interpreter will start instead. Type 'exit' in order to exit the
interpreter.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of commands is appended to the specified output file. If -t is
specified and the output file exists it is truncated. If -x is specified
output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger.

	exit [-c]

When not using -c and a session is active the user is asked whether the
process should be killed. With -c the process is left running.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.buildTrie()
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

func (c *Commands) buildTrie() {
	c.trie = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.trie.Add(alias, nil)
		}
	}
}

// complete returns the command names starting with line.
func (c *Commands) complete(line string) []string {
	if strings.Contains(line, " ") {
		return nil
	}
	r := c.trie.PrefixSearch(strings.ToLower(line))
	sort.Strings(r)
	return r
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.trie.Add(cmdstr, nil)
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
// If the command is an empty string it will do nothing.
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// CallWithContext takes a command and a context that command should be executed in.
func (c *Commands) CallWithContext(cmdstr string, t *Term, ctx callContext) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, ctx, args)
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	rctx, done := t.commandContext()
	defer done()
	ctx := callContext{Context: rctx, FrameID: c.frameID(t)}
	return c.CallWithContext(cmdstr, t, ctx)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.buildTrie()
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, ctx callContext, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, ctx callContext, args string) error {
	return nil
}

func (c *Commands) help(t *Term, ctx callContext, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits a command line into words, honoring quotes.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal commandline '%s'", args)
	}
	return v[0], nil
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

func attachCmd(t *Term, ctx callContext, args string) error {
	w, err := splitArgs(args)
	if err != nil {
		return err
	}
	var adapterPath string
	var pos []string
	for i := 0; i < len(w); i++ {
		switch w[i] {
		case "-adapter":
			if i+1 >= len(w) {
				return errors.New("-adapter needs a path")
			}
			i++
			adapterPath = w[i]
		default:
			pos = append(pos, w[i])
		}
	}
	if len(pos) < 1 || len(pos) > 2 {
		return errors.New("wrong number of arguments to attach")
	}
	pid, err := strconv.Atoi(pos[0])
	if err != nil {
		return fmt.Errorf("invalid pid %q", pos[0])
	}
	var program string
	if len(pos) == 2 {
		program = pos[1]
	}
	res, err := t.debugger.Attach(ctx, pid, program, t.conf.ResolveAdapterPath(adapterPath))
	if err != nil {
		return err
	}
	t.breakpoints = make(map[string][]api.SourceBreakpoint)
	t.verified = make(map[string][]api.Breakpoint)
	t.funcBreakpoints, t.funcVerified = nil, nil
	fmt.Fprintf(t.stdout, "Attached to process %d, state %s\n", res.PID, res.State)
	fmt.Fprintf(t.stdout, "Session log: %s\n", res.LogPath)
	return nil
}

func detachCmd(t *Term, ctx callContext, args string) error {
	kill := false
	switch args {
	case "":
	case "-kill":
		kill = true
	default:
		return fmt.Errorf("unknown argument %q", args)
	}
	res, err := t.debugger.Detach(ctx, kill)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Session %s\n", res.State)
	return nil
}

func statusCmd(t *Term, ctx callContext, args string) error {
	s := t.debugger.State()
	if s.State == api.StateDetached {
		fmt.Fprintln(t.stdout, "Not attached")
		return nil
	}
	fmt.Fprintf(t.stdout, "Process %d, state %s\n", s.PID, s.State)
	if s.LogPath != "" {
		fmt.Fprintf(t.stdout, "Session log: %s\n", s.LogPath)
	}
	if s.Stop != nil {
		printStop(t, s.Stop)
	}
	return nil
}

// parseLocation splits a breakpoint location into a source file and line,
// or a function name when line is zero.
func parseLocation(loc string) (file string, line int, function string) {
	if i := strings.LastIndex(loc, ":"); i > 0 {
		if n, err := strconv.Atoi(loc[i+1:]); err == nil {
			return loc[:i], n, ""
		}
	}
	return "", 0, loc
}

func splitCondition(args string) (loc, cond string) {
	if i := strings.Index(args, " if "); i >= 0 {
		return strings.TrimSpace(args[:i]), strings.TrimSpace(args[i+len(" if "):])
	}
	return strings.TrimSpace(args), ""
}

func breakpoint(t *Term, ctx callContext, args string) error {
	loc, cond := splitCondition(args)
	if loc == "" {
		return errors.New("not enough arguments")
	}
	file, line, function := parseLocation(loc)
	if function != "" {
		funcs := append([]api.FunctionBreakpointSpec(nil), t.funcBreakpoints...)
		found := false
		for i := range funcs {
			if funcs[i].Name == function {
				funcs[i].Condition = cond
				found = true
			}
		}
		if !found {
			funcs = append(funcs, api.FunctionBreakpointSpec{Name: function, Condition: cond})
		}
		return setFunctionBreakpoints(t, ctx, funcs)
	}
	bps := append([]api.SourceBreakpoint(nil), t.breakpoints[file]...)
	found := false
	for i := range bps {
		if bps[i].Line == line {
			bps[i].Condition = cond
			found = true
		}
	}
	if !found {
		bps = append(bps, api.SourceBreakpoint{Line: line, Condition: cond})
	}
	return setSourceBreakpoints(t, ctx, file, bps)
}

func setSourceBreakpoints(t *Term, ctx callContext, file string, bps []api.SourceBreakpoint) error {
	if bps == nil {
		bps = []api.SourceBreakpoint{}
	}
	res, err := t.debugger.SetBreakpoints(ctx, file, bps, nil)
	if err != nil {
		return err
	}
	if len(bps) == 0 {
		delete(t.breakpoints, file)
		delete(t.verified, file)
	} else {
		t.breakpoints[file] = bps
		t.verified[file] = res.SourceBreakpoints
	}
	for _, bp := range res.SourceBreakpoints {
		printBreakpoint(t, fmt.Sprintf("%s:%d", file, bp.Line), bp.ID, bp.Condition, bp.Verified, bp.Message)
	}
	return nil
}

func setFunctionBreakpoints(t *Term, ctx callContext, funcs []api.FunctionBreakpointSpec) error {
	if funcs == nil {
		funcs = []api.FunctionBreakpointSpec{}
	}
	res, err := t.debugger.SetBreakpoints(ctx, "", nil, funcs)
	if err != nil {
		return err
	}
	t.funcBreakpoints = funcs
	t.funcVerified = res.FunctionBreakpoints
	for _, bp := range res.FunctionBreakpoints {
		printBreakpoint(t, bp.FunctionName, bp.ID, bp.Condition, bp.Verified, bp.Message)
	}
	return nil
}

func printBreakpoint(t *Term, loc string, id int, cond string, verified bool, msg string) {
	fmt.Fprintf(t.stdout, "Breakpoint %d at %s", id, loc)
	if cond != "" {
		fmt.Fprintf(t.stdout, " if %s", cond)
	}
	if verified {
		t.printColor(ansiGreen, " (verified)")
	} else if msg != "" {
		t.printColor(ansiYellow, fmt.Sprintf(" (pending: %s)", msg))
	} else {
		t.printColor(ansiYellow, " (pending)")
	}
	fmt.Fprintln(t.stdout)
}

func clearCmd(t *Term, ctx callContext, args string) error {
	if args == "" {
		return errors.New("not enough arguments")
	}
	file, line, function := parseLocation(args)
	if function != "" {
		funcs := make([]api.FunctionBreakpointSpec, 0, len(t.funcBreakpoints))
		for _, fb := range t.funcBreakpoints {
			if fb.Name != function {
				funcs = append(funcs, fb)
			}
		}
		if len(funcs) == len(t.funcBreakpoints) {
			return fmt.Errorf("no breakpoint on function %s", function)
		}
		if err := setFunctionBreakpoints(t, ctx, funcs); err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "Breakpoint on %s cleared\n", function)
		return nil
	}
	old := t.breakpoints[file]
	bps := make([]api.SourceBreakpoint, 0, len(old))
	for _, bp := range old {
		if bp.Line != line {
			bps = append(bps, bp)
		}
	}
	if len(bps) == len(old) {
		return fmt.Errorf("no breakpoint at %s:%d", file, line)
	}
	if err := setSourceBreakpoints(t, ctx, file, bps); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint at %s:%d cleared\n", file, line)
	return nil
}

func clearAll(t *Term, ctx callContext, args string) error {
	if args != "" {
		if _, ok := t.breakpoints[args]; !ok {
			return fmt.Errorf("no breakpoints in %s", args)
		}
		return setSourceBreakpoints(t, ctx, args, nil)
	}
	for _, file := range sortedFiles(t.breakpoints) {
		if err := setSourceBreakpoints(t, ctx, file, nil); err != nil {
			return err
		}
	}
	if len(t.funcBreakpoints) > 0 {
		if err := setFunctionBreakpoints(t, ctx, nil); err != nil {
			return err
		}
	}
	fmt.Fprintln(t.stdout, "All breakpoints cleared")
	return nil
}

func sortedFiles(m map[string][]api.SourceBreakpoint) []string {
	files := make([]string, 0, len(m))
	for file := range m {
		files = append(files, file)
	}
	sort.Strings(files)
	return files
}

func breakpoints(t *Term, ctx callContext, args string) error {
	n := 0
	for _, file := range sortedFiles(t.breakpoints) {
		for _, bp := range t.verified[file] {
			printBreakpoint(t, fmt.Sprintf("%s:%d", file, bp.Line), bp.ID, bp.Condition, bp.Verified, bp.Message)
			n++
		}
	}
	for _, bp := range t.funcVerified {
		printBreakpoint(t, bp.FunctionName, bp.ID, bp.Condition, bp.Verified, bp.Message)
		n++
	}
	if n == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints")
	}
	return nil
}

func conditionCmd(t *Term, ctx callContext, argstr string) error {
	args := split2PartsBySpace(argstr)
	if args[0] == "" {
		return errors.New("not enough arguments")
	}
	var cond string
	if len(args) > 1 {
		cond = args[1]
	}
	file, line, function := parseLocation(args[0])
	if function != "" {
		for _, fb := range t.funcBreakpoints {
			if fb.Name == function {
				return breakpoint(t, ctx, joinCondition(function, cond))
			}
		}
		return fmt.Errorf("no breakpoint on function %s", function)
	}
	for _, bp := range t.breakpoints[file] {
		if bp.Line == line {
			return breakpoint(t, ctx, joinCondition(args[0], cond))
		}
	}
	return fmt.Errorf("no breakpoint at %s", args[0])
}

func joinCondition(loc, cond string) string {
	if cond == "" {
		return loc
	}
	return loc + " if " + cond
}

func parseThreadID(args string) (int, error) {
	if args == "" {
		return 0, nil
	}
	tid, err := strconv.Atoi(args)
	if err != nil {
		return 0, fmt.Errorf("invalid thread id %q", args)
	}
	return tid, nil
}

func (c *Commands) resume(t *Term, ctx callContext, args string, f func(context.Context, int) (*api.ExecutionResult, error)) error {
	tid, err := parseThreadID(args)
	if err != nil {
		return err
	}
	c.frame = 0
	res, err := f(ctx, tid)
	if err != nil {
		return err
	}
	switch {
	case res.Stop != nil:
		printStop(t, res.Stop)
	case res.State == api.StateTerminated:
		fmt.Fprintln(t.stdout, "Process has exited")
	default:
		fmt.Fprintf(t.stdout, "Process %s\n", res.State)
	}
	return nil
}

func (c *Commands) cont(t *Term, ctx callContext, args string) error {
	return c.resume(t, ctx, args, t.debugger.Continue)
}

func (c *Commands) next(t *Term, ctx callContext, args string) error {
	return c.resume(t, ctx, args, t.debugger.StepOver)
}

func (c *Commands) step(t *Term, ctx callContext, args string) error {
	return c.resume(t, ctx, args, t.debugger.StepIn)
}

func (c *Commands) stepout(t *Term, ctx callContext, args string) error {
	return c.resume(t, ctx, args, t.debugger.StepOut)
}

func printStop(t *Term, stop *api.StopContext) {
	t.printColor(ansiYellow, "> ")
	fmt.Fprintf(t.stdout, "stopped: %s, thread %d", stop.Reason, stop.ThreadID)
	if len(stop.HitBreakpointIDs) > 0 {
		ids := make([]string, len(stop.HitBreakpointIDs))
		for i, id := range stop.HitBreakpointIDs {
			ids[i] = strconv.Itoa(id)
		}
		fmt.Fprintf(t.stdout, ", breakpoint %s", strings.Join(ids, ", "))
	}
	fmt.Fprintln(t.stdout)
	if stop.Description != "" {
		fmt.Fprintf(t.stdout, "  %s\n", stop.Description)
	}
	if stop.Text != "" {
		fmt.Fprintf(t.stdout, "  %s\n", stop.Text)
	}
}

// frameID returns the adapter id of the selected frame, zero for the
// innermost one.
func (c *Commands) frameID(t *Term) int {
	if c.frame == 0 {
		return 0
	}
	s := t.debugger.State()
	if s.Stop == nil || c.frame >= len(s.Stop.FrameIDs) {
		return 0
	}
	return s.Stop.FrameIDs[c.frame]
}

func (c *Commands) frameCmd(t *Term, ctx callContext, args string) error {
	s := t.debugger.State()
	if s.Stop == nil {
		return errors.New("the program is not stopped")
	}
	if args == "" {
		for i, id := range s.Stop.FrameIDs {
			mark := "  "
			if i == c.frame {
				mark = "=>"
			}
			fmt.Fprintf(t.stdout, "%s %d: frame id %d\n", mark, i, id)
		}
		return nil
	}
	n, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("invalid frame index %q", args)
	}
	if n < 0 || n >= len(s.Stop.FrameIDs) {
		return fmt.Errorf("frame %d does not exist, the stop has %d frames", n, len(s.Stop.FrameIDs))
	}
	c.frame = n
	fmt.Fprintf(t.stdout, "Frame %d selected\n", n)
	return nil
}

func printVar(t *Term, ctx callContext, args string) error {
	evalContext := ""
	if strings.HasPrefix(args, "-ctx ") {
		v := split2PartsBySpace(strings.TrimPrefix(args, "-ctx "))
		if len(v) != 2 {
			return errors.New("not enough arguments")
		}
		evalContext, args = v[0], v[1]
	}
	if args == "" {
		return errors.New("not enough arguments")
	}
	res, err := t.debugger.Evaluate(ctx, args, ctx.FrameID, evalContext)
	if err != nil {
		return err
	}
	printResult(t, res)
	return nil
}

func printResult(t *Term, res *api.EvaluateResult) {
	fmt.Fprint(t.stdout, res.Result)
	if res.Type != "" {
		fmt.Fprintf(t.stdout, " (%s)", res.Type)
	}
	if res.VariablesReference > 0 {
		fmt.Fprintf(t.stdout, " [vars %d]", res.VariablesReference)
	}
	if res.MemoryReference != "" {
		fmt.Fprintf(t.stdout, " [mem %s]", res.MemoryReference)
	}
	fmt.Fprintln(t.stdout)
}

func vars(t *Term, ctx callContext, args string) error {
	v := strings.Fields(args)
	if len(v) < 1 || len(v) > 3 {
		return errors.New("wrong number of arguments to vars")
	}
	n := make([]int, 3)
	for i := range v {
		x, err := strconv.Atoi(v[i])
		if err != nil {
			return fmt.Errorf("invalid argument %q", v[i])
		}
		n[i] = x
	}
	res, err := t.debugger.Variables(ctx, n[0], n[1], n[2])
	if err != nil {
		return err
	}
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for _, v := range res.Variables {
		fmt.Fprintf(w, "%s\t= %s", v.Name, v.Value)
		if v.Type != "" {
			fmt.Fprintf(w, "\t(%s)", v.Type)
		} else {
			fmt.Fprint(w, "\t")
		}
		if v.VariablesReference > 0 {
			fmt.Fprintf(w, "\t[vars %d]", v.VariablesReference)
		}
		if v.MemoryReference != "" {
			fmt.Fprintf(w, "\t[mem %s]", v.MemoryReference)
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

const defaultExamineCount = 64

func examineMemoryCmd(t *Term, ctx callContext, argstr string) error {
	w, err := splitArgs(argstr)
	if err != nil {
		return err
	}
	count, offset := defaultExamineCount, 0
	var ref string
	for i := 0; i < len(w); i++ {
		switch w[i] {
		case "-count", "-len", "-off":
			if i+1 >= len(w) {
				return fmt.Errorf("expected argument after %s", w[i])
			}
			n, err := strconv.Atoi(w[i+1])
			if err != nil {
				return fmt.Errorf("%s: invalid number %q", w[i], w[i+1])
			}
			if w[i] == "-off" {
				offset = n
			} else {
				count = n
			}
			i++
		default:
			if ref != "" {
				return errors.New("too many arguments to examinemem")
			}
			ref = w[i]
		}
	}
	if ref == "" {
		return errors.New("no memory reference specified")
	}
	res, err := t.debugger.ReadMemory(ctx, ref, offset, count)
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(res.DataBase64)
	if err != nil {
		return err
	}
	addr, _ := probe.ParseHexAddress(res.Address)
	dumpMemory(t, addr, data)
	if res.UnreadableBytes > 0 {
		fmt.Fprintf(t.stdout, "%d bytes unreadable\n", res.UnreadableBytes)
	}
	return nil
}

// dumpMemory prints data as rows of 16 hexadecimal bytes followed by
// their printable characters.
func dumpMemory(t *Term, addr uint64, data []byte) {
	const row = 16
	for i := 0; i < len(data); i += row {
		end := i + row
		if end > len(data) {
			end = len(data)
		}
		fmt.Fprintf(t.stdout, "%#010x: ", addr+uint64(i))
		for j := i; j < i+row; j++ {
			if j < end {
				fmt.Fprintf(t.stdout, "%02x ", data[j])
			} else {
				fmt.Fprint(t.stdout, "   ")
			}
		}
		fmt.Fprint(t.stdout, " ")
		for _, b := range data[i:end] {
			if b < 0x20 || b > 0x7e {
				b = '.'
			}
			fmt.Fprintf(t.stdout, "%c", b)
		}
		fmt.Fprintln(t.stdout)
	}
}

func lldbCmd(t *Term, ctx callContext, args string) error {
	if args == "" {
		return errors.New("not enough arguments")
	}
	res, err := t.debugger.Console(ctx, args, ctx.FrameID)
	if err != nil {
		return err
	}
	for _, ev := range res.Output {
		fmt.Fprint(t.stdout, ev.Output)
		if !strings.HasSuffix(ev.Output, "\n") {
			fmt.Fprintln(t.stdout)
		}
	}
	if res.Result != "" {
		fmt.Fprintln(t.stdout, res.Result)
	}
	return nil
}

func snapshotCmd(t *Term, ctx callContext, args string) error {
	w, err := splitArgs(args)
	if err != nil {
		return err
	}
	sections := probe.DefaultSections()
	for _, flag := range w {
		switch flag {
		case "-resources":
			sections.Resources = true
		case "-no-entities":
			sections.Entities = false
		case "-no-components":
			sections.Components = false
		default:
			return fmt.Errorf("unknown argument %q", flag)
		}
	}
	res, err := t.debugger.Snapshot(ctx, sections)
	if err != nil {
		return err
	}
	if !res.Supported {
		fmt.Fprintf(t.stdout, "Snapshot not available: %s\n", res.Reason)
		return nil
	}
	if res.FrameCounter != nil {
		fmt.Fprintf(t.stdout, "Frame counter: %d\n", *res.FrameCounter)
	}
	if res.SnapshotLen != nil {
		fmt.Fprintf(t.stdout, "Snapshot length: %d bytes\n", *res.SnapshotLen)
	}
	buf, err := json.MarshalIndent(res.Snapshot, "", "  ")
	if err != nil {
		return err
	}
	if !t.dumb {
		t.stdout.pw.PageMaybe(nil)
		defer t.stdout.pw.Reset()
	}
	fmt.Fprintf(t.stdout, "%s\n", buf)
	return nil
}

func transcript(t *Term, ctx callContext, args string) error {
	argv := strings.Fields(args)
	truncate := false
	fileOnly := false
	disable := false
	path := ""
	for _, arg := range argv {
		switch arg {
		case "-x":
			fileOnly = true
		case "-t":
			truncate = true
		case "-off":
			disable = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off does not take an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly, transcriptHeader(t.debugger.State())...)
	return nil
}

// transcriptHeader ties a transcript to the session it records, and to
// its event log.
func transcriptHeader(st *api.Status) []string {
	header := []string{"dapbridge transcript started " + time.Now().Format(time.RFC3339)}
	if st.State == api.StateDetached {
		return append(header, "session detached")
	}
	header = append(header, fmt.Sprintf("session %s, process %d", st.State, st.PID))
	if st.LogPath != "" {
		header = append(header, "event log "+st.LogPath)
	}
	return header
}

// ExitRequestError is returned when the user
// exits the terminal.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, ctx callContext, args string) error {
	if args == "-c" {
		t.quitDetach = true
	}
	return ExitRequestError{}
}

func (c *Commands) sourceCommand(t *Term, ctx callContext, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(t, args)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
