package starbind

// Code in this file is derived from go.starlark.net/repl/repl.go
// Which is licensed under the following copyright:
//
// Copyright (c) 2017 The Bazel Authors.  All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are
// met:
//
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the
//    distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived
//    from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

import (
	"errors"
	"fmt"
	"io"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/liner"

	"github.com/dapbridge/dapbridge/service/api"
)

const (
	normalPrompt = ">>> "
	extraPrompt  = "... "

	exitCommand = "exit"
)

// REPL reads starlark statements from the terminal until EOF or exit.
// Globals defined in the loop are exported like those of an executed
// script when the loop ends.
func (env *Env) REPL() error {
	rl := liner.NewLiner()
	defer rl.Close()
	return env.repl(func(prompt string) (string, error) {
		line, err := rl.Prompt(prompt)
		if err == nil && line != "" {
			rl.AppendHistory(line)
		}
		return line, err
	})
}

// sessionPrompt prefixes the primary prompt with the session state, so
// that a stop or termination seen by a statement shows up on the next line.
func (env *Env) sessionPrompt() string {
	st := env.ctx.Debugger().State()
	switch st.State {
	case api.StateDetached:
		return normalPrompt
	case api.StateStopped:
		if st.Stop != nil && st.Stop.ThreadID != 0 {
			return fmt.Sprintf("[%d stopped, thread %d] %s", st.PID, st.Stop.ThreadID, normalPrompt)
		}
	}
	return fmt.Sprintf("[%d %s] %s", st.PID, st.State, normalPrompt)
}

func (env *Env) repl(readline func(prompt string) (string, error)) error {
	thread := env.newThread()
	globals := make(starlark.StringDict, len(env.env))
	for k, v := range env.env {
		globals[k] = v
	}

	fmt.Fprintf(env.out, "Starlark REPL, type %s or press Ctrl-D to return, help() lists builtins.\n", exitCommand)
	for {
		if err := isCancelled(thread); err != nil {
			return err
		}
		err := env.rep(readline, thread, globals)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(env.out)
	return env.exportGlobals(globals)
}

// rep reads, evaluates and prints one statement. Only read errors are
// returned, starlark errors are printed.
func (env *Env) rep(readline func(prompt string) (string, error), thread *starlark.Thread, globals starlark.StringDict) error {
	out := env.out
	defer out.Flush()

	prompt := env.sessionPrompt()
	var readErr error
	read := func() ([]byte, error) {
		line, err := readline(prompt)
		out.Echo(prompt + line + "\n")
		prompt = extraPrompt
		switch {
		case line == exitCommand:
			readErr = io.EOF
		case err != nil:
			readErr = err
		default:
			return []byte(line + "\n"), nil
		}
		return nil, readErr
	}

	f, err := syntax.ParseCompoundStmt("<stdin>", read)
	if readErr != nil {
		return readErr
	}
	if err != nil {
		printError(out, err)
		return nil
	}

	if expr := soleExpr(f); expr != nil {
		v, err := starlark.EvalExpr(thread, expr, globals)
		switch {
		case err != nil:
			printError(out, err)
		case v != starlark.None:
			fmt.Fprintln(out, v)
		}
		return nil
	}

	prog, err := starlark.FileProgram(f, globals.Has)
	if err != nil {
		printError(out, err)
		return nil
	}

	// Globals are not frozen so that later statements can rebind them.
	res, err := prog.Init(thread, globals)
	if err != nil {
		printError(out, err)
	}
	for k, v := range res {
		globals[k] = v
	}
	return nil
}

func soleExpr(f *syntax.File) syntax.Expr {
	if len(f.Stmts) != 1 {
		return nil
	}
	if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
		return stmt.X
	}
	return nil
}

func printError(out io.Writer, err error) {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		fmt.Fprintln(out, evalErr.Backtrace())
		return
	}
	fmt.Fprintln(out, err)
}
