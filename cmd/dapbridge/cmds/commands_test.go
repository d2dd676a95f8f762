package cmds

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/dapbridge/dapbridge/cmd/dapbridge/cmds/helphelpers"
)

func TestMain(m *testing.M) {
	// Keep the configuration of the user running the tests untouched.
	dir, err := os.MkdirTemp("", "dapbridge-cmds")
	if err != nil {
		panic(err)
	}
	os.Setenv("XDG_CONFIG_HOME", dir)
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

func TestCommandTree(t *testing.T) {
	root := New(false)
	want := map[string]bool{"serve": true, "attach": true, "script": true, "version": true, "doc": true, "log": true}
	for _, c := range root.Commands() {
		delete(want, c.Name())
	}
	for name := range want {
		t.Errorf("missing command %s", name)
	}
	for _, name := range []string{"log", "log-output", "log-dest", "init", "adapter", "log-dir"} {
		if root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("missing flag --%s", name)
		}
	}
}

func TestVersion(t *testing.T) {
	root := New(false)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "Dapbridge Debugger Bridge\nVersion: ") {
		t.Errorf("version output %q", out.String())
	}
	if !strings.Contains(out.String(), "\nDAP client: go-dap ") || !strings.Contains(out.String(), "\nMCP server: go-sdk ") {
		t.Errorf("version output without protocols %q", out.String())
	}
}

func TestDoc(t *testing.T) {
	root := New(true)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"doc"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"# Commands", "## attach", "## snapshot"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("doc output does not contain %q", want)
		}
	}
}

func TestAttachArguments(t *testing.T) {
	for _, args := range [][]string{{"attach"}, {"attach", "1", "prog", "extra"}} {
		root := New(false)
		root.SetOut(new(bytes.Buffer))
		root.SetErr(new(bytes.Buffer))
		root.SetArgs(args)
		if err := root.Execute(); err == nil {
			t.Errorf("%v: no error", args)
		}
	}
}

func TestPrepareHidesFlags(t *testing.T) {
	root := New(false)
	for _, c := range root.Commands() {
		if c.Name() != "serve" {
			continue
		}
		helphelpers.Prepare(c)
		if f := root.PersistentFlags().Lookup("init"); f == nil || !f.Hidden {
			t.Error("--init not hidden for serve")
		}
		if f := root.PersistentFlags().Lookup("adapter"); f == nil || f.Hidden {
			t.Error("--adapter hidden for serve")
		}
		return
	}
	t.Fatal("serve command not found")
}
