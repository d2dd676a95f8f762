package main

import (
	"os"

	"github.com/dapbridge/dapbridge/cmd/dapbridge/cmds"
	"github.com/dapbridge/dapbridge/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.DapbridgeVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
