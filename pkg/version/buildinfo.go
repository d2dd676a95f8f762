package version

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
)

// Modules implementing the protocols dapbridge speaks, by protocol name.
var protocolModules = map[string]string{
	"DAP": "github.com/google/go-dap",
	"MCP": "github.com/modelcontextprotocol/go-sdk",
}

func init() {
	buildInfo = func() string {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return "no module information in this binary"
		}
		return formatBuildInfo(info)
	}
}

// Protocols returns the version of the module implementing each protocol,
// "unknown" when the binary carries no module information.
func Protocols() map[string]string {
	info, _ := debug.ReadBuildInfo()
	return protocolVersions(info)
}

func protocolVersions(info *debug.BuildInfo) map[string]string {
	r := make(map[string]string, len(protocolModules))
	for proto := range protocolModules {
		r[proto] = "unknown"
	}
	if info == nil {
		return r
	}
	for _, dep := range info.Deps {
		for proto, path := range protocolModules {
			if dep.Path != path {
				continue
			}
			r[proto] = dep.Version
			if dep.Replace != nil {
				r[proto] = dep.Replace.Version
			}
		}
	}
	return r
}

// formatBuildInfo lists the protocol implementations first, then every
// other dependency.
func formatBuildInfo(info *debug.BuildInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %s %s\n", info.Main.Path, info.Main.Version)

	protos := protocolVersions(info)
	names := make([]string, 0, len(protos))
	for name := range protos {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "%s\t%s %s\n", name, protocolModules[name], protos[name])
	}

	for _, dep := range info.Deps {
		if isProtocolModule(dep.Path) {
			continue
		}
		fmt.Fprintf(&sb, "dep\t%s %s", dep.Path, dep.Version)
		if dep.Replace != nil {
			fmt.Fprintf(&sb, " => %s %s", dep.Replace.Path, dep.Replace.Version)
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func isProtocolModule(path string) bool {
	for _, p := range protocolModules {
		if p == path {
			return true
		}
	}
	return false
}
