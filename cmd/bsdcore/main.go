//go:build freebsd && amd64

// Command bsdcore is a minimal front end over the process control core
// and static analyzer: enough to spawn or attach to a FreeBSD process,
// drive it through a few debug events, and dump the analyzer's
// function table for each of its executable regions.
package main

import (
	"os"

	"github.com/tracepoint-dev/bsdcore/cmd/bsdcore/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
