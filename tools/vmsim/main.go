// The vmsim tool boots the kernel's memory management packages on a
// simulated machine. It is intended for inspecting page table layouts and
// for stress testing the kernel heap on the host.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"

	"kestrel/tools/vmsim/cmd"
)

func main() {
	globals := &cmd.Globals{}
	globals.Register(flag.CommandLine)

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&cmd.TranslateCommand{Globals: globals}, "")
	subcommands.Register(&cmd.DumpCommand{Globals: globals}, "")
	subcommands.Register(&cmd.HeapCommand{Globals: globals}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
