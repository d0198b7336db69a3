package cmd

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/google/subcommands"

	"kestrel/kernel/mm"
)

// DumpCommand boots a machine and prints its page table mappings.
type DumpCommand struct {
	*Globals
}

// Name implements subcommands.Command.Name.
func (*DumpCommand) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*DumpCommand) Synopsis() string {
	return "print the boot page table mappings"
}

// Usage implements subcommands.Command.Usage.
func (*DumpCommand) Usage() string {
	return "dump\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*DumpCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (dc *DumpCommand) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	if err := dc.execute(); err != nil {
		fmt.Fprintf(dc.out(), "dump: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (dc *DumpCommand) execute() error {
	m, _, err := dc.boot()
	if err != nil {
		return err
	}
	defer m.Close()

	regions, err := m.Mappings()
	if err != nil {
		return err
	}

	info := m.Info()
	out := dc.out()
	fmt.Fprintf(out, "ram: %s, root table: %s, loader frames: %d\n", units.BytesSize(float64(info.RAM)), info.Root, info.LoaderFrames)
	fmt.Fprintf(out, "heap: [%s, %s), limit %s\n\n", info.HeapStart, info.HeapEnd, info.HeapLimit)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VIRTUAL\tPHYSICAL\tSIZE\tFLAGS")
	for _, r := range regions {
		size := units.BytesSize(float64(r.Pages * uint64(mm.PageSize)))
		fmt.Fprintf(w, "0x%016x\t0x%x\t%s\t%s\n", uint64(r.Virt), uint64(r.Phys), size, r.Flags)
	}
	return w.Flush()
}
