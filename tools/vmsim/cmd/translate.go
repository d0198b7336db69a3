package cmd

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/google/subcommands"

	"kestrel/kernel/mm"
)

// TranslateCommand boots a machine and translates virtual addresses through
// its page tables.
type TranslateCommand struct {
	*Globals
}

// Name implements subcommands.Command.Name.
func (*TranslateCommand) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*TranslateCommand) Synopsis() string {
	return "translate virtual addresses to physical addresses"
}

// Usage implements subcommands.Command.Usage.
func (*TranslateCommand) Usage() string {
	return "translate [addr...]\n\nTranslates each address given on the command line followed by the addresses listed in the machine configuration.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*TranslateCommand) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (tc *TranslateCommand) Execute(_ context.Context, fs *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if err := tc.execute(fs.Args()); err != nil {
		fmt.Fprintf(tc.out(), "translate: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (tc *TranslateCommand) execute(args []string) error {
	m, cfg, err := tc.boot()
	if err != nil {
		return err
	}
	defer m.Close()

	var addrs []mm.VirtAddr
	for _, arg := range args {
		addr, err := parseVirtAddr(arg)
		if err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}
	addrs = append(addrs, cfg.Translate...)

	w := tabwriter.NewWriter(tc.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VIRTUAL\tPHYSICAL")
	for _, addr := range addrs {
		pa, ok, err := m.Translate(addr)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(w, "0x%016x\tnot mapped\n", uint64(addr))
			continue
		}
		fmt.Fprintf(w, "0x%016x\t0x%x\n", uint64(addr), uint64(pa))
	}
	return w.Flush()
}
