package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/docker/go-units"
	"github.com/google/subcommands"
	"github.com/pkg/errors"

	"kestrel/tools/vmsim/machine"
)

// HeapCommand boots a machine and runs a concurrent workload against the
// kernel heap.
type HeapCommand struct {
	*Globals

	workers    int
	iterations int
	maxSize    string
	maxAlign   uint64
	seed       int64
}

// Name implements subcommands.Command.Name.
func (*HeapCommand) Name() string {
	return "heap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*HeapCommand) Synopsis() string {
	return "exercise the kernel heap with concurrent random allocations"
}

// Usage implements subcommands.Command.Usage.
func (*HeapCommand) Usage() string {
	return "heap [-workers N] [-iterations N] [-max-size SIZE] [-max-align N] [-seed N]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (hc *HeapCommand) SetFlags(fs *flag.FlagSet) {
	fs.IntVar(&hc.workers, "workers", 4, "number of concurrent workers")
	fs.IntVar(&hc.iterations, "iterations", 1000, "allocations per worker")
	fs.StringVar(&hc.maxSize, "max-size", "4KiB", "largest allocation size")
	fs.Uint64Var(&hc.maxAlign, "max-align", 64, "largest allocation alignment")
	fs.Int64Var(&hc.seed, "seed", 1, "random seed")
}

// Execute implements subcommands.Command.Execute.
func (hc *HeapCommand) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if err := hc.execute(ctx); err != nil {
		fmt.Fprintf(hc.out(), "heap: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (hc *HeapCommand) execute(ctx context.Context) error {
	maxSize, err := units.RAMInBytes(hc.maxSize)
	if err != nil || maxSize <= 0 {
		return errors.Errorf("invalid -max-size %q", hc.maxSize)
	}

	m, _, err := hc.boot()
	if err != nil {
		return err
	}
	defer m.Close()

	res, err := m.RunWorkload(ctx, machine.Workload{
		Workers:    hc.workers,
		Iterations: hc.iterations,
		MaxSize:    uintptr(maxSize),
		MaxAlign:   uintptr(hc.maxAlign),
		Seed:       hc.seed,
	})
	if err != nil {
		return errors.Wrap(err, "running workload")
	}

	stats := m.HeapStats()
	out := hc.out()
	fmt.Fprintf(out, "allocations: %d, deallocations: %d, exhausted: %d, allocated: %s in %s\n",
		res.Allocations, res.Deallocations, res.Exhausted, units.BytesSize(float64(res.Bytes)), res.Elapsed)
	fmt.Fprintf(out, "heap: %s of %s in use, %d extensions (%d attempts), %d holes\n",
		units.BytesSize(float64(stats.Used)), units.BytesSize(float64(stats.Top-stats.Bottom)),
		stats.Extensions, stats.ExtensionAttempts, len(m.HeapHoles()))
	fmt.Fprintf(out, "kernel frames: %d\n", m.Info().KernelFrames)
	return nil
}
