package machine

import (
	"bytes"
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"kestrel/kernel/mm"
)

// Workload describes a randomized heap exercise.
type Workload struct {
	Workers    int
	Iterations int
	MaxSize    uintptr
	MaxAlign   uintptr
	Seed       int64
}

// WorkloadResult summarizes a completed Workload.
type WorkloadResult struct {
	Allocations   uint64
	Deallocations uint64
	Exhausted     uint64
	Bytes         uint64
	Elapsed       time.Duration
}

type block struct {
	addr        mm.VirtAddr
	size, align uintptr
	fill        byte
}

// RunWorkload runs w.Workers goroutines against the kernel heap. Each worker
// allocates blocks of random size and alignment, fills them with a pattern
// and frees a random earlier block from time to time. A block whose pattern
// changed before it is freed means two live allocations overlapped. The first
// worker error cancels the others.
func (m *Machine) RunWorkload(ctx context.Context, w Workload) (WorkloadResult, error) {
	if w.Workers <= 0 || w.Iterations <= 0 || w.MaxSize == 0 {
		return WorkloadResult{}, errors.Errorf("invalid workload %+v", w)
	}
	if w.MaxAlign == 0 {
		w.MaxAlign = 64
	}

	var (
		allocs, frees, exhausted, total atomic.Uint64
		start                           = time.Now()
	)

	g, ctx := errgroup.WithContext(ctx)
	for id := 0; id < w.Workers; id++ {
		rng := rand.New(rand.NewSource(w.Seed + int64(id)))
		g.Go(func() error {
			var live []block

			free := func(i int) error {
				b := live[i]
				if err := m.verify(b); err != nil {
					return errors.Wrapf(err, "worker %d", id)
				}
				if err := m.Deallocate(b.addr, b.size, b.align); err != nil {
					return err
				}
				live[i] = live[len(live)-1]
				live = live[:len(live)-1]
				frees.Add(1)
				return nil
			}

			for i := 0; i < w.Iterations; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}

				if len(live) > 0 && rng.Intn(3) == 0 {
					if err := free(rng.Intn(len(live))); err != nil {
						return err
					}
				}

				b := block{
					size:  uintptr(rng.Int63n(int64(w.MaxSize))) + 1,
					align: uintptr(1) << rng.Intn(bitLen(w.MaxAlign)),
					fill:  byte(rng.Intn(255) + 1),
				}

				addr, err := m.Allocate(b.size, b.align)
				switch {
				case errors.Is(err, ErrOutOfMemory):
					exhausted.Add(1)
					continue
				case err != nil:
					return err
				case addr.Pointer()%b.align != 0:
					return errors.Errorf("worker %d: block %s is not aligned to %d", id, addr, b.align)
				}

				b.addr = addr
				if err = m.Write(addr, bytes.Repeat([]byte{b.fill}, int(b.size))); err != nil {
					return err
				}
				live = append(live, b)
				allocs.Add(1)
				total.Add(uint64(b.size))
			}

			for len(live) > 0 {
				if err := free(len(live) - 1); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	return WorkloadResult{
		Allocations:   allocs.Load(),
		Deallocations: frees.Load(),
		Exhausted:     exhausted.Load(),
		Bytes:         total.Load(),
		Elapsed:       time.Since(start),
	}, err
}

func (m *Machine) verify(b block) error {
	data, err := m.Read(b.addr, uint64(b.size))
	if err != nil {
		return err
	}
	for i, v := range data {
		if v != b.fill {
			return errors.Errorf("block %s (%d bytes) overwritten at offset %d", b.addr, b.size, i)
		}
	}
	return nil
}

// bitLen returns the number of power-of-two alignments up to and including
// limit.
func bitLen(limit uintptr) int {
	n := 1
	for v := uintptr(2); v <= limit && v != 0; v <<= 1 {
		n++
	}
	return n
}
