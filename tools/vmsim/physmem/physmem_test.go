package physmem

import (
	"testing"

	"github.com/pkg/errors"

	"kestrel/kernel/mm"
	"kestrel/kernel/mm/vmm"
)

func newRAM(t *testing.T, size uint64) *RAM {
	ram, err := New(size)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := ram.Close(); err != nil {
			t.Error(err)
		}
	})
	return ram
}

func TestNew(t *testing.T) {
	for specIndex, size := range []uint64{0, 100, uint64(mm.PageSize) + 1} {
		if _, err := New(size); err == nil {
			t.Errorf("[spec %d] expected New(%d) to fail", specIndex, size)
		}
	}

	ram := newRAM(t, 4*uint64(mm.PageSize))
	if got := ram.Size(); got != 4*uint64(mm.PageSize) {
		t.Fatalf("expected size %d; got %d", 4*mm.PageSize, got)
	}
	for i, b := range ram.Slice(0, ram.Size()) {
		if b != 0 {
			t.Fatalf("expected zeroed ram; byte %d is 0x%x", i, b)
		}
	}
}

func TestTableAliasesRAM(t *testing.T) {
	ram := newRAM(t, 4*uint64(mm.PageSize))

	frame := mm.FrameFromNumber[mm.Size4KiB](2)
	table := ram.Table(frame)
	table.Entry(mm.TableIndexTruncate(1)).SetAddress(mm.FrameFromNumber[mm.Size4KiB](3), vmm.FlagPresent)

	// entry 1 lives at byte offset 8 of the table
	raw := ram.Slice(frame.StartAddress()+8, 8)
	if raw[0] != byte(vmm.FlagPresent) || raw[1] != 0x30 {
		t.Fatalf("expected entry bytes to be visible through the ram slice; got % x", raw)
	}

	if p := ram.Pointer(frame.StartAddress()); p != ram.Pointer(frame.StartAddress()) {
		t.Fatal("expected Pointer to be stable")
	}
}

func TestOutOfRange(t *testing.T) {
	ram := newRAM(t, uint64(mm.PageSize))

	specs := []func(){
		func() { ram.Table(mm.FrameFromNumber[mm.Size4KiB](1)) },
		func() { ram.Pointer(mm.PhysAddr(mm.PageSize)) },
		func() { ram.Slice(mm.PhysAddr(mm.PageSize-4), 8) },
	}

	for specIndex, spec := range specs {
		func() {
			defer func() {
				err, _ := recover().(error)
				if !errors.Is(err, ErrOutOfRange) {
					t.Errorf("[spec %d] expected ErrOutOfRange panic; got %v", specIndex, err)
				}
			}()
			spec()
		}()
	}
}

func TestCloseTwice(t *testing.T) {
	ram, err := New(uint64(mm.PageSize))
	if err != nil {
		t.Fatal(err)
	}
	if err = ram.Close(); err != nil {
		t.Fatal(err)
	}
	if err = ram.Close(); err != nil {
		t.Fatalf("expected second Close to be a no-op; got %v", err)
	}
}
