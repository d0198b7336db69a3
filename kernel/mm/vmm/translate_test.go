package vmm

import (
	"kestrel/kernel/mm"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTranslate(t *testing.T) {
	mockMMU(t)

	arena := newTableArena(t, 16)
	pdt := arena.newPDT()

	mappings := []struct {
		virt, phys uint64
	}{
		{0x0000000000400000, 0x7000},
		{0xffff800000000000, 0x0},
		{0xffff800000001000, 0x1000},
		{0xffffffffffe00000, 0xfe000},
	}

	for _, m := range mappings {
		if err := pdt.Map(page4K(m.virt), frame4K(m.phys), FlagPresent|FlagRW); err != nil {
			t.Fatal(err)
		}
	}

	translator := NewTranslator(fixedRoot(uint64(pdt.Root().StartAddress())|0x18), arena)

	specs := []struct {
		virt      uint64
		expPhys   mm.PhysAddr
		expMapped bool
	}{
		{0x0000000000400000, 0x7000, true},
		{0x0000000000400123, 0x7123, true},
		{0xffff800000000fff, 0xfff, true},
		{0xffff800000001abc, 0x1abc, true},
		{0xffffffffffe00008, 0xfe008, true},
		// level 1 entry not present
		{0xffff800000002000, 0, false},
		// level 2 entry not present
		{0x0000000000600000, 0, false},
		// level 4 entry not present
		{0x0000008000000000, 0, false},
	}

	for specIndex, spec := range specs {
		got, mapped := translator.Translate(mm.VirtAddrTruncate(spec.virt))
		if got != spec.expPhys || mapped != spec.expMapped {
			t.Errorf("[spec %d] expected Translate(0x%x) to return (%s, %t); got (%s, %t)", specIndex, spec.virt, spec.expPhys, spec.expMapped, got, mapped)
		}
	}

	if !translator.IsMapped(0xffff800000000000, 0xffff800000002000) {
		t.Error("expected range [0xffff800000000000, 0xffff800000002000) to be mapped")
	}

	if translator.IsMapped(0xffff800000000000, 0xffff800000002001) {
		t.Error("expected range [0xffff800000000000, 0xffff800000002001) not to be mapped")
	}

	if frame, ok := translator.TranslatePage(page4K(0x400000)); !ok || frame != frame4K(0x7000) {
		t.Errorf("expected page 0x400000 to map frame 0x7000; got %s (ok: %t)", frame, ok)
	}
}

// faultingResolver resolves the root table and fails the test if any other
// table is accessed.
type faultingResolver struct {
	t    *testing.T
	root mm.Frame4K
	tbl  *PageTable
}

func (r *faultingResolver) Table(frame mm.Frame4K) *PageTable {
	if frame != r.root {
		r.t.Fatalf("unexpected access to table in %s", frame)
	}
	return r.tbl
}

func TestTranslateStopsAtMissingRootEntry(t *testing.T) {
	var root PageTable

	// Entries 0 and 511 point to frames that must never be dereferenced
	// since their present flag is clear.
	root.Entry(0).SetAddress(frame4K(0xdead000), FlagRW)
	root.Entry(511).SetAddress(frame4K(0xbeef000), FlagRW|FlagHugePage)

	resolver := &faultingResolver{t: t, root: frame4K(0x1000), tbl: &root}
	translator := NewTranslator(fixedRoot(0x1000), resolver)

	for _, addr := range []mm.VirtAddr{0x1000, 0xfffffffffffff000} {
		if got, mapped := translator.Translate(addr); mapped {
			t.Errorf("expected %s to be unmapped; got %s", addr, got)
		}
	}
}

func TestTranslateHugePage(t *testing.T) {
	defer func(orig func(interface{})) { panicFn = orig }(panicFn)

	var panicErr interface{}
	panicFn = func(e interface{}) { panicErr = e }

	arena := newTableArena(t, 4)
	root := arena.Table(frame4K(0))
	p3 := arena.Table(frame4K(0x1000))

	root.Entry(0).SetAddress(frame4K(0x1000), FlagPresent|FlagRW)
	p3.Entry(1).SetAddress(frame4K(0x40000000), FlagPresent|FlagRW|FlagHugePage)

	translator := NewTranslator(fixedRoot(0), arena)
	if _, mapped := translator.Translate(0x40000123); mapped {
		t.Error("expected huge page translation not to succeed")
	}

	if panicErr != ErrHugePage {
		t.Fatalf("expected Translate to panic with ErrHugePage; got %v", panicErr)
	}
}

func TestVisitMappings(t *testing.T) {
	mockMMU(t)

	arena := newTableArena(t, 16)
	pdt := arena.newPDT()

	for _, virt := range []uint64{0xffff800000001000, 0x2000, 0xffff800000000000, 0x1000} {
		if err := pdt.Map(page4K(virt), frame4K(virt&0xfffff), FlagPresent); err != nil {
			t.Fatal(err)
		}
	}

	type mapping struct {
		Virt  mm.VirtAddr
		Level Level
		Phys  mm.PhysAddr
	}

	var got []mapping
	translator := NewTranslator(fixedRoot(uint64(pdt.Root().StartAddress())), arena)
	translator.VisitMappings(func(addr mm.VirtAddr, level Level, pte PageTableEntry) bool {
		got = append(got, mapping{addr, level, pte.Address()})
		return true
	})

	exp := []mapping{
		{0x1000, Level1, 0x1000},
		{0x2000, Level1, 0x2000},
		{0xffff800000000000, Level1, 0x0},
		{0xffff800000001000, Level1, 0x1000},
	}

	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("unexpected mappings (-want +got):\n%s", diff)
	}

	var count int
	translator.VisitMappings(func(mm.VirtAddr, Level, PageTableEntry) bool {
		count++
		return false
	})

	if count != 1 {
		t.Fatalf("expected traversal to stop after the first mapping; visited %d", count)
	}
}
