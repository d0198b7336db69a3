package vmm

import (
	"kestrel/kernel/kfmt"
	"kestrel/kernel/mm"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic
)

// Translator resolves virtual addresses by walking the page tables that the
// root register currently points to.
//
// Translator performs no locking; callers must ensure that the tables are not
// modified while a translation is in progress.
type Translator struct {
	root   RootReader
	tables TableResolver
}

// NewTranslator returns a Translator that reads the root table location from
// root and accesses tables through tables.
func NewTranslator(root RootReader, tables TableResolver) *Translator {
	return &Translator{root: root, tables: tables}
}

// Translate returns the physical address that addr maps to. The second result
// is false if addr is not mapped at some level.
//
// Huge page mappings are not supported and halt the kernel with ErrHugePage.
func (t *Translator) Translate(addr mm.VirtAddr) (mm.PhysAddr, bool) {
	var (
		frame  mm.Frame4K
		mapped bool
	)

	walk(t.tables, RootFrame(t.root.ReadRoot()), addr, func(level Level, pte *PageTableEntry) bool {
		next, err := pte.Frame()
		switch err {
		case nil:
		case ErrHugePage:
			panicFn(err)
			return false
		default:
			return false
		}

		if level == Level1 {
			frame, mapped = next, true
		}
		return true
	})

	if !mapped {
		return 0, false
	}

	return frame.StartAddress() | mm.PhysAddr(addr.PageOffset()), true
}

// TranslatePage returns the frame that page maps to. The second result is
// false if the page is not mapped.
func (t *Translator) TranslatePage(page mm.Page4K) (mm.Frame4K, bool) {
	addr, ok := t.Translate(page.StartAddress())
	if !ok {
		return mm.Frame4K{}, false
	}
	return mm.FrameContaining[mm.Size4KiB](addr), true
}

// IsMapped returns true if every page overlapping [start, end) is mapped.
func (t *Translator) IsMapped(start, end mm.VirtAddr) bool {
	for page := mm.PageContaining[mm.Size4KiB](start); page.StartAddress() < end; {
		if _, ok := t.TranslatePage(page); !ok {
			return false
		}

		next, ok := page.Next()
		if !ok {
			break
		}
		page = next
	}
	return true
}

// VisitMappings invokes fn for every present leaf or huge page entry in the
// active tables, in ascending virtual address order. Returning false from fn
// stops the traversal.
func (t *Translator) VisitMappings(fn func(addr mm.VirtAddr, level Level, pte PageTableEntry) bool) {
	visit(t.tables, RootFrame(t.root.ReadRoot()), fn)
}
