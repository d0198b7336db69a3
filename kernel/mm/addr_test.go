package mm

import (
	"kestrel/kernel"
	"math/rand"
	"testing"
)

func TestNewPhysAddr(t *testing.T) {
	specs := []struct {
		input  uint64
		expErr *kernel.Error
	}{
		{0, nil},
		{0x1000, nil},
		{1<<PhysAddrBits - 1, nil},
		{1 << PhysAddrBits, ErrPhysAddrRange},
		{0xffff800000000000, ErrPhysAddrRange},
	}

	for specIndex, spec := range specs {
		addr, err := NewPhysAddr(spec.input)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			continue
		}

		if err == nil && uint64(addr) != spec.input {
			t.Errorf("[spec %d] expected address 0x%x; got 0x%x", specIndex, spec.input, uint64(addr))
		}

		if got := PhysAddrTruncate(spec.input); !got.IsValid() {
			t.Errorf("[spec %d] expected truncated address %s to be valid", specIndex, got)
		}
	}
}

func TestNewVirtAddr(t *testing.T) {
	specs := []struct {
		input     uint64
		expErr    *kernel.Error
		truncated uint64
	}{
		{0, nil, 0},
		{0x00007fffffffffff, nil, 0x00007fffffffffff},
		{0xffff800000000000, nil, 0xffff800000000000},
		{0xffffffffffffffff, nil, 0xffffffffffffffff},
		{0x0000800000000000, ErrNonCanonical, 0xffff800000000000},
		{0x1234567890abcdef, ErrNonCanonical, 0x0000567890abcdef},
	}

	for specIndex, spec := range specs {
		addr, err := NewVirtAddr(spec.input)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}

		if err == nil && uint64(addr) != spec.input {
			t.Errorf("[spec %d] expected address 0x%x; got 0x%x", specIndex, spec.input, uint64(addr))
		}

		if got := VirtAddrTruncate(spec.input); uint64(got) != spec.truncated {
			t.Errorf("[spec %d] expected truncated address 0x%x; got 0x%x", specIndex, spec.truncated, uint64(got))
		}
	}
}

func TestAlignment(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 1000; i++ {
		a := PhysAddrTruncate(rng.Uint64() >> 13)
		k := uint64(1) << uint(rng.Intn(30))

		down := a.AlignDown(k)
		if !(down <= a && uint64(a) < uint64(down)+k) {
			t.Fatalf("AlignDown(%s, 0x%x) = %s violates down <= a < down+k", a, k, down)
		}

		if !down.IsAligned(k) {
			t.Fatalf("expected %s to be aligned to 0x%x", down, k)
		}

		up, ok := a.AlignUp(k)
		if !ok {
			t.Fatalf("expected AlignUp(%s, 0x%x) to succeed", a, k)
		}

		if a.IsAligned(k) != (up == a) {
			t.Fatalf("expected AlignUp(%s, 0x%x) to be a no-op iff the address is aligned; got %s", a, k, up)
		}

		if up2, _ := down.AlignUp(k); up2 != down {
			t.Fatalf("expected AlignUp to undo AlignDown for aligned %s; got %s", down, up2)
		}
	}

	if _, ok := PhysAddr(1<<PhysAddrBits - 1).AlignUp(4096); ok {
		t.Error("expected AlignUp past the physical address width to fail")
	}

	if _, ok := VirtAddr(0x00007ffffffff001).AlignUp(4096); ok {
		t.Error("expected AlignUp into the non-canonical hole to fail")
	}

	if _, ok := VirtAddr(0xfffffffffffff001).AlignUp(4096); ok {
		t.Error("expected AlignUp that wraps around to fail")
	}
}

func TestAlignmentAssertion(t *testing.T) {
	if !AssertionsEnabled() {
		t.Skip("assertions disabled")
	}

	defer func(orig func(interface{})) { panicFn = orig }(panicFn)

	var gotErr interface{}
	panicFn = func(e interface{}) { gotErr = e }

	PhysAddr(0x1000).AlignDown(3)
	if gotErr != errBadAlignment {
		t.Fatalf("expected errBadAlignment; got %v", gotErr)
	}
}

func TestAddressArithmetic(t *testing.T) {
	t.Run("physical", func(t *testing.T) {
		specs := []struct {
			addr   PhysAddr
			n      uint64
			add    bool
			exp    PhysAddr
			expErr *kernel.Error
		}{
			{0x1000, 0x1000, true, 0x2000, nil},
			{1<<PhysAddrBits - 0x1000, 0x1000, true, 0, ErrAddrOverflow},
			{0x1000, ^uint64(0), true, 0, ErrAddrOverflow},
			{0x2000, 0x1000, false, 0x1000, nil},
			{0x1000, 0x1001, false, 0, ErrAddrUnderflow},
		}

		for specIndex, spec := range specs {
			var (
				got PhysAddr
				err *kernel.Error
			)
			if spec.add {
				got, err = spec.addr.Add(spec.n)
			} else {
				got, err = spec.addr.Sub(spec.n)
			}

			if err != spec.expErr || got != spec.exp {
				t.Errorf("[spec %d] expected (%s, %v); got (%s, %v)", specIndex, spec.exp, spec.expErr, got, err)
			}
		}
	})

	t.Run("virtual", func(t *testing.T) {
		specs := []struct {
			addr   VirtAddr
			n      uint64
			add    bool
			exp    VirtAddr
			expErr *kernel.Error
		}{
			{0x1000, 0x1000, true, 0x2000, nil},
			{0x00007ffffffff000, 0x1000, true, 0, ErrAddrOverflow},
			{0xfffffffffffff000, 0x1000, true, 0, ErrAddrOverflow},
			{0xffff800000001000, 0x1000, false, 0xffff800000000000, nil},
			{0xffff800000000000, 0x1000, false, 0, ErrAddrUnderflow},
			{0x1000, 0x2000, false, 0, ErrAddrUnderflow},
		}

		for specIndex, spec := range specs {
			var (
				got VirtAddr
				err *kernel.Error
			)
			if spec.add {
				got, err = spec.addr.Add(spec.n)
			} else {
				got, err = spec.addr.Sub(spec.n)
			}

			if err != spec.expErr || got != spec.exp {
				t.Errorf("[spec %d] expected (%s, %v); got (%s, %v)", specIndex, spec.exp, spec.expErr, got, err)
			}
		}
	})
}

func TestVirtAddrDecomposition(t *testing.T) {
	addr := VirtAddr(0xffff8000deadbeef)

	specs := []struct {
		got, exp TableIndex
	}{
		{addr.P4Index(), 256},
		{addr.P3Index(), 3},
		{addr.P2Index(), 245},
		{addr.P1Index(), 219},
	}

	for specIndex, spec := range specs {
		if spec.got != spec.exp {
			t.Errorf("[spec %d] expected index %d; got %d", specIndex, spec.exp, spec.got)
		}
	}

	if got, exp := addr.PageOffset(), PageOffset(0xeef); got != exp {
		t.Errorf("expected page offset 0x%x; got 0x%x", exp, got)
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		v := VirtAddrTruncate(rng.Uint64())
		got := VirtAddrFromParts(v.P4Index(), v.P3Index(), v.P2Index(), v.P1Index(), v.PageOffset())
		if got != v {
			t.Fatalf("expected reassembling %s to reproduce it; got %s", v, got)
		}
	}
}

func TestIndexNewtypes(t *testing.T) {
	if _, err := NewPageOffset(4095); err != nil {
		t.Errorf("expected 4095 to be a valid page offset; got %v", err)
	}

	if _, err := NewPageOffset(4096); err != ErrPageOffsetRange {
		t.Errorf("expected ErrPageOffsetRange; got %v", err)
	}

	if got := PageOffsetTruncate(0x1234); got != 0x234 {
		t.Errorf("expected truncated offset 0x234; got 0x%x", got)
	}

	if _, err := NewTableIndex(511); err != nil {
		t.Errorf("expected 511 to be a valid table index; got %v", err)
	}

	if _, err := NewTableIndex(512); err != ErrTableIndexRange {
		t.Errorf("expected ErrTableIndexRange; got %v", err)
	}

	if got := TableIndexTruncate(513); got != 1 {
		t.Errorf("expected truncated index 1; got %d", got)
	}
}

func TestAddrString(t *testing.T) {
	if got, exp := PhysAddr(0x1000).String(), "PhysAddr(0x1000)"; got != exp {
		t.Errorf("expected %q; got %q", exp, got)
	}

	if got, exp := VirtAddr(0xffff800000000000).String(), "VirtAddr(0xffff800000000000)"; got != exp {
		t.Errorf("expected %q; got %q", exp, got)
	}
}
