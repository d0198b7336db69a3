// Package config describes the simulated machine booted by vmsim.
//
// Machines are described in TOML. Addresses are written as strings so that
// higher-half virtual addresses, which overflow TOML's signed integers, can
// be expressed; sizes are human-readable strings such as "64MiB".
//
//	[machine]
//	ram = "64MiB"
//	phys_offset = "0xffff800000000000"
//
//	[kernel]
//	image_start = "0x100000"
//	image_end = "0x200000"
//
//	[heap]
//	start = "0xffffc00000000000"
//	size = "1MiB"
//	reserve = "4MiB"
//	grow = "100KiB"
//
//	[[mapping]]
//	virt = "0x400000"
//	phys = "0x300000"
//	pages = 4
//	flags = ["writable", "user"]
//
//	translate = ["0x400123"]
package config

import (
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"kestrel/kernel/mm"
	"kestrel/kernel/mm/vmm"
)

const (
	// DefaultPhysOffset is the virtual address at which all simulated RAM
	// is linearly mapped unless the configuration says otherwise.
	DefaultPhysOffset = mm.VirtAddr(0xffff800000000000)

	// HeapWindowStart and HeapWindowEnd delimit the virtual range from
	// which a heap is reserved when no heap start is configured.
	HeapWindowStart = mm.VirtAddr(0xffffc00000000000)
	HeapWindowEnd   = mm.VirtAddr(0xffffd00000000000)

	minRAM = 1 * units.MiB
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid machine configuration")

var flagNames = map[string]vmm.PageTableEntryFlag{
	"present":       vmm.FlagPresent,
	"writable":      vmm.FlagRW,
	"user":          vmm.FlagUserAccessible,
	"write_through": vmm.FlagWriteThroughCaching,
	"no_cache":      vmm.FlagDoNotCache,
	"global":        vmm.FlagGlobal,
	"no_execute":    vmm.FlagNoExecute,
}

// Mapping is a range of pages the boot loader maps before entering the
// kernel.
type Mapping struct {
	Virt  mm.VirtAddr
	Phys  mm.PhysAddr
	Pages uint64
	Flags vmm.PageTableEntryFlag
}

// Config is a decoded machine description.
type Config struct {
	RAM        uint64
	PhysOffset mm.VirtAddr

	KernelStart, KernelEnd mm.PhysAddr

	// HeapStart is zero if the heap should be placed by reserving a range
	// inside [HeapWindowStart, HeapWindowEnd).
	HeapStart   mm.VirtAddr
	HeapSize    uint64
	HeapReserve uint64
	HeapGrow    uint64

	Mappings  []Mapping
	Translate []mm.VirtAddr
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		RAM:         64 * units.MiB,
		PhysOffset:  DefaultPhysOffset,
		KernelStart: 0x100000,
		KernelEnd:   0x200000,
		HeapSize:    1 * units.MiB,
		HeapReserve: 4 * units.MiB,
		HeapGrow:    100 * units.KiB,
	}
}

type fileMachine struct {
	RAM        string `toml:"ram"`
	PhysOffset string `toml:"phys_offset"`
}

type fileKernel struct {
	ImageStart string `toml:"image_start"`
	ImageEnd   string `toml:"image_end"`
}

type fileHeap struct {
	Start   string `toml:"start"`
	Size    string `toml:"size"`
	Reserve string `toml:"reserve"`
	Grow    string `toml:"grow"`
}

type fileMapping struct {
	Virt  string   `toml:"virt"`
	Phys  string   `toml:"phys"`
	Pages uint64   `toml:"pages"`
	Flags []string `toml:"flags"`
}

// file mirrors the TOML layout.
type file struct {
	Machine   fileMachine   `toml:"machine"`
	Kernel    fileKernel    `toml:"kernel"`
	Heap      fileHeap      `toml:"heap"`
	Mappings  []fileMapping `toml:"mapping"`
	Translate []string      `toml:"translate"`
}

// Load reads and validates the machine description at path. Keys missing
// from the file keep their Default value.
func Load(path string) (*Config, error) {
	var f file
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q", path)
	}
	return fromFile(&f, md)
}

// Parse decodes and validates a machine description held in memory.
func Parse(data string) (*Config, error) {
	var f file
	md, err := toml.Decode(data, &f)
	if err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	return fromFile(&f, md)
}

func fromFile(f *file, md toml.MetaData) (*Config, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Wrapf(ErrInvalid, "unknown key %q", undecoded[0].String())
	}

	c := Default()
	var err error
	set := func(name, value string, parse func(string) error) {
		if err != nil || value == "" {
			return
		}
		if perr := parse(value); perr != nil {
			err = errors.Wrapf(ErrInvalid, "%s: %v", name, perr)
		}
	}

	set("machine.ram", f.Machine.RAM, sizeInto(&c.RAM))
	set("machine.phys_offset", f.Machine.PhysOffset, virtInto(&c.PhysOffset))
	set("kernel.image_start", f.Kernel.ImageStart, physInto(&c.KernelStart))
	set("kernel.image_end", f.Kernel.ImageEnd, physInto(&c.KernelEnd))
	set("heap.start", f.Heap.Start, virtInto(&c.HeapStart))
	set("heap.size", f.Heap.Size, sizeInto(&c.HeapSize))
	set("heap.reserve", f.Heap.Reserve, sizeInto(&c.HeapReserve))
	set("heap.grow", f.Heap.Grow, sizeInto(&c.HeapGrow))

	for i, fm := range f.Mappings {
		m := Mapping{Pages: fm.Pages, Flags: vmm.FlagPresent}
		set(mappingKey(i, "virt"), fm.Virt, virtInto(&m.Virt))
		set(mappingKey(i, "phys"), fm.Phys, physInto(&m.Phys))
		for _, name := range fm.Flags {
			set(mappingKey(i, "flags"), name, func(s string) error {
				flag, ok := flagNames[strings.ToLower(s)]
				if !ok {
					return errors.Errorf("unknown flag %q", s)
				}
				m.Flags |= flag
				return nil
			})
		}
		c.Mappings = append(c.Mappings, m)
	}

	for i, s := range f.Translate {
		var addr mm.VirtAddr
		set("translate["+strconv.Itoa(i)+"]", s, virtInto(&addr))
		c.Translate = append(c.Translate, addr)
	}

	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func mappingKey(i int, key string) string {
	return "mapping[" + strconv.Itoa(i) + "]." + key
}

func sizeInto(dst *uint64) func(string) error {
	return func(s string) error {
		v, err := units.RAMInBytes(s)
		if err != nil {
			return err
		}
		if v < 0 {
			return errors.Errorf("negative size %q", s)
		}
		*dst = uint64(v)
		return nil
	}
}

func physInto(dst *mm.PhysAddr) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return err
		}
		addr, kerr := mm.NewPhysAddr(v)
		if kerr != nil {
			return kerr
		}
		*dst = addr
		return nil
	}
}

func virtInto(dst *mm.VirtAddr) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return err
		}
		addr, kerr := mm.NewVirtAddr(v)
		if kerr != nil {
			return kerr
		}
		*dst = addr
		return nil
	}
}

func invalidf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalid, format, args...)
}

// Validate checks that the configuration describes a machine that can be
// booted.
func (c *Config) Validate() error {
	page := uint64(mm.PageSize)

	switch {
	case c.RAM < minRAM:
		return invalidf("ram must be at least %s", units.BytesSize(float64(minRAM)))
	case c.RAM%page != 0:
		return invalidf("ram must be a multiple of the page size")
	case !c.PhysOffset.IsAligned(page):
		return invalidf("phys_offset %s is not page-aligned", c.PhysOffset)
	}
	if _, err := c.PhysOffset.Add(c.RAM); err != nil {
		return invalidf("ram does not fit above phys_offset %s", c.PhysOffset)
	}

	if c.KernelEnd <= c.KernelStart || uint64(c.KernelEnd) > c.RAM {
		return invalidf("kernel image [%s, %s) must be non-empty and inside ram", c.KernelStart, c.KernelEnd)
	}

	switch {
	case c.HeapSize == 0 || c.HeapSize%page != 0:
		return invalidf("heap size must be a non-zero multiple of the page size")
	case c.HeapReserve%page != 0:
		return invalidf("heap reserve must be a multiple of the page size")
	case !c.HeapStart.IsAligned(page):
		return invalidf("heap start %s is not page-aligned", c.HeapStart)
	}
	if c.HeapStart != 0 {
		if _, err := c.HeapStart.Add(c.HeapSize + c.HeapReserve); err != nil {
			return invalidf("heap at %s overflows the address space", c.HeapStart)
		}
	}

	for i, m := range c.Mappings {
		switch {
		case m.Pages == 0:
			return invalidf("mapping %d maps no pages", i)
		case !m.Virt.IsAligned(page) || !m.Phys.IsAligned(page):
			return invalidf("mapping %d is not page-aligned", i)
		case uint64(m.Phys)+m.Pages*page > c.RAM:
			return invalidf("mapping %d extends past the end of ram", i)
		}
		if _, err := m.Virt.Add(m.Pages * page); err != nil {
			return invalidf("mapping %d overflows the address space", i)
		}
	}
	return nil
}
