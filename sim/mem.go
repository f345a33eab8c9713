package sim

import (
	"fmt"
	"sort"

	"github.com/dylanjwolff/libafl/emu"
)

// MemError reports an access outside, or incompatible with, the mapped
// guest ranges.
type MemError struct {
	Addr  emu.GuestAddr
	Size  int
	Prot  bool // protection violation rather than unmapped
	Write bool
}

func (m *MemError) Error() string {
	kind := "read"
	if m.Write {
		kind = "write"
	}
	reason := "unmapped"
	if m.Prot {
		reason = "protected"
	}
	return fmt.Sprintf("%s %s at %#x(%d)", reason, kind, m.Addr, m.Size)
}

// Mem is a sorted page-table memory model.
type Mem struct {
	pages Pages
}

// RangeValid reports whether (addr, size) is fully mapped, and if prot > 0,
// whether every page in the range carries the whole protection mask.
func (m *Mem) RangeValid(addr emu.GuestAddr, size emu.GuestUsize, prot emu.MmapPerms) (mapGood, protGood bool) {
	first := m.pages.bsearch(addr)
	if first == -1 {
		return false, false
	}
	protGood = true
	end := addr + size
	for _, pg := range m.pages[first:] {
		if !pg.Contains(addr) {
			break
		}
		if prot > 0 && pg.Prot&prot != prot {
			protGood = false
		}
		addr = pg.Addr + pg.Size
		if addr >= end {
			break
		}
	}
	return addr >= end, protGood
}

// Map maps (addr, size), replacing any overlap, and keeps the table sorted
// for binary search.
func (m *Mem) Map(addr emu.GuestAddr, size emu.GuestUsize, prot emu.MmapPerms, priv bool) *Page {
	data := make([]byte, size)
	if mapped, _ := m.RangeValid(addr, size, 0); mapped {
		m.Read(addr, data, 0)
	}
	m.Unmap(addr, size)
	page := &Page{Addr: addr, Size: size, Prot: prot, Data: data, Priv: priv}
	m.pages = append(m.pages, page)
	sort.Sort(m.pages)
	return page
}

// Prot re-protects every page piece overlapping (addr, size), splitting
// pages at the boundaries.
func (m *Mem) Prot(addr emu.GuestAddr, size emu.GuestUsize, prot emu.MmapPerms) {
	tmp := make(Pages, 0, len(m.pages))
	for _, pg := range m.pages {
		if oaddr, osize, ok := pg.Intersect(addr, size); ok {
			left, right := pg.Split(oaddr, osize)
			if left != nil {
				tmp = append(tmp, left)
			}
			pg.Prot = prot
			tmp = append(tmp, pg)
			if right != nil {
				tmp = append(tmp, right)
			}
		} else {
			tmp = append(tmp, pg)
		}
	}
	sort.Sort(tmp)
	m.pages = tmp
}

// Unmap removes every page piece overlapping (addr, size).
func (m *Mem) Unmap(addr emu.GuestAddr, size emu.GuestUsize) {
	tmp := make(Pages, 0, len(m.pages))
	for _, pg := range m.pages {
		if oaddr, osize, ok := pg.Intersect(addr, size); ok {
			left, right := pg.Split(oaddr, osize)
			if left != nil {
				tmp = append(tmp, left)
			}
			if right != nil {
				tmp = append(tmp, right)
			}
		} else {
			tmp = append(tmp, pg)
		}
	}
	sort.Sort(tmp)
	m.pages = tmp
}

func (m *Mem) Read(addr emu.GuestAddr, p []byte, prot emu.MmapPerms) error {
	if mapped, protGood := m.RangeValid(addr, emu.GuestUsize(len(p)), prot); !mapped {
		return &MemError{Addr: addr, Size: len(p)}
	} else if !protGood {
		return &MemError{Addr: addr, Size: len(p), Prot: true}
	}
	if i := m.pages.bsearch(addr); i >= 0 {
		for _, pg := range m.pages[i:] {
			if !pg.Contains(addr) {
				break
			}
			o := addr - pg.Addr
			n := copy(p, pg.Data[o:])
			addr, p = addr+uint64(n), p[n:]
		}
	}
	return nil
}

func (m *Mem) Write(addr emu.GuestAddr, p []byte, prot emu.MmapPerms) error {
	if mapped, protGood := m.RangeValid(addr, emu.GuestUsize(len(p)), prot); !mapped {
		return &MemError{Addr: addr, Size: len(p), Write: true}
	} else if !protGood {
		return &MemError{Addr: addr, Size: len(p), Prot: true, Write: true}
	}
	if i := m.pages.bsearch(addr); i >= 0 {
		for _, pg := range m.pages[i:] {
			if !pg.Contains(addr) {
				break
			}
			o := addr - pg.Addr
			n := copy(pg.Data[o:], p)
			addr, p = addr+uint64(n), p[n:]
		}
	}
	return nil
}

// Mappings returns the current page table, sorted by address.
func (m *Mem) Mappings() Pages {
	return m.pages
}
