package sim

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dylanjwolff/libafl/emu"
)

// Page is one mapped guest region with backing data and the metadata the
// self-map snapshot reports.
type Page struct {
	Addr emu.GuestAddr
	Size emu.GuestUsize
	Prot emu.MmapPerms
	Data []byte

	Path string
	Off  emu.GuestAddr
	Priv bool
}

func (p *Page) String() string {
	desc := fmt.Sprintf("0x%x-0x%x %s", p.Addr, p.Addr+p.Size, p.Prot)
	if p.Path != "" {
		desc += fmt.Sprintf(" %s", p.Path)
	}
	return desc
}

func (p *Page) Contains(addr emu.GuestAddr) bool {
	return addr >= p.Addr && addr < p.Addr+p.Size
}

// Intersect clamps (addr, size) to the page, returning the overlapping
// range; ok is false when they do not overlap.
func (p *Page) Intersect(addr emu.GuestAddr, size emu.GuestUsize) (emu.GuestAddr, emu.GuestUsize, bool) {
	start := p.Addr
	end := p.Addr + p.Size
	e2 := addr + size
	if end > e2 {
		end = e2
	}
	if start < addr {
		start = addr
	}
	return start, end - start, end > start
}

func (p *Page) Overlaps(addr emu.GuestAddr, size emu.GuestUsize) bool {
	_, _, ok := p.Intersect(addr, size)
	return ok
}

func (p *Page) slice(addr emu.GuestAddr, size emu.GuestUsize) *Page {
	o := addr - p.Addr
	return &Page{
		Addr: addr, Size: size, Prot: p.Prot,
		Data: p.Data[o : o+size],
		Path: p.Path, Off: p.Off + o, Priv: p.Priv,
	}
}

// Split cuts the page down to (addr, size), returning any pieces left
// beside the cut and zero-padding when the new range extends past the
// original.
func (p *Page) Split(addr emu.GuestAddr, size emu.GuestUsize) (left, right *Page) {
	if addr+size < p.Addr+p.Size {
		ra := addr + size
		rs := (p.Addr + p.Size) - ra
		right = p.slice(ra, rs)
		p.Data = p.Data[:ra-p.Addr]
	}
	if addr > p.Addr {
		ls := addr - p.Addr
		left = p.slice(p.Addr, ls)
		p.Data = p.Data[ls:]
	}
	if addr < p.Addr {
		extra := bytes.Repeat([]byte{0}, int(p.Addr-addr))
		p.Data = append(extra, p.Data...)
	}
	raddr, nraddr := p.Addr+p.Size, addr+size
	if nraddr > raddr {
		extra := bytes.Repeat([]byte{0}, int(nraddr-raddr))
		p.Data = append(p.Data, extra...)
	}
	p.Addr, p.Size = addr, size
	return left, right
}

func (p *Page) Write(addr emu.GuestAddr, b []byte) {
	copy(p.Data[addr-p.Addr:], b)
}

type Pages []*Page

func (p Pages) Len() int           { return len(p) }
func (p Pages) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Pages) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// bsearch returns the index of the first page containing addr, or -1.
func (p Pages) bsearch(addr emu.GuestAddr) int {
	l := 0
	r := len(p) - 1
	for l <= r {
		mid := (l + r) / 2
		e := p[mid]
		if addr >= e.Addr {
			if addr < e.Addr+e.Size {
				return mid
			}
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return -1
}

func (p Pages) Find(addr emu.GuestAddr) *Page {
	if i := p.bsearch(addr); i >= 0 {
		return p[i]
	}
	return nil
}
