package ucengine

import "github.com/dylanjwolff/libafl/emu"

// Two-phase hook state. Unicorn exposes no translation callbacks, but its
// translation cache means the first execution of a site is its translation:
// generation runs on first hit and the id is cached per site.

type codeHook struct {
	handle emu.HookHandle
	fn     func(pc emu.GuestAddr)
}

type blockHook struct {
	gen  func(pc emu.GuestAddr) uint64
	exec func(id uint64)
	ids  map[emu.GuestAddr]uint64
}

func (h *blockHook) hit(pc emu.GuestAddr) {
	if h.ids == nil {
		h.ids = make(map[emu.GuestAddr]uint64)
	}
	id, ok := h.ids[pc]
	if !ok {
		id = 0
		if h.gen != nil {
			id = h.gen(pc)
		}
		h.ids[pc] = id
	}
	if id != emu.SkipExec && h.exec != nil {
		h.exec(id)
	}
}

type edgeHook struct {
	gen  func(src, dst emu.GuestAddr) uint64
	exec func(id uint64)
	ids  map[[2]emu.GuestAddr]uint64
}

func (h *edgeHook) hit(src, dst emu.GuestAddr) {
	if h.ids == nil {
		h.ids = make(map[[2]emu.GuestAddr]uint64)
	}
	key := [2]emu.GuestAddr{src, dst}
	id, ok := h.ids[key]
	if !ok {
		id = 0
		if h.gen != nil {
			id = h.gen(src, dst)
		}
		h.ids[key] = id
	}
	if id != emu.SkipExec && h.exec != nil {
		h.exec(id)
	}
}

type rwSite struct {
	pc   emu.GuestAddr
	size int
}

type rwHook struct {
	gen                        func(pc emu.GuestAddr, size int) uint64
	exec1, exec2, exec4, exec8 func(id uint64, addr emu.GuestAddr)
	execN                      func(id uint64, addr emu.GuestAddr, size int)
	ids                        map[rwSite]uint64
}

func (h *rwHook) hit(pc, addr emu.GuestAddr, size int) {
	if h.ids == nil {
		h.ids = make(map[rwSite]uint64)
	}
	key := rwSite{pc, size}
	id, ok := h.ids[key]
	if !ok {
		id = 0
		if h.gen != nil {
			id = h.gen(pc, size)
		}
		h.ids[key] = id
	}
	if id == emu.SkipExec {
		return
	}
	switch size {
	case 1:
		if h.exec1 != nil {
			h.exec1(id, addr)
		}
	case 2:
		if h.exec2 != nil {
			h.exec2(id, addr)
		}
	case 4:
		if h.exec4 != nil {
			h.exec4(id, addr)
		}
	case 8:
		if h.exec8 != nil {
			h.exec8(id, addr)
		}
	default:
		if h.execN != nil {
			h.execN(id, addr, size)
		}
	}
}
