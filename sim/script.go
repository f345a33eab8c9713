package sim

import (
	"github.com/pkg/errors"

	"github.com/dylanjwolff/libafl/emu"
)

var errAlreadyInitialized = errors.New("sim: engine already initialized")

type codeHook struct {
	handle emu.HookHandle
	fn     func(pc emu.GuestAddr)
}

type edgeHook struct {
	gen  func(src, dst emu.GuestAddr) uint64
	exec func(id uint64)
	ids  map[[2]emu.GuestAddr]uint64
}

type blockHook struct {
	gen  func(pc emu.GuestAddr) uint64
	exec func(id uint64)
	ids  map[emu.GuestAddr]uint64
}

type siteKey struct {
	pc   emu.GuestAddr
	size int
}

type rwHook struct {
	gen                        func(pc emu.GuestAddr, size int) uint64
	exec1, exec2, exec4, exec8 func(id uint64, addr emu.GuestAddr)
	execN                      func(id uint64, addr emu.GuestAddr, size int)
	ids                        map[siteKey]uint64
}

type cmpHook struct {
	gen   func(pc emu.GuestAddr, size int) uint64
	exec1 func(id uint64, v0, v1 uint8)
	exec2 func(id uint64, v0, v1 uint16)
	exec4 func(id uint64, v0, v1 uint32)
	exec8 func(id uint64, v0, v1 uint64)
	ids   map[siteKey]uint64
}

type eventKind int

const (
	evBlock eventKind = iota
	evEdge
	evRead
	evWrite
	evCmp
	evSyscall
	evThread
)

type event struct {
	kind     eventKind
	pc       emu.GuestAddr
	src, dst emu.GuestAddr
	addr     emu.GuestAddr
	size     int
	v0, v1   uint64
	num      int
	args     [8]uint64
	ret      uint64
	tid      uint32
}

// The sim interprets no instructions; the guest's dynamic behavior is a
// queued script of execution events. Run drains the queue, pausing before
// any block whose pc carries a breakpoint; a further Run resumes past it.

func (g *Engine) QueueBlock(pc emu.GuestAddr) {
	g.script = append(g.script, event{kind: evBlock, pc: pc})
}

func (g *Engine) QueueEdge(src, dst emu.GuestAddr) {
	g.script = append(g.script, event{kind: evEdge, src: src, dst: dst})
}

func (g *Engine) QueueRead(pc, addr emu.GuestAddr, size int) {
	g.script = append(g.script, event{kind: evRead, pc: pc, addr: addr, size: size})
}

func (g *Engine) QueueWrite(pc, addr emu.GuestAddr, size int) {
	g.script = append(g.script, event{kind: evWrite, pc: pc, addr: addr, size: size})
}

func (g *Engine) QueueCmp(pc emu.GuestAddr, size int, v0, v1 uint64) {
	g.script = append(g.script, event{kind: evCmp, pc: pc, size: size, v0: v0, v1: v1})
}

// QueueSyscall scripts a syscall whose natural (un-hooked) result is ret.
func (g *Engine) QueueSyscall(num int, ret uint64, args ...uint64) {
	ev := event{kind: evSyscall, num: num, ret: ret}
	copy(ev.args[:], args)
	g.script = append(g.script, ev)
}

func (g *Engine) QueueThread(tid uint32) {
	g.script = append(g.script, event{kind: evThread, tid: tid})
}

func (g *Engine) Run() {
	g.stopped = false
	for g.cursor < len(g.script) {
		ev := g.script[g.cursor]
		if ev.kind == evBlock && !g.resumed {
			if _, ok := g.breakpoints[ev.pc]; ok {
				g.stopped, g.stopPC, g.resumed = true, ev.pc, true
				return
			}
		}
		g.resumed = false
		g.cursor++
		g.dispatch(ev)
	}
}

func (g *Engine) dispatch(ev event) {
	switch ev.kind {
	case evBlock:
		for _, h := range g.codeHooks[ev.pc] {
			h.fn(ev.pc)
		}
		for _, h := range g.blocks {
			if h.ids == nil {
				h.ids = make(map[emu.GuestAddr]uint64)
			}
			id, ok := h.ids[ev.pc]
			if !ok {
				id = 0
				if h.gen != nil {
					g.Stats.BlockGen++
					id = h.gen(ev.pc)
				}
				h.ids[ev.pc] = id
			}
			if id != emu.SkipExec && h.exec != nil {
				h.exec(id)
			}
		}

	case evEdge:
		for _, h := range g.edges {
			if h.ids == nil {
				h.ids = make(map[[2]emu.GuestAddr]uint64)
			}
			key := [2]emu.GuestAddr{ev.src, ev.dst}
			id, ok := h.ids[key]
			if !ok {
				id = 0
				if h.gen != nil {
					g.Stats.EdgeGen++
					id = h.gen(ev.src, ev.dst)
				}
				h.ids[key] = id
			}
			if id != emu.SkipExec && h.exec != nil {
				h.exec(id)
			}
		}

	case evRead:
		for _, h := range g.reads {
			g.Stats.ReadGen += h.hit(g, ev)
		}

	case evWrite:
		for _, h := range g.writes {
			g.Stats.WriteGen += h.hit(g, ev)
		}

	case evCmp:
		for _, h := range g.cmps {
			if h.ids == nil {
				h.ids = make(map[siteKey]uint64)
			}
			key := siteKey{ev.pc, ev.size}
			id, ok := h.ids[key]
			if !ok {
				id = 0
				if h.gen != nil {
					g.Stats.CmpGen++
					id = h.gen(ev.pc, ev.size)
				}
				h.ids[key] = id
			}
			if id == emu.SkipExec {
				continue
			}
			switch ev.size {
			case 1:
				if h.exec1 != nil {
					h.exec1(id, uint8(ev.v0), uint8(ev.v1))
				}
			case 2:
				if h.exec2 != nil {
					h.exec2(id, uint16(ev.v0), uint16(ev.v1))
				}
			case 4:
				if h.exec4 != nil {
					h.exec4(id, uint32(ev.v0), uint32(ev.v1))
				}
			case 8:
				if h.exec8 != nil {
					h.exec8(id, ev.v0, ev.v1)
				}
			}
		}

	case evSyscall:
		res := emu.SyscallPassthrough()
		if g.preSys != nil {
			res = g.preSys(ev.num, ev.args)
		}
		ret := ev.ret
		if res.Skip {
			ret = res.Retval
		}
		if g.postSys != nil {
			ret = g.postSys(ret, ev.num, ev.args)
		}
		g.sysRets = append(g.sysRets, ret)

	case evThread:
		if g.threadHook != nil {
			g.threadHook(ev.tid)
		}
	}
}

// hit runs the two-phase protocol for one access event, returning how many
// generation calls it made.
func (h *rwHook) hit(g *Engine, ev event) int {
	gens := 0
	if h.ids == nil {
		h.ids = make(map[siteKey]uint64)
	}
	key := siteKey{ev.pc, ev.size}
	id, ok := h.ids[key]
	if !ok {
		id = 0
		if h.gen != nil {
			gens++
			id = h.gen(ev.pc, ev.size)
		}
		h.ids[key] = id
	}
	if id == emu.SkipExec {
		return gens
	}
	switch ev.size {
	case 1:
		if h.exec1 != nil {
			h.exec1(id, ev.addr)
		}
	case 2:
		if h.exec2 != nil {
			h.exec2(id, ev.addr)
		}
	case 4:
		if h.exec4 != nil {
			h.exec4(id, ev.addr)
		}
	case 8:
		if h.exec8 != nil {
			h.exec8(id, ev.addr)
		}
	default:
		if h.execN != nil {
			h.execN(id, ev.addr, ev.size)
		}
	}
	return gens
}
