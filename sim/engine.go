// Package sim is a pure-Go execution engine implementing emu.Engine: a
// page-table memory model, a flat register file, and a scripted execution
// trace dispatched through the two-phase hook protocol. It backs tests and
// harness development; it interprets no instructions.
package sim

import (
	"bytes"
	"encoding/binary"

	log "github.com/sirupsen/logrus"

	"github.com/dylanjwolff/libafl/emu"
)

const pageSize = 0x1000

// Config sets up the simulated guest. Zero values get defaults.
type Config struct {
	Bits      uint   // guest address width, default 64
	NumRegs   int    // default 32
	GuestBase uint64 // host address of guest 0, default 0x7f7e00000000
	LoadAddr  emu.GuestAddr
	MmapStart emu.GuestAddr // placement cursor for hint-less mappings
	Order     binary.ByteOrder
}

// Stats counts native-layer activity for instrumented tests.
type Stats struct {
	Snapshots      int
	SnapshotsFreed int

	EdgeGen  int
	BlockGen int
	ReadGen  int
	WriteGen int
	CmpGen   int
}

// Engine simulates the native guest context. Setup (hook installation,
// scripting) is single-threaded, as the real engine requires.
type Engine struct {
	Stats Stats

	cfg  Config
	mem  Mem
	regs *Regs

	initialized bool
	path        string
	args, env   []string

	brk      emu.GuestAddr
	mmapNext emu.GuestAddr

	breakpoints map[emu.GuestAddr]struct{}

	nextHandle emu.HookHandle
	codeHooks  map[emu.GuestAddr][]*codeHook
	edges      []*edgeHook
	blocks     []*blockHook
	reads      []*rwHook
	writes     []*rwHook
	cmps       []*cmpHook

	threadHook func(tid uint32)
	preSys     func(num int, args [8]uint64) emu.SyscallResult
	postSys    func(ret uint64, num int, args [8]uint64) uint64

	script  []event
	cursor  int
	resumed bool
	stopped bool
	stopPC  emu.GuestAddr
	sysRets []uint64

	gdbCmds []func(cmd []byte) bool
	gdbOut  bytes.Buffer
}

func NewEngine(cfg Config) *Engine {
	if cfg.Bits == 0 {
		cfg.Bits = 64
	}
	if cfg.NumRegs == 0 {
		cfg.NumRegs = 32
	}
	if cfg.GuestBase == 0 {
		cfg.GuestBase = 0x7f7e00000000
	}
	if cfg.LoadAddr == 0 {
		cfg.LoadAddr = 0x400000
	}
	if cfg.MmapStart == 0 {
		cfg.MmapStart = 0x70000000
	}
	if cfg.Order == nil {
		cfg.Order = binary.LittleEndian
	}
	return &Engine{
		cfg:         cfg,
		regs:        NewRegs(cfg.Bits, cfg.NumRegs),
		breakpoints: make(map[emu.GuestAddr]struct{}),
		codeHooks:   make(map[emu.GuestAddr][]*codeHook),
		brk:         cfg.LoadAddr + 0x100000,
		mmapNext:    cfg.MmapStart,
	}
}

func (g *Engine) Init(args, env []string) error {
	if g.initialized {
		return errAlreadyInitialized
	}
	g.initialized = true
	g.path = args[0]
	g.args, g.env = args, env
	log.WithFields(log.Fields{"path": g.path, "args": len(args)}).Debug("sim: guest initialized")
	return nil
}

func (g *Engine) BinaryPath() string            { return g.path }
func (g *Engine) LoadAddr() emu.GuestAddr       { return g.cfg.LoadAddr }
func (g *Engine) ByteOrder() binary.ByteOrder   { return g.cfg.Order }
func (g *Engine) GuestBase() uint64             { return g.cfg.GuestBase }
func (g *Engine) NumRegs() int                  { return len(g.regs.vals) }
func (g *Engine) Brk() emu.GuestAddr            { return g.brk }
func (g *Engine) SetBrk(addr emu.GuestAddr)     { g.brk = addr }
func (g *Engine) MmapStart() emu.GuestAddr      { return g.mmapNext }
func (g *Engine) SetMmapStart(a emu.GuestAddr)  { g.mmapNext = a }

func (g *Engine) RegRead(reg int) (uint64, error) {
	return g.regs.RegRead(reg)
}

func (g *Engine) RegWrite(reg int, val uint64) error {
	return g.regs.RegWrite(reg, val)
}

// MemRead and MemWrite ignore guest protections: they are the controller's
// view, equivalent to host access through the guest base.
func (g *Engine) MemRead(addr emu.GuestAddr, p []byte) error {
	return g.mem.Read(addr, p, 0)
}

func (g *Engine) MemWrite(addr emu.GuestAddr, p []byte) error {
	return g.mem.Write(addr, p, 0)
}

func (g *Engine) mask() uint64 {
	return ^uint64(0) >> (64 - g.cfg.Bits)
}

func (g *Engine) overlaps(addr emu.GuestAddr, size emu.GuestUsize) bool {
	for _, pg := range g.mem.Mappings() {
		if pg.Overlaps(addr, size) {
			return true
		}
	}
	return false
}

func (g *Engine) Mmap(addr emu.GuestAddr, size emu.GuestUsize, prot emu.MmapPerms, fixed bool) emu.GuestAddr {
	if size == 0 {
		return emu.BadAddr
	}
	size = (size + pageSize - 1) &^ (pageSize - 1)
	if fixed {
		if addr&(pageSize-1) != 0 {
			return emu.BadAddr
		}
	} else if addr == 0 || addr&(pageSize-1) != 0 || g.overlaps(addr, size) {
		addr = g.mmapNext
		g.mmapNext += size
	}
	if addr+size-1 > g.mask() || addr+size < addr {
		return emu.BadAddr
	}
	g.mem.Map(addr, size, prot, true)
	log.WithFields(log.Fields{"addr": addr, "size": size, "prot": prot.String()}).Debug("sim: mapped guest region")
	return addr
}

func (g *Engine) Mprotect(addr emu.GuestAddr, size emu.GuestUsize, prot emu.MmapPerms) error {
	if mapped, _ := g.mem.RangeValid(addr, size, 0); !mapped {
		return &MemError{Addr: addr, Size: int(size)}
	}
	g.mem.Prot(addr, size, prot)
	return nil
}

func (g *Engine) Munmap(addr emu.GuestAddr, size emu.GuestUsize) error {
	if mapped, _ := g.mem.RangeValid(addr, size, 0); !mapped {
		return &MemError{Addr: addr, Size: int(size)}
	}
	g.mem.Unmap(addr, size)
	return nil
}

func (g *Engine) SetBreakpoint(addr emu.GuestAddr) {
	g.breakpoints[addr] = struct{}{}
}

func (g *Engine) RemoveBreakpoint(addr emu.GuestAddr) {
	delete(g.breakpoints, addr)
}

// FlushJIT drops every cached translation: all generation caches clear, so
// the next execution of each site re-runs its generation callback.
func (g *Engine) FlushJIT() {
	for _, h := range g.edges {
		h.ids = nil
	}
	for _, h := range g.blocks {
		h.ids = nil
	}
	for _, h := range g.reads {
		h.ids = nil
	}
	for _, h := range g.writes {
		h.ids = nil
	}
	for _, h := range g.cmps {
		h.ids = nil
	}
}

func (g *Engine) SetHook(addr emu.GuestAddr, fn func(pc emu.GuestAddr), invalidate bool) emu.HookHandle {
	g.nextHandle++
	g.codeHooks[addr] = append(g.codeHooks[addr], &codeHook{handle: g.nextHandle, fn: fn})
	return g.nextHandle
}

func (g *Engine) RemoveHooksAt(addr emu.GuestAddr, invalidate bool) int {
	n := len(g.codeHooks[addr])
	delete(g.codeHooks, addr)
	return n
}

func (g *Engine) AddEdgeHook(gen func(src, dst emu.GuestAddr) uint64, exec func(id uint64)) {
	g.edges = append(g.edges, &edgeHook{gen: gen, exec: exec})
}

func (g *Engine) AddBlockHook(gen func(pc emu.GuestAddr) uint64, exec func(id uint64)) {
	g.blocks = append(g.blocks, &blockHook{gen: gen, exec: exec})
}

func (g *Engine) AddReadHook(gen func(pc emu.GuestAddr, size int) uint64,
	exec1, exec2, exec4, exec8 func(id uint64, addr emu.GuestAddr),
	execN func(id uint64, addr emu.GuestAddr, size int)) {
	g.reads = append(g.reads, &rwHook{
		gen: gen, exec1: exec1, exec2: exec2, exec4: exec4, exec8: exec8, execN: execN,
	})
}

func (g *Engine) AddWriteHook(gen func(pc emu.GuestAddr, size int) uint64,
	exec1, exec2, exec4, exec8 func(id uint64, addr emu.GuestAddr),
	execN func(id uint64, addr emu.GuestAddr, size int)) {
	g.writes = append(g.writes, &rwHook{
		gen: gen, exec1: exec1, exec2: exec2, exec4: exec4, exec8: exec8, execN: execN,
	})
}

func (g *Engine) AddCmpHook(gen func(pc emu.GuestAddr, size int) uint64,
	exec1 func(id uint64, v0, v1 uint8),
	exec2 func(id uint64, v0, v1 uint16),
	exec4 func(id uint64, v0, v1 uint32),
	exec8 func(id uint64, v0, v1 uint64)) {
	g.cmps = append(g.cmps, &cmpHook{
		gen: gen, exec1: exec1, exec2: exec2, exec4: exec4, exec8: exec8,
	})
}

func (g *Engine) SetThreadHook(fn func(tid uint32)) {
	g.threadHook = fn
}

func (g *Engine) SetPreSyscallHook(fn func(num int, args [8]uint64) emu.SyscallResult) {
	g.preSys = fn
}

func (g *Engine) SetPostSyscallHook(fn func(ret uint64, num int, args [8]uint64) uint64) {
	g.postSys = fn
}

func (g *Engine) AddGdbCmd(fn func(cmd []byte) bool) {
	g.gdbCmds = append(g.gdbCmds, fn)
}

func (g *Engine) GdbReply(p []byte) {
	g.gdbOut.Write(p)
}

// DispatchGdb feeds a debugger command through the registered trampolines,
// most recent first, and reports whether any accepted it.
func (g *Engine) DispatchGdb(cmd string) bool {
	for i := len(g.gdbCmds) - 1; i >= 0; i-- {
		if g.gdbCmds[i]([]byte(cmd)) {
			return true
		}
	}
	return false
}

// GdbOutput returns everything sent through GdbReply.
func (g *Engine) GdbOutput() []byte {
	return g.gdbOut.Bytes()
}

// StoppedAt reports the breakpoint the last Run paused at, if any.
func (g *Engine) StoppedAt() (emu.GuestAddr, bool) {
	return g.stopPC, g.stopped
}

// SyscallReturns lists the final result of every scripted syscall, after
// pre-hook overrides and post-hook transforms.
func (g *Engine) SyscallReturns() []uint64 {
	return g.sysRets
}
