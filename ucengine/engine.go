// Package ucengine adapts a unicorn CPU to the emu.Engine boundary for
// executing raw guest code. It carries the subset of the native contract
// unicorn can express: registers, memory, mappings, breakpoints, run, and
// block/edge/read/write hooks (generation runs at first translation of a
// site, cached per site). Comparison hooks, the thread hook, and the
// debugger channel have no unicorn equivalent and install as no-ops.
package ucengine

import (
	"encoding/binary"

	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/dylanjwolff/libafl/emu"
)

const pageSize = 0x1000

// SyscallABI describes where a trapped syscall finds its number, arguments
// and result. With no kernel behind unicorn, the pre-syscall hook is the
// syscall's only executor; its override becomes the result.
type SyscallABI struct {
	NumReg  int
	ArgRegs [8]int
	RetReg  int
}

type Config struct {
	Arch, Mode int
	Bits       uint // default 64
	NumRegs    int  // default 32
	PCReg      int
	Order      binary.ByteOrder
	Syscall    *SyscallABI
	LoadAddr   emu.GuestAddr // where the caller placed the code image
}

type Engine struct {
	u   uc.Unicorn
	cfg Config

	path     string
	loadAddr emu.GuestAddr
	brk      emu.GuestAddr
	mmapNext emu.GuestAddr

	bps map[emu.GuestAddr]uc.Hook

	nextHandle emu.HookHandle
	codeHooks  map[emu.GuestAddr][]codeHook

	blocks []*blockHook
	edges  []*edgeHook
	reads  []*rwHook
	writes []*rwHook

	prevBlock    emu.GuestAddr
	havePrev     bool
	masterHooked bool

	preSys  func(num int, args [8]uint64) emu.SyscallResult
	postSys func(ret uint64, num int, args [8]uint64) uint64
}

func New(cfg Config) (*Engine, error) {
	if cfg.Bits == 0 {
		cfg.Bits = 64
	}
	if cfg.NumRegs == 0 {
		cfg.NumRegs = 32
	}
	if cfg.Order == nil {
		cfg.Order = binary.LittleEndian
	}
	u, err := uc.NewUnicorn(cfg.Arch, cfg.Mode)
	if err != nil {
		return nil, errors.Wrap(err, "NewUnicorn() failed")
	}
	return &Engine{
		u:         u,
		cfg:       cfg,
		loadAddr:  cfg.LoadAddr,
		mmapNext:  0x70000000,
		bps:       make(map[emu.GuestAddr]uc.Hook),
		codeHooks: make(map[emu.GuestAddr][]codeHook),
	}, nil
}

func (g *Engine) Init(args, env []string) error {
	g.path = args[0]
	if g.cfg.Syscall != nil {
		abi := g.cfg.Syscall
		trap := func() {
			num, _ := g.u.RegRead(abi.NumReg)
			var sysArgs [8]uint64
			for i, r := range abi.ArgRegs {
				sysArgs[i], _ = g.u.RegRead(r)
			}
			var ret uint64
			if g.preSys != nil {
				res := g.preSys(int(num), sysArgs)
				ret = res.Retval
			}
			if g.postSys != nil {
				ret = g.postSys(ret, int(num), sysArgs)
			}
			g.u.RegWrite(abi.RetReg, ret)
		}
		// int 0x80 and friends arrive as interrupts
		_, err := g.u.HookAdd(uc.HOOK_INTR, func(_ uc.Unicorn, intno uint32) {
			trap()
		}, 1, 0)
		if err != nil {
			return errors.Wrap(err, "failed to install syscall trap")
		}
		// the 64-bit syscall instruction has its own hook point
		if g.cfg.Arch == uc.ARCH_X86 {
			_, err = g.u.HookAdd(uc.HOOK_INSN, func(_ uc.Unicorn) {
				trap()
			}, 1, 0, uc.X86_INS_SYSCALL)
			if err != nil {
				return errors.Wrap(err, "failed to install syscall insn trap")
			}
		}
	}
	return g.hookMaster()
}

// hookMaster installs the engine-wide unicorn hooks that fan out to the
// registered instrumentation families.
func (g *Engine) hookMaster() error {
	if g.masterHooked {
		return nil
	}
	g.masterHooked = true
	_, err := g.u.HookAdd(uc.HOOK_BLOCK, func(_ uc.Unicorn, addr uint64, size uint32) {
		g.onBlock(addr)
	}, 1, 0)
	if err != nil {
		return errors.Wrap(err, "failed to install block hook")
	}
	memCb := func(write bool) func(uc.Unicorn, int, uint64, int, int64) {
		return func(_ uc.Unicorn, _ int, addr uint64, size int, _ int64) {
			pc, _ := g.u.RegRead(g.cfg.PCReg)
			hooks := g.reads
			if write {
				hooks = g.writes
			}
			for _, h := range hooks {
				h.hit(pc, addr, size)
			}
		}
	}
	if _, err = g.u.HookAdd(uc.HOOK_MEM_READ, memCb(false), 1, 0); err != nil {
		return errors.Wrap(err, "failed to install read hook")
	}
	if _, err = g.u.HookAdd(uc.HOOK_MEM_WRITE, memCb(true), 1, 0); err != nil {
		return errors.Wrap(err, "failed to install write hook")
	}
	return nil
}

func (g *Engine) onBlock(pc emu.GuestAddr) {
	for _, h := range g.codeHooks[pc] {
		h.fn(pc)
	}
	for _, h := range g.blocks {
		h.hit(pc)
	}
	if g.havePrev {
		for _, h := range g.edges {
			h.hit(g.prevBlock, pc)
		}
	}
	g.prevBlock, g.havePrev = pc, true
}

func (g *Engine) BinaryPath() string          { return g.path }
func (g *Engine) LoadAddr() emu.GuestAddr     { return g.loadAddr }
func (g *Engine) ByteOrder() binary.ByteOrder { return g.cfg.Order }

// no host-linear guest window in unicorn; translation is identity
func (g *Engine) GuestBase() uint64 { return 0 }

func (g *Engine) NumRegs() int { return g.cfg.NumRegs }

func (g *Engine) RegRead(reg int) (uint64, error) {
	return g.u.RegRead(reg)
}

func (g *Engine) RegWrite(reg int, val uint64) error {
	return g.u.RegWrite(reg, val)
}

func (g *Engine) MemRead(addr emu.GuestAddr, p []byte) error {
	return g.u.MemReadInto(p, addr)
}

func (g *Engine) MemWrite(addr emu.GuestAddr, p []byte) error {
	return g.u.MemWrite(addr, p)
}

func (g *Engine) Mmap(addr emu.GuestAddr, size emu.GuestUsize, prot emu.MmapPerms, fixed bool) emu.GuestAddr {
	if size == 0 {
		return emu.BadAddr
	}
	size = (size + pageSize - 1) &^ (pageSize - 1)
	if fixed {
		// fixed replaces whatever is there
		g.u.MemUnmap(addr, size)
	} else if addr == 0 || addr&(pageSize-1) != 0 {
		addr = g.mmapNext
		g.mmapNext += size
	}
	if err := g.u.MemMapProt(addr, size, int(prot)); err != nil {
		return emu.BadAddr
	}
	return addr
}

func (g *Engine) Mprotect(addr emu.GuestAddr, size emu.GuestUsize, prot emu.MmapPerms) error {
	return g.u.MemProtect(addr, size, int(prot))
}

func (g *Engine) Munmap(addr emu.GuestAddr, size emu.GuestUsize) error {
	return g.u.MemUnmap(addr, size)
}

func (g *Engine) Brk() emu.GuestAddr           { return g.brk }
func (g *Engine) SetBrk(addr emu.GuestAddr)    { g.brk = addr }
func (g *Engine) MmapStart() emu.GuestAddr     { return g.mmapNext }
func (g *Engine) SetMmapStart(a emu.GuestAddr) { g.mmapNext = a }

func (g *Engine) SetBreakpoint(addr emu.GuestAddr) {
	if _, ok := g.bps[addr]; ok {
		return
	}
	hh, err := g.u.HookAdd(uc.HOOK_CODE, func(_ uc.Unicorn, _ uint64, _ uint32) {
		g.u.Stop()
	}, addr, addr)
	if err != nil {
		// no failure sentinel at this entry point; absorbed
		return
	}
	g.bps[addr] = hh
}

func (g *Engine) RemoveBreakpoint(addr emu.GuestAddr) {
	if hh, ok := g.bps[addr]; ok {
		g.u.HookDel(hh)
		delete(g.bps, addr)
	}
}

// FlushJIT drops the per-site generation caches so rewritten code is
// re-instrumented. The unicorn translation cache itself is managed by
// unicorn.
func (g *Engine) FlushJIT() {
	for _, h := range g.blocks {
		h.ids = nil
	}
	for _, h := range g.edges {
		h.ids = nil
	}
	for _, h := range g.reads {
		h.ids = nil
	}
	for _, h := range g.writes {
		h.ids = nil
	}
}

func (g *Engine) Run() {
	pc, err := g.u.RegRead(g.cfg.PCReg)
	if err != nil {
		return
	}
	// stops on breakpoint (u.Stop), fault, or running off the window
	g.u.Start(pc, ^uint64(0))
}

func (g *Engine) SetHook(addr emu.GuestAddr, fn func(pc emu.GuestAddr), invalidate bool) emu.HookHandle {
	g.nextHandle++
	g.codeHooks[addr] = append(g.codeHooks[addr], codeHook{handle: g.nextHandle, fn: fn})
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

// no comparison instrumentation point exists in unicorn
func (g *Engine) AddCmpHook(gen func(pc emu.GuestAddr, size int) uint64,
	exec1 func(id uint64, v0, v1 uint8),
	exec2 func(id uint64, v0, v1 uint16),
	exec4 func(id uint64, v0, v1 uint32),
	exec8 func(id uint64, v0, v1 uint64)) {
}

// unicorn surfaces no guest thread creation
func (g *Engine) SetThreadHook(fn func(tid uint32)) {}

func (g *Engine) SetPreSyscallHook(fn func(num int, args [8]uint64) emu.SyscallResult) {
	g.preSys = fn
}

func (g *Engine) SetPostSyscallHook(fn func(ret uint64, num int, args [8]uint64) uint64) {
	g.postSys = fn
}

func (g *Engine) ReadSelfMaps() interface{} {
	snap := &mapsSnap{}
	regions, err := g.u.MemRegions()
	if err == nil {
		for _, r := range regions {
			snap.entries = append(snap.entries, emu.MapInfo{
				Start: r.Begin,
				End:   r.End + 1,
				Flags: emu.MmapPerms(r.Prot),
				Priv:  true,
			})
		}
	}
	return &mapsCursor{snap: snap}
}

func (g *Engine) MapsNext(cursor interface{}) (emu.MapInfo, interface{}, bool) {
	c := cursor.(*mapsCursor)
	if c.idx >= len(c.snap.entries) {
		return emu.MapInfo{}, nil, false
	}
	return c.snap.entries[c.idx], &mapsCursor{snap: c.snap, idx: c.idx + 1}, true
}

func (g *Engine) FreeSelfMaps(snapshot interface{}) {}

// no debugger channel behind unicorn
func (g *Engine) AddGdbCmd(fn func(cmd []byte) bool) {}
func (g *Engine) GdbReply(p []byte)                  {}

type mapsSnap struct {
	entries []emu.MapInfo
}

type mapsCursor struct {
	snap *mapsSnap
	idx  int
}
