// Package emu manages the process-wide guest execution context of a
// dynamic-binary-analysis fuzzing harness. It translates between guest and
// host address spaces, reads and modifies guest registers and memory,
// manages guest mappings and breakpoints, and registers the instrumentation
// hooks the execution engine invokes during guest execution.
package emu

import (
	"sync"
)

var (
	emuMu sync.Mutex
	live  *Emulator
)

// Emulator is the handle to the single guest execution context of this
// process. At most one may ever be constructed; a second New aborts.
type Emulator struct {
	eng  Engine
	base uint64
}

// New initializes the execution engine and returns the process-wide
// Emulator. args must be non-empty (args[0] is the guest binary); env
// entries are "KEY=VALUE" strings. A second construction attempt, or an
// engine init failure, is fatal misuse and panics.
func New(eng Engine, args, env []string) *Emulator {
	emuMu.Lock()
	defer emuMu.Unlock()
	if live != nil {
		panic("emu: only one Emulator is permitted per process")
	}
	if len(args) == 0 {
		panic("emu: args must not be empty")
	}
	if err := eng.Init(args, env); err != nil {
		panic("emu: engine init failed: " + err.Error())
	}
	live = &Emulator{eng: eng, base: eng.GuestBase()}
	return live
}

// Existing returns a handle to the already-initialized singleton state. It
// performs no initialization and is the cheap re-entry path for hook and
// debugger-command context. Calling it before New panics.
func Existing() *Emulator {
	emuMu.Lock()
	defer emuMu.Unlock()
	if live == nil {
		panic("emu: Existing called before New")
	}
	return live
}

// G2H translates a guest address to its host address: a pure offset by the
// base captured at construction. Unchecked; the caller guarantees addr is
// mapped.
func (e *Emulator) G2H(addr GuestAddr) uint64 {
	return e.base + addr
}

// H2G translates a host address back to the guest address space. Unchecked,
// like G2H.
func (e *Emulator) H2G(host uint64) GuestAddr {
	return host - e.base
}

// ReadMem reads len(p) bytes of guest memory at addr.
func (e *Emulator) ReadMem(addr GuestAddr, p []byte) error {
	return e.eng.MemRead(addr, p)
}

// WriteMem writes p to guest memory at addr.
func (e *Emulator) WriteMem(addr GuestAddr, p []byte) error {
	return e.eng.MemWrite(addr, p)
}

func (e *Emulator) NumRegs() int {
	return e.eng.NumRegs()
}

// RegRead reads an address-width register by index.
func (e *Emulator) RegRead(reg int) (uint64, error) {
	val, err := e.eng.RegRead(reg)
	if err != nil {
		return 0, &RegError{Reg: reg, Cause: err}
	}
	return val, nil
}

// RegWrite writes an address-width register by index.
func (e *Emulator) RegWrite(reg int, val uint64) error {
	if err := e.eng.RegWrite(reg, val); err != nil {
		return &RegError{Reg: reg, Write: true, Cause: err}
	}
	return nil
}

// SetBreakpoint installs a breakpoint at a guest address. Native failures
// are absorbed; verify side effects independently when assurance matters.
func (e *Emulator) SetBreakpoint(addr GuestAddr) {
	e.eng.SetBreakpoint(addr)
}

// RemoveBreakpoint removes a breakpoint. Failures are absorbed.
func (e *Emulator) RemoveBreakpoint(addr GuestAddr) {
	e.eng.RemoveBreakpoint(addr)
}

// Run transfers control to the guest until the next breakpoint, a
// hook-driven exit, or guest termination. It blocks for a guest-determined
// duration and may never return.
func (e *Emulator) Run() {
	e.eng.Run()
}

// MapPrivate maps size bytes of anonymous private guest memory. addr is a
// hint; the placed address is returned.
func (e *Emulator) MapPrivate(addr GuestAddr, size GuestUsize, perms MmapPerms) (GuestAddr, error) {
	ret := e.eng.Mmap(addr, size, perms, false)
	if ret == BadAddr {
		return 0, &MapError{Addr: addr, Op: "map"}
	}
	return ret, nil
}

// MapFixed maps size bytes at exactly addr, replacing existing mappings.
func (e *Emulator) MapFixed(addr GuestAddr, size GuestUsize, perms MmapPerms) (GuestAddr, error) {
	ret := e.eng.Mmap(addr, size, perms, true)
	if ret == BadAddr {
		return 0, &MapError{Addr: addr, Op: "map"}
	}
	return ret, nil
}

// Mprotect changes the protection of an existing range.
func (e *Emulator) Mprotect(addr GuestAddr, size GuestUsize, perms MmapPerms) error {
	if err := e.eng.Mprotect(addr, size, perms); err != nil {
		return &MapError{Addr: addr, Op: "mprotect", Cause: err}
	}
	return nil
}

// Unmap removes a guest mapping.
func (e *Emulator) Unmap(addr GuestAddr, size GuestUsize) error {
	if err := e.eng.Munmap(addr, size); err != nil {
		return &MapError{Addr: addr, Op: "unmap", Cause: err}
	}
	return nil
}

// FlushJIT invalidates all cached translated code. Required whenever
// already-translated guest code is rewritten.
func (e *Emulator) FlushJIT() {
	e.eng.FlushJIT()
}

// Mappings takes a fresh snapshot of the guest mapping table and returns a
// single-pass iterator over it.
func (e *Emulator) Mappings() *GuestMaps {
	return newGuestMaps(e.eng)
}

func (e *Emulator) BinaryPath() string {
	return e.eng.BinaryPath()
}

func (e *Emulator) LoadAddr() GuestAddr {
	return e.eng.LoadAddr()
}

func (e *Emulator) Brk() GuestAddr {
	return e.eng.Brk()
}

func (e *Emulator) SetBrk(addr GuestAddr) {
	e.eng.SetBrk(addr)
}

func (e *Emulator) MmapStart() GuestAddr {
	return e.eng.MmapStart()
}

func (e *Emulator) SetMmapStart(addr GuestAddr) {
	e.eng.SetMmapStart(addr)
}
