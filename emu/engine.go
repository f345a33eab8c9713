package emu

import "encoding/binary"

// GuestAddr is a guest virtual address. Targets here are address-width 64;
// narrower targets mask in the engine.
type GuestAddr = uint64

// GuestUsize is an address-sized guest quantity (lengths, counts).
type GuestUsize = uint64

// SkipExec is returned by a generation callback to leave a candidate site
// uninstrumented. The execution callback will never fire for that site.
const SkipExec = ^uint64(0)

// BadAddr is the engine's mapping failure sentinel. The native mmap
// primitive returns the distinguished invalid address on failure, not zero;
// guest address 0 is mappable.
const BadAddr = ^GuestAddr(0)

// HookHandle identifies an address-keyed code hook. It is opaque and only
// meaningful to the engine that issued it; removal is by address and clears
// every hook installed there.
type HookHandle uint64

// SyscallResult is returned by a pre-syscall hook. If Skip is set the
// syscall is suppressed and Retval is used as its result.
type SyscallResult struct {
	Retval uint64
	Skip   bool
}

// SyscallOverride suppresses the syscall and substitutes retval.
func SyscallOverride(retval uint64) SyscallResult {
	return SyscallResult{Retval: retval, Skip: true}
}

// SyscallPassthrough lets the syscall execute normally.
func SyscallPassthrough() SyscallResult {
	return SyscallResult{}
}

// Engine is the fixed entry-point surface of the native execution engine.
// Every operation of the Emulator funnels through exactly one of these
// capabilities; none of them are reimplemented on this side of the
// boundary. Generation callbacks run once per candidate site during
// translation and return a correlation id or SkipExec; execution callbacks
// run on every dynamic hit with that id. Hook install/remove entry points
// have no failure path.
type Engine interface {
	// Init starts the guest process context. Called exactly once, by New.
	Init(args, env []string) error

	BinaryPath() string
	LoadAddr() GuestAddr
	ByteOrder() binary.ByteOrder

	// GuestBase is the host address of guest address 0. Engines without a
	// host-linear guest window report 0.
	GuestBase() uint64

	NumRegs() int
	RegRead(reg int) (uint64, error)
	RegWrite(reg int, val uint64) error

	MemRead(addr GuestAddr, p []byte) error
	MemWrite(addr GuestAddr, p []byte) error

	// Mmap returns BadAddr on failure.
	Mmap(addr GuestAddr, size GuestUsize, prot MmapPerms, fixed bool) GuestAddr
	Mprotect(addr GuestAddr, size GuestUsize, prot MmapPerms) error
	Munmap(addr GuestAddr, size GuestUsize) error

	Brk() GuestAddr
	SetBrk(addr GuestAddr)
	MmapStart() GuestAddr
	SetMmapStart(addr GuestAddr)

	// breakpoint failures have no sentinel and are absorbed
	SetBreakpoint(addr GuestAddr)
	RemoveBreakpoint(addr GuestAddr)

	// FlushJIT invalidates all translated code, forcing re-translation (and
	// re-generation of hook sites) on next execution.
	FlushJIT()

	// Run transfers control to the guest until a breakpoint, a hook-driven
	// exit, or guest termination. May never return.
	Run()

	SetHook(addr GuestAddr, fn func(pc GuestAddr), invalidate bool) HookHandle
	RemoveHooksAt(addr GuestAddr, invalidate bool) int

	AddEdgeHook(gen func(src, dst GuestAddr) uint64, exec func(id uint64))
	AddBlockHook(gen func(pc GuestAddr) uint64, exec func(id uint64))
	AddReadHook(gen func(pc GuestAddr, size int) uint64,
		exec1, exec2, exec4, exec8 func(id uint64, addr GuestAddr),
		execN func(id uint64, addr GuestAddr, size int))
	AddWriteHook(gen func(pc GuestAddr, size int) uint64,
		exec1, exec2, exec4, exec8 func(id uint64, addr GuestAddr),
		execN func(id uint64, addr GuestAddr, size int))
	AddCmpHook(gen func(pc GuestAddr, size int) uint64,
		exec1 func(id uint64, v0, v1 uint8),
		exec2 func(id uint64, v0, v1 uint16),
		exec4 func(id uint64, v0, v1 uint32),
		exec8 func(id uint64, v0, v1 uint64))

	// single-slot event hooks: installing replaces the previous hook
	SetThreadHook(fn func(tid uint32))
	SetPreSyscallHook(fn func(num int, args [8]uint64) SyscallResult)
	SetPostSyscallHook(fn func(ret uint64, num int, args [8]uint64) uint64)

	// self-map snapshot protocol. ReadSelfMaps returns an opaque handle
	// which doubles as the first cursor. MapsNext returns the entry at the
	// cursor and the advanced cursor; ok is false once the cursor is
	// exhausted. FreeSelfMaps releases the snapshot.
	ReadSelfMaps() interface{}
	MapsNext(cursor interface{}) (mi MapInfo, next interface{}, ok bool)
	FreeSelfMaps(snapshot interface{})

	// AddGdbCmd registers a debugger-command trampoline. The cmd buffer is
	// only valid for the duration of the call.
	AddGdbCmd(fn func(cmd []byte) bool)
	GdbReply(p []byte)
}
