package emu

// Hook registration. Each code/access family follows a two-phase protocol:
// the generation callback runs once per candidate site during translation
// and returns a correlation id (or SkipExec to leave the site alone); the
// execution callback runs on every dynamic hit with that id. Memory and
// comparison hooks are size-specialized for the 1/2/4/8 byte widths plus a
// size-generic fallback for memory access.
//
// Callbacks execute synchronously on whatever native thread drives guest
// execution. State they share with the controller needs the usual
// cross-thread discipline. A nil callback leaves that slot empty.

// AddEdgeHooks instruments branch edges.
func (e *Emulator) AddEdgeHooks(
	gen func(e *Emulator, src, dst GuestAddr) uint64,
	exec func(e *Emulator, id uint64),
) {
	var g func(src, dst GuestAddr) uint64
	if gen != nil {
		g = func(src, dst GuestAddr) uint64 { return gen(e, src, dst) }
	}
	var x func(id uint64)
	if exec != nil {
		x = func(id uint64) { exec(e, id) }
	}
	e.eng.AddEdgeHook(g, x)
}

// AddBlockHooks instruments basic blocks.
func (e *Emulator) AddBlockHooks(
	gen func(e *Emulator, pc GuestAddr) uint64,
	exec func(e *Emulator, id uint64),
) {
	var g func(pc GuestAddr) uint64
	if gen != nil {
		g = func(pc GuestAddr) uint64 { return gen(e, pc) }
	}
	var x func(id uint64)
	if exec != nil {
		x = func(id uint64) { exec(e, id) }
	}
	e.eng.AddBlockHook(g, x)
}

// AddReadHooks instruments memory reads. exec1/2/4/8 fire for fixed-width
// accesses, execN for everything else.
func (e *Emulator) AddReadHooks(
	gen func(e *Emulator, pc GuestAddr, size int) uint64,
	exec1, exec2, exec4, exec8 func(e *Emulator, id uint64, addr GuestAddr),
	execN func(e *Emulator, id uint64, addr GuestAddr, size int),
) {
	g, x1, x2, x4, x8, xn := e.wrapMemHooks(gen, exec1, exec2, exec4, exec8, execN)
	e.eng.AddReadHook(g, x1, x2, x4, x8, xn)
}

// AddWriteHooks instruments memory writes, like AddReadHooks.
func (e *Emulator) AddWriteHooks(
	gen func(e *Emulator, pc GuestAddr, size int) uint64,
	exec1, exec2, exec4, exec8 func(e *Emulator, id uint64, addr GuestAddr),
	execN func(e *Emulator, id uint64, addr GuestAddr, size int),
) {
	g, x1, x2, x4, x8, xn := e.wrapMemHooks(gen, exec1, exec2, exec4, exec8, execN)
	e.eng.AddWriteHook(g, x1, x2, x4, x8, xn)
}

func (e *Emulator) wrapMemHooks(
	gen func(e *Emulator, pc GuestAddr, size int) uint64,
	exec1, exec2, exec4, exec8 func(e *Emulator, id uint64, addr GuestAddr),
	execN func(e *Emulator, id uint64, addr GuestAddr, size int),
) (
	g func(pc GuestAddr, size int) uint64,
	x1, x2, x4, x8 func(id uint64, addr GuestAddr),
	xn func(id uint64, addr GuestAddr, size int),
) {
	if gen != nil {
		g = func(pc GuestAddr, size int) uint64 { return gen(e, pc, size) }
	}
	wrap := func(fn func(e *Emulator, id uint64, addr GuestAddr)) func(id uint64, addr GuestAddr) {
		if fn == nil {
			return nil
		}
		return func(id uint64, addr GuestAddr) { fn(e, id, addr) }
	}
	x1, x2, x4, x8 = wrap(exec1), wrap(exec2), wrap(exec4), wrap(exec8)
	if execN != nil {
		xn = func(id uint64, addr GuestAddr, size int) { execN(e, id, addr, size) }
	}
	return
}

// AddCmpHooks instruments comparison instructions with the two operand
// values, size-specialized.
func (e *Emulator) AddCmpHooks(
	gen func(e *Emulator, pc GuestAddr, size int) uint64,
	exec1 func(e *Emulator, id uint64, v0, v1 uint8),
	exec2 func(e *Emulator, id uint64, v0, v1 uint16),
	exec4 func(e *Emulator, id uint64, v0, v1 uint32),
	exec8 func(e *Emulator, id uint64, v0, v1 uint64),
) {
	var g func(pc GuestAddr, size int) uint64
	if gen != nil {
		g = func(pc GuestAddr, size int) uint64 { return gen(e, pc, size) }
	}
	var x1 func(id uint64, v0, v1 uint8)
	if exec1 != nil {
		x1 = func(id uint64, v0, v1 uint8) { exec1(e, id, v0, v1) }
	}
	var x2 func(id uint64, v0, v1 uint16)
	if exec2 != nil {
		x2 = func(id uint64, v0, v1 uint16) { exec2(e, id, v0, v1) }
	}
	var x4 func(id uint64, v0, v1 uint32)
	if exec4 != nil {
		x4 = func(id uint64, v0, v1 uint32) { exec4(e, id, v0, v1) }
	}
	var x8 func(id uint64, v0, v1 uint64)
	if exec8 != nil {
		x8 = func(id uint64, v0, v1 uint64) { exec8(e, id, v0, v1) }
	}
	e.eng.AddCmpHook(g, x1, x2, x4, x8)
}

// SetHook installs a code hook at a guest address. The returned handle is
// informational; removal is by address via RemoveHooksAt. invalidate flushes
// the translated block so the hook takes effect on already-translated code.
func (e *Emulator) SetHook(addr GuestAddr, fn func(e *Emulator, pc GuestAddr), invalidate bool) HookHandle {
	return e.eng.SetHook(addr, func(pc GuestAddr) { fn(e, pc) }, invalidate)
}

// RemoveHooksAt removes every code hook at addr and returns how many were
// removed. Removing at an address with no hooks is a no-op.
func (e *Emulator) RemoveHooksAt(addr GuestAddr, invalidate bool) int {
	return e.eng.RemoveHooksAt(addr, invalidate)
}

// SetThreadHook installs the thread-creation hook, replacing any previous
// one.
func (e *Emulator) SetThreadHook(fn func(e *Emulator, tid uint32)) {
	if fn == nil {
		e.eng.SetThreadHook(nil)
		return
	}
	e.eng.SetThreadHook(func(tid uint32) { fn(e, tid) })
}

// SetPreSyscallHook installs the pre-syscall hook, replacing any previous
// one. The hook may veto the syscall by returning an override result.
func (e *Emulator) SetPreSyscallHook(fn func(e *Emulator, num int, args [8]uint64) SyscallResult) {
	if fn == nil {
		e.eng.SetPreSyscallHook(nil)
		return
	}
	e.eng.SetPreSyscallHook(func(num int, args [8]uint64) SyscallResult {
		return fn(e, num, args)
	})
}

// SetPostSyscallHook installs the post-syscall hook, replacing any previous
// one. The hook observes the executed result and may transform it.
func (e *Emulator) SetPostSyscallHook(fn func(e *Emulator, ret uint64, num int, args [8]uint64) uint64) {
	if fn == nil {
		e.eng.SetPostSyscallHook(nil)
		return
	}
	e.eng.SetPostSyscallHook(func(ret uint64, num int, args [8]uint64) uint64 {
		return fn(e, ret, num, args)
	})
}
