package emu_test

import (
	"testing"

	"github.com/dylanjwolff/libafl/emu"
)

// Hook registries are append-only and shared across the test binary.
// Each test claims a private pc range and has its generation callback
// return SkipExec outside it, so foreign events never reach its
// execution callbacks.

func TestBlockHooks(t *testing.T) {
	e, eng := testEmu(t)
	lo, hi := emu.GuestAddr(0x100000), emu.GuestAddr(0x101000)
	genCalls := 0
	var ids []uint64
	e.AddBlockHooks(
		func(_ *emu.Emulator, pc emu.GuestAddr) uint64 {
			if pc < lo || pc >= hi {
				return emu.SkipExec
			}
			genCalls++
			return uint64(pc) + 1
		},
		func(_ *emu.Emulator, id uint64) { ids = append(ids, id) },
	)
	eng.QueueBlock(lo)
	eng.QueueBlock(lo + 0x10)
	eng.QueueBlock(lo)
	eng.Run()

	if genCalls != 2 {
		t.Errorf("expected 2 generation calls, got %d", genCalls)
	}
	want := []uint64{uint64(lo) + 1, uint64(lo) + 0x11, uint64(lo) + 1}
	if len(ids) != len(want) {
		t.Fatalf("expected %d hits, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("hit %d: expected %#x, got %#x", i, want[i], ids[i])
		}
	}
}

func TestBlockHookSkipExec(t *testing.T) {
	e, eng := testEmu(t)
	lo, hi := emu.GuestAddr(0x110000), emu.GuestAddr(0x111000)
	skip := lo + 0x500
	var ids []uint64
	e.AddBlockHooks(
		func(_ *emu.Emulator, pc emu.GuestAddr) uint64 {
			if pc < lo || pc >= hi || pc == skip {
				return emu.SkipExec
			}
			return uint64(pc)
		},
		func(_ *emu.Emulator, id uint64) { ids = append(ids, id) },
	)
	eng.QueueBlock(lo)
	eng.QueueBlock(skip)
	eng.QueueBlock(skip)
	eng.QueueBlock(lo)
	eng.Run()

	if len(ids) != 2 || ids[0] != uint64(lo) || ids[1] != uint64(lo) {
		t.Errorf("suppressed site leaked through: %v", ids)
	}
}

func TestEdgeHooks(t *testing.T) {
	e, eng := testEmu(t)
	lo, hi := emu.GuestAddr(0x120000), emu.GuestAddr(0x121000)
	genCalls := 0
	hits := 0
	e.AddEdgeHooks(
		func(_ *emu.Emulator, src, dst emu.GuestAddr) uint64 {
			if src < lo || src >= hi {
				return emu.SkipExec
			}
			genCalls++
			return uint64(src ^ dst)
		},
		func(_ *emu.Emulator, id uint64) { hits++ },
	)
	eng.QueueEdge(lo, lo+0x40)
	eng.QueueEdge(lo, lo+0x80)
	eng.QueueEdge(lo, lo+0x40)
	eng.Run()

	if genCalls != 2 {
		t.Errorf("expected one generation per distinct edge, got %d", genCalls)
	}
	if hits != 3 {
		t.Errorf("expected 3 hits, got %d", hits)
	}
}

func TestReadWriteHooks(t *testing.T) {
	e, eng := testEmu(t)
	lo, hi := emu.GuestAddr(0x130000), emu.GuestAddr(0x131000)
	gen := func(_ *emu.Emulator, pc emu.GuestAddr, size int) uint64 {
		if pc < lo || pc >= hi {
			return emu.SkipExec
		}
		return uint64(pc)
	}
	type access struct {
		id   uint64
		addr emu.GuestAddr
		size int
	}
	var reads, writes []access
	rec := func(out *[]access, size int) func(*emu.Emulator, uint64, emu.GuestAddr) {
		return func(_ *emu.Emulator, id uint64, addr emu.GuestAddr) {
			*out = append(*out, access{id, addr, size})
		}
	}
	e.AddReadHooks(gen,
		rec(&reads, 1), rec(&reads, 2), rec(&reads, 4), rec(&reads, 8),
		func(_ *emu.Emulator, id uint64, addr emu.GuestAddr, size int) {
			reads = append(reads, access{id, addr, size})
		})
	e.AddWriteHooks(gen,
		rec(&writes, 1), rec(&writes, 2), rec(&writes, 4), rec(&writes, 8),
		func(_ *emu.Emulator, id uint64, addr emu.GuestAddr, size int) {
			writes = append(writes, access{id, addr, size})
		})

	eng.QueueRead(lo, 0x9000, 4)
	eng.QueueRead(lo, 0x9004, 4)
	eng.QueueRead(lo+4, 0x9010, 3)
	eng.QueueWrite(lo+8, 0x9020, 8)
	eng.Run()

	if len(reads) != 3 {
		t.Fatalf("expected 3 reads, got %d", len(reads))
	}
	if reads[0] != (access{uint64(lo), 0x9000, 4}) {
		t.Errorf("bad fixed-width read: %+v", reads[0])
	}
	// the site's id is threaded to every subsequent hit
	if reads[1] != (access{uint64(lo), 0x9004, 4}) {
		t.Errorf("bad repeat read: %+v", reads[1])
	}
	if reads[2] != (access{uint64(lo) + 4, 0x9010, 3}) {
		t.Errorf("odd size missed the generic callback: %+v", reads[2])
	}
	if len(writes) != 1 || writes[0] != (access{uint64(lo) + 8, 0x9020, 8}) {
		t.Errorf("bad write dispatch: %+v", writes)
	}
}

func TestCmpHooks(t *testing.T) {
	e, eng := testEmu(t)
	lo, hi := emu.GuestAddr(0x140000), emu.GuestAddr(0x141000)
	var got []uint64
	e.AddCmpHooks(
		func(_ *emu.Emulator, pc emu.GuestAddr, size int) uint64 {
			if pc < lo || pc >= hi {
				return emu.SkipExec
			}
			return uint64(pc)
		},
		func(_ *emu.Emulator, id uint64, v0, v1 uint8) { got = append(got, uint64(v0), uint64(v1)) },
		func(_ *emu.Emulator, id uint64, v0, v1 uint16) { got = append(got, uint64(v0), uint64(v1)) },
		func(_ *emu.Emulator, id uint64, v0, v1 uint32) { got = append(got, uint64(v0), uint64(v1)) },
		func(_ *emu.Emulator, id uint64, v0, v1 uint64) { got = append(got, v0, v1) },
	)
	// operands are truncated to the comparison width
	eng.QueueCmp(lo, 1, 0x1ff, 0x02)
	eng.QueueCmp(lo+4, 2, 0x1ffff, 0x0202)
	eng.QueueCmp(lo+8, 8, 0xdeadbeefcafebabe, 1)
	eng.Run()

	want := []uint64{0xff, 0x02, 0xffff, 0x0202, 0xdeadbeefcafebabe, 1}
	if len(got) != len(want) {
		t.Fatalf("expected %d values, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("value %d: expected %#x, got %#x", i, want[i], got[i])
		}
	}
}

func TestFlushJIT(t *testing.T) {
	e, eng := testEmu(t)
	lo, hi := emu.GuestAddr(0x150000), emu.GuestAddr(0x151000)
	genCalls := 0
	e.AddBlockHooks(
		func(_ *emu.Emulator, pc emu.GuestAddr) uint64 {
			if pc < lo || pc >= hi {
				return emu.SkipExec
			}
			genCalls++
			return uint64(pc)
		},
		nil,
	)
	eng.QueueBlock(lo)
	eng.QueueBlock(lo)
	eng.Run()
	if genCalls != 1 {
		t.Fatalf("expected 1 generation call, got %d", genCalls)
	}
	e.FlushJIT()
	eng.QueueBlock(lo)
	eng.Run()
	if genCalls != 2 {
		t.Errorf("flush did not force regeneration: %d calls", genCalls)
	}
}

func TestCodeHooks(t *testing.T) {
	e, eng := testEmu(t)
	addr := emu.GuestAddr(0x160000)
	hits := 0
	h := e.SetHook(addr, func(_ *emu.Emulator, pc emu.GuestAddr) {
		if pc != addr {
			t.Errorf("hook fired at wrong pc: %#x", pc)
		}
		hits++
	}, true)
	if h == 0 {
		t.Error("zero hook handle")
	}
	eng.QueueBlock(addr)
	eng.Run()
	if hits != 1 {
		t.Fatalf("expected 1 hit, got %d", hits)
	}
	if n := e.RemoveHooksAt(addr, true); n != 1 {
		t.Errorf("expected 1 removal, got %d", n)
	}
	// removing again is a no-op
	if n := e.RemoveHooksAt(addr, true); n != 0 {
		t.Errorf("expected 0 removals, got %d", n)
	}
	eng.QueueBlock(addr)
	eng.Run()
	if hits != 1 {
		t.Errorf("removed hook still fired: %d hits", hits)
	}
}

func TestSyscallHooks(t *testing.T) {
	e, eng := testEmu(t)
	var preArgs [8]uint64
	e.SetPreSyscallHook(func(_ *emu.Emulator, num int, args [8]uint64) emu.SyscallResult {
		if num == 4242 {
			preArgs = args
			return emu.SyscallOverride(99)
		}
		return emu.SyscallPassthrough()
	})
	e.SetPostSyscallHook(func(_ *emu.Emulator, ret uint64, num int, args [8]uint64) uint64 {
		if num == 4243 {
			return ret + 1
		}
		return ret
	})
	defer e.SetPreSyscallHook(nil)
	defer e.SetPostSyscallHook(nil)

	before := len(eng.SyscallReturns())
	eng.QueueSyscall(4242, 7, 1, 2, 3)
	eng.QueueSyscall(4243, 7)
	eng.QueueSyscall(4244, 7)
	eng.Run()

	rets := eng.SyscallReturns()[before:]
	if len(rets) != 3 {
		t.Fatalf("expected 3 syscalls, got %d", len(rets))
	}
	if rets[0] != 99 {
		t.Errorf("veto did not take: ret %d", rets[0])
	}
	if rets[1] != 8 {
		t.Errorf("post transform did not take: ret %d", rets[1])
	}
	if rets[2] != 7 {
		t.Errorf("passthrough altered ret: %d", rets[2])
	}
	if preArgs[0] != 1 || preArgs[1] != 2 || preArgs[2] != 3 {
		t.Errorf("bad syscall args: %v", preArgs)
	}
}

func TestThreadHook(t *testing.T) {
	e, eng := testEmu(t)
	var tids []uint32
	e.SetThreadHook(func(_ *emu.Emulator, tid uint32) { tids = append(tids, tid) })
	defer e.SetThreadHook(nil)

	eng.QueueThread(2)
	eng.QueueThread(3)
	eng.Run()
	if len(tids) != 2 || tids[0] != 2 || tids[1] != 3 {
		t.Errorf("bad thread notifications: %v", tids)
	}
}
