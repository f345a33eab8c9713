package repl

import (
	"fmt"

	"github.com/lunixbochs/luaish"
	"github.com/lunixbochs/luaish-luar"

	"github.com/dylanjwolff/libafl/emu"
)

func bindEmu(L *LuaRepl) error {
	b := &ebinding{L, L.e}
	mod := L.SetFuncs(L.NewTable(), b.Exports())
	L.SetGlobal("emu", mod)
	L.SetGlobal("us", luar.New(L.LState, L.e))

	perms := L.NewTable()
	for name, p := range map[string]emu.MmapPerms{
		"none": emu.ProtNone,
		"r":    emu.ProtRead,
		"w":    emu.ProtWrite,
		"x":    emu.ProtExec,
		"rw":   emu.ProtReadWrite,
		"rx":   emu.ProtReadExec,
		"wx":   emu.ProtWriteExec,
		"rwx":  emu.ProtAll,
	} {
		perms.RawSetString(name, lua.LInt(p))
	}
	L.SetGlobal("perms", perms)
	return nil
}

type ebinding struct {
	L *LuaRepl
	e *emu.Emulator
}

func (b *ebinding) Exports() map[string]lua.LGFunction {
	return map[string]lua.LGFunction{
		"mem_read":  b.MemRead,
		"mem_write": b.MemWrite,

		"num_regs":  b.NumRegs,
		"reg_read":  b.RegRead,
		"reg_write": b.RegWrite,

		"map_private": b.MapPrivate,
		"map_fixed":   b.MapFixed,
		"mem_prot":    b.MemProt,
		"mem_unmap":   b.MemUnmap,
		"maps":        b.Maps,

		"set_breakpoint":    b.SetBreakpoint,
		"remove_breakpoint": b.RemoveBreakpoint,
		"run":               b.Run,
		"flush_jit":         b.FlushJIT,

		"g2h": b.G2H,
		"h2g": b.H2G,

		"binary_path": b.BinaryPath,
		"load_addr":   b.LoadAddr,

		"set_hook":        b.SetHook,
		"remove_hooks_at": b.RemoveHooksAt,

		"gdb_reply": b.GdbReply,
	}
}

func (b *ebinding) checkErr(err error) {
	if err != nil {
		b.L.RaiseError(err.Error())
	}
}

func (b *ebinding) MemRead(L *lua.LState) int {
	addr, size := L.CheckUint64(1), L.CheckUint64(2)
	p := make([]byte, size)
	b.checkErr(b.e.ReadMem(emu.GuestAddr(addr), p))
	L.Push(lua.LString(p))
	return 1
}

func (b *ebinding) MemWrite(L *lua.LState) int {
	addr, s := L.CheckUint64(1), L.CheckString(2)
	b.checkErr(b.e.WriteMem(emu.GuestAddr(addr), []byte(s)))
	return 0
}

func (b *ebinding) NumRegs(L *lua.LState) int {
	L.Push(lua.LInt(b.e.NumRegs()))
	return 1
}

func (b *ebinding) RegRead(L *lua.LState) int {
	reg := L.CheckInt(1)
	val, err := b.e.RegRead(reg)
	b.checkErr(err)
	L.Push(lua.LInt(val))
	return 1
}

func (b *ebinding) RegWrite(L *lua.LState) int {
	reg, val := L.CheckInt(1), L.CheckUint64(2)
	b.checkErr(b.e.RegWrite(reg, val))
	return 0
}

func (b *ebinding) MapPrivate(L *lua.LState) int {
	addr, size, prot := L.CheckUint64(1), L.CheckUint64(2), L.CheckInt(3)
	ret, err := b.e.MapPrivate(emu.GuestAddr(addr), emu.GuestUsize(size), emu.MmapPerms(prot))
	b.checkErr(err)
	L.Push(lua.LInt(ret))
	return 1
}

func (b *ebinding) MapFixed(L *lua.LState) int {
	addr, size, prot := L.CheckUint64(1), L.CheckUint64(2), L.CheckInt(3)
	ret, err := b.e.MapFixed(emu.GuestAddr(addr), emu.GuestUsize(size), emu.MmapPerms(prot))
	b.checkErr(err)
	L.Push(lua.LInt(ret))
	return 1
}

func (b *ebinding) MemProt(L *lua.LState) int {
	addr, size, prot := L.CheckUint64(1), L.CheckUint64(2), L.CheckInt(3)
	b.checkErr(b.e.Mprotect(emu.GuestAddr(addr), emu.GuestUsize(size), emu.MmapPerms(prot)))
	return 0
}

func (b *ebinding) MemUnmap(L *lua.LState) int {
	addr, size := L.CheckUint64(1), L.CheckUint64(2)
	b.checkErr(b.e.Unmap(emu.GuestAddr(addr), emu.GuestUsize(size)))
	return 0
}

func (b *ebinding) Maps(L *lua.LState) int {
	maps := b.e.Mappings()
	defer maps.Close()
	out := L.NewTable()
	i := 1
	for {
		m, ok := maps.Next()
		if !ok {
			break
		}
		row := L.NewTable()
		row.RawSetString("start", lua.LInt(m.Start))
		row.RawSetString("end", lua.LInt(m.End))
		row.RawSetString("prot", lua.LInt(m.Flags))
		row.RawSetString("path", lua.LString(m.Path))
		L.RawSetInt(out, i, row)
		i++
	}
	L.Push(out)
	return 1
}

func (b *ebinding) SetBreakpoint(L *lua.LState) int {
	b.e.SetBreakpoint(emu.GuestAddr(L.CheckUint64(1)))
	return 0
}

func (b *ebinding) RemoveBreakpoint(L *lua.LState) int {
	b.e.RemoveBreakpoint(emu.GuestAddr(L.CheckUint64(1)))
	return 0
}

func (b *ebinding) Run(L *lua.LState) int {
	b.e.Run()
	return 0
}

func (b *ebinding) FlushJIT(L *lua.LState) int {
	b.e.FlushJIT()
	return 0
}

func (b *ebinding) G2H(L *lua.LState) int {
	L.Push(lua.LInt(b.e.G2H(emu.GuestAddr(L.CheckUint64(1)))))
	return 1
}

func (b *ebinding) H2G(L *lua.LState) int {
	L.Push(lua.LInt(b.e.H2G(L.CheckUint64(1))))
	return 1
}

func (b *ebinding) BinaryPath(L *lua.LState) int {
	L.Push(lua.LString(b.e.BinaryPath()))
	return 1
}

func (b *ebinding) LoadAddr(L *lua.LState) int {
	L.Push(lua.LInt(b.e.LoadAddr()))
	return 1
}

// SetHook installs a code hook whose callback is a lua function taking
// the hit pc. The lua state is not safe for reentrant use; the hook
// fires on the thread driving guest execution.
func (b *ebinding) SetHook(L *lua.LState) int {
	addr := L.CheckUint64(1)
	fn := L.CheckFunction(2)
	handle := b.e.SetHook(emu.GuestAddr(addr), func(e *emu.Emulator, pc emu.GuestAddr) {
		b.L.Push(fn)
		b.L.Push(lua.LInt(pc))
		if err := b.L.PCall(1, 0, nil); err != nil {
			fmt.Println(err)
		}
	}, true)
	L.Push(lua.LInt(handle))
	return 1
}

func (b *ebinding) RemoveHooksAt(L *lua.LState) int {
	addr := L.CheckUint64(1)
	L.Push(lua.LInt(b.e.RemoveHooksAt(emu.GuestAddr(addr), true)))
	return 1
}

func (b *ebinding) GdbReply(L *lua.LState) int {
	b.e.GdbReply(L.CheckString(1))
	return 0
}
