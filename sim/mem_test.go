package sim

import (
	"bytes"
	"testing"

	"github.com/dylanjwolff/libafl/emu"
)

var asdf = []byte("asdf")

func TestMem(t *testing.T) {
	mappings := []struct {
		addr emu.GuestAddr
		size emu.GuestUsize
		prot emu.MmapPerms
	}{
		{0x1000, 0x1000, emu.ProtAll},
		{0x2000, 0x1000, emu.ProtRead},
		{0x3000, 0x1000, emu.ProtReadWrite},
		{0x4000, 0x1000, emu.ProtReadExec},
		{0x5000, 0x1000, emu.ProtExec},
	}

	mem := &Mem{}
	for _, v := range mappings {
		mem.Map(v.addr, v.size, v.prot, true)
	}
	// access outside bounds
	if err := mem.Write(0, asdf, 0); err == nil {
		t.Error("write succeeded below mapped memory")
	}
	if err := mem.Write(0x6000, asdf, 0); err == nil {
		t.Error("write succeeded above mapped memory")
	}
	// unchecked access inside bounds
	for _, v := range mappings {
		if err := mem.Write(v.addr, asdf, 0); err != nil {
			t.Error("write failed inside mapped memory")
		}
	}
	tmp := make([]byte, len(asdf))
	for _, v := range mappings {
		if err := mem.Read(v.addr, tmp, 0); err != nil {
			t.Error("read failed inside mapped memory")
		} else if !bytes.Equal(tmp, asdf) {
			t.Error("read returned bad value")
		}
	}
	// protection checks
	for _, v := range mappings {
		if err := mem.Read(v.addr, tmp, v.prot); err != nil {
			t.Errorf("valid read failed on (%#x, %s): %v", v.addr, v.prot, err)
		}
		readable := v.prot.IsReadable()
		if err := mem.Read(v.addr, tmp, emu.ProtRead); (err == nil) != readable {
			t.Errorf("ProtRead mismatch on (%#x, %s)", v.addr, v.prot)
		}
		writable := v.prot.IsWritable()
		if err := mem.Write(v.addr, asdf, emu.ProtWrite); (err == nil) != writable {
			t.Errorf("ProtWrite mismatch on (%#x, %s)", v.addr, v.prot)
		}
		executable := v.prot.IsExecutable()
		if err := mem.Read(v.addr, tmp, emu.ProtExec); (err == nil) != executable {
			t.Errorf("ProtExec mismatch on (%#x, %s)", v.addr, v.prot)
		}
	}
}

func TestMemSpanningAccess(t *testing.T) {
	mem := &Mem{}
	mem.Map(0x1000, 0x1000, emu.ProtReadWrite, true)
	mem.Map(0x2000, 0x1000, emu.ProtReadWrite, true)

	data := bytes.Repeat([]byte{0xa5}, 0x2000)
	if err := mem.Write(0x1000, data, emu.ProtWrite); err != nil {
		t.Fatal("spanning write failed:", err)
	}
	out := make([]byte, 0x2000)
	if err := mem.Read(0x1000, out, emu.ProtRead); err != nil {
		t.Fatal("spanning read failed:", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("spanning read returned bad value")
	}
	// a gap in the middle fails the whole access
	mem.Unmap(0x1800, 0x100)
	if err := mem.Read(0x1000, out, emu.ProtRead); err == nil {
		t.Error("read succeeded across unmapped hole")
	}
}

func TestMemProtSplit(t *testing.T) {
	mem := &Mem{}
	mem.Map(0x1000, 0x3000, emu.ProtAll, true)
	mem.Prot(0x2000, 0x1000, emu.ProtRead)

	if err := mem.Write(0x1000, asdf, emu.ProtWrite); err != nil {
		t.Error("write failed on untouched piece:", err)
	}
	if err := mem.Write(0x2000, asdf, emu.ProtWrite); err == nil {
		t.Error("write succeeded on read-only piece")
	}
	if err := mem.Write(0x3000, asdf, emu.ProtWrite); err != nil {
		t.Error("write failed on untouched piece:", err)
	}
	if len(mem.Mappings()) != 3 {
		t.Errorf("expected 3 pieces after reprotect, got %d", len(mem.Mappings()))
	}
}

func TestMemUnmapSplit(t *testing.T) {
	mem := &Mem{}
	pg := mem.Map(0x1000, 0x3000, emu.ProtReadWrite, true)
	copy(pg.Data, bytes.Repeat([]byte{0x42}, 0x3000))
	mem.Unmap(0x2000, 0x1000)

	if mem.Mappings().Find(0x2000) != nil {
		t.Error("unmapped range still found")
	}
	tmp := make([]byte, 4)
	if err := mem.Read(0x1000, tmp, 0); err != nil {
		t.Error("left piece lost:", err)
	} else if tmp[0] != 0x42 {
		t.Error("left piece lost its data")
	}
	if err := mem.Read(0x3000, tmp, 0); err != nil {
		t.Error("right piece lost:", err)
	} else if tmp[0] != 0x42 {
		t.Error("right piece lost its data")
	}
}
