package emu

import "testing"

func TestPerms(t *testing.T) {
	table := []struct {
		p       MmapPerms
		r, w, x bool
		str     string
	}{
		{ProtNone, false, false, false, "---"},
		{ProtRead, true, false, false, "r--"},
		{ProtWrite, false, true, false, "-w-"},
		{ProtExec, false, false, true, "--x"},
		{ProtReadWrite, true, true, false, "rw-"},
		{ProtReadExec, true, false, true, "r-x"},
		{ProtWriteExec, false, true, true, "-wx"},
		{ProtAll, true, true, true, "rwx"},
	}
	for _, v := range table {
		if v.p.IsReadable() != v.r || v.p.IsWritable() != v.w || v.p.IsExecutable() != v.x {
			t.Errorf("bad flags for %d", v.p)
		}
		if s := v.p.String(); s != v.str {
			t.Errorf("expected %q, got %q", v.str, s)
		}
	}
}
