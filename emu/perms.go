package emu

// MmapPerms are guest memory protection flags, numerically equal to the
// PROT_* bits the native mapping primitives consume.
type MmapPerms int

const (
	ProtNone  MmapPerms = 0
	ProtRead  MmapPerms = 1
	ProtWrite MmapPerms = 2
	ProtExec  MmapPerms = 4

	ProtReadWrite MmapPerms = ProtRead | ProtWrite
	ProtReadExec  MmapPerms = ProtRead | ProtExec
	ProtWriteExec MmapPerms = ProtWrite | ProtExec
	ProtAll       MmapPerms = ProtRead | ProtWrite | ProtExec
)

func (p MmapPerms) IsReadable() bool {
	return p&ProtRead != 0
}

func (p MmapPerms) IsWritable() bool {
	return p&ProtWrite != 0
}

func (p MmapPerms) IsExecutable() bool {
	return p&ProtExec != 0
}

func (p MmapPerms) String() string {
	prots := []MmapPerms{ProtRead, ProtWrite, ProtExec}
	chars := []string{"r", "w", "x"}
	s := ""
	for i := range prots {
		if p&prots[i] != 0 {
			s += chars[i]
		} else {
			s += "-"
		}
	}
	return s
}
