package sim

import "github.com/pkg/errors"

// Regs is a flat register file indexed 0..n-1, masked to the guest address
// width.
type Regs struct {
	mask uint64
	vals []uint64
}

func NewRegs(bits uint, count int) *Regs {
	return &Regs{
		mask: ^uint64(0) >> (64 - bits),
		vals: make([]uint64, count),
	}
}

func (r *Regs) RegRead(reg int) (uint64, error) {
	if reg < 0 || reg >= len(r.vals) {
		return 0, errors.Errorf("invalid register %d", reg)
	}
	return r.vals[reg], nil
}

func (r *Regs) RegWrite(reg int, val uint64) error {
	if reg < 0 || reg >= len(r.vals) {
		return errors.Errorf("invalid register %d", reg)
	}
	r.vals[reg] = val & r.mask
	return nil
}
