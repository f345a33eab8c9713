package trace

import (
	"io"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

const (
	OP_NOP     = 0
	OP_BLOCK   = 1
	OP_EDGE    = 2
	OP_READ    = 3
	OP_WRITE   = 4
	OP_CMP     = 5
	OP_SYSCALL = 6
	OP_MAP     = 7
	OP_REG     = 8
)

// Op is one recorded hook event.
type Op interface {
	Kind() uint8
}

// OpBlock records one basic-block hit; the block's pc doubles as its
// correlation id.
type OpBlock struct {
	PC uint64
}

func (o *OpBlock) Kind() uint8 { return OP_BLOCK }

// OpEdge records one branch-edge hit.
type OpEdge struct {
	Src uint64
	Dst uint64
}

func (o *OpEdge) Kind() uint8 { return OP_EDGE }

type OpRead struct {
	PC   uint64
	Addr uint64
	Size uint32
}

func (o *OpRead) Kind() uint8 { return OP_READ }

type OpWrite struct {
	PC   uint64
	Addr uint64
	Size uint32
}

func (o *OpWrite) Kind() uint8 { return OP_WRITE }

// OpCmp records a comparison with both operands widened to 64 bits.
type OpCmp struct {
	PC   uint64
	Size uint32
	V0   uint64
	V1   uint64
}

func (o *OpCmp) Kind() uint8 { return OP_CMP }

type OpSyscall struct {
	Num int32
	Ret uint64
}

func (o *OpSyscall) Kind() uint8 { return OP_SYSCALL }

// OpMap is a keyframe entry describing one guest mapping at attach time.
type OpMap struct {
	Addr    uint64
	Size    uint64
	Prot    uint8
	PathLen uint16 `struc:"sizeof=Path"`
	Path    string
}

func (o *OpMap) Kind() uint8 { return OP_MAP }

// OpReg is a keyframe entry with one register value at attach time.
type OpReg struct {
	Enum uint16
	Val  uint64
}

func (o *OpReg) Kind() uint8 { return OP_REG }

// Unpack reads one op (kind byte plus body) from r.
func Unpack(r io.Reader) (Op, error) {
	var tmp [1]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return nil, err
	}
	var op Op
	switch tmp[0] {
	case OP_BLOCK:
		op = &OpBlock{}
	case OP_EDGE:
		op = &OpEdge{}
	case OP_READ:
		op = &OpRead{}
	case OP_WRITE:
		op = &OpWrite{}
	case OP_CMP:
		op = &OpCmp{}
	case OP_SYSCALL:
		op = &OpSyscall{}
	case OP_MAP:
		op = &OpMap{}
	case OP_REG:
		op = &OpReg{}
	default:
		return nil, errors.Errorf("unknown op: %d", tmp[0])
	}
	if err := struc.Unpack(r, op); err != nil {
		return nil, errors.Wrap(err, "unpacking op body")
	}
	return op, nil
}
