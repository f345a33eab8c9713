// Package trace records instrumentation events to a compact replayable
// stream. The recorder rides the same public hook surface exposed to
// coverage feedback, so a trace shows exactly what a fuzzer observer
// would have seen.
package trace

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/dylanjwolff/libafl/emu"
)

type Config struct {
	Tracefile   string
	TraceWriter io.WriteCloser

	Block bool
	Edge  bool
	Read  bool
	Write bool
	Cmp   bool
	Sys   bool

	// Bits and BigEndian describe the guest for the file header.
	Bits      uint
	BigEndian bool
}

// Trace streams hook events from an Emulator to a Writer.
//
// Hook families cannot be unregistered, so Detach only stops the
// recorder from emitting; the underlying hooks stay installed and
// cheap. The recorder also occupies the single post-syscall slot while
// Sys tracing is on.
type Trace struct {
	e      *emu.Emulator
	tf     *Writer
	config *Config

	mu       sync.Mutex
	attached bool
	err      error

	// edge generation ids index into this table
	edges [][2]emu.GuestAddr
}

func NewTrace(e *emu.Emulator, config *Config) (*Trace, error) {
	if config.Bits == 0 {
		config.Bits = 64
	}
	w := config.TraceWriter
	if w == nil {
		if config.Tracefile == "" {
			return nil, errors.New("no trace output configured")
		}
		var err error
		if w, err = os.Create(config.Tracefile); err != nil {
			return nil, errors.Wrapf(err, "failed to create trace file '%s'", config.Tracefile)
		}
	}
	tf, err := NewWriter(w, config.Bits, config.BigEndian)
	if err != nil {
		w.Close()
		return nil, errors.Wrap(err, "failed to create trace writer")
	}
	return &Trace{e: e, tf: tf, config: config}, nil
}

// Attach writes a keyframe of the current mappings and registers, then
// installs the configured hooks. It may be called once per Trace.
func (t *Trace) Attach() error {
	t.mu.Lock()
	if t.attached {
		t.mu.Unlock()
		return errors.New("trace already attached")
	}
	t.attached = true
	t.mu.Unlock()

	t.keyframe()

	if t.config.Block {
		t.e.AddBlockHooks(
			func(e *emu.Emulator, pc emu.GuestAddr) uint64 { return uint64(pc) },
			func(e *emu.Emulator, id uint64) { t.pack(&OpBlock{PC: id}) },
		)
	}
	if t.config.Edge {
		t.e.AddEdgeHooks(
			func(e *emu.Emulator, src, dst emu.GuestAddr) uint64 {
				t.mu.Lock()
				id := uint64(len(t.edges))
				t.edges = append(t.edges, [2]emu.GuestAddr{src, dst})
				t.mu.Unlock()
				return id
			},
			func(e *emu.Emulator, id uint64) {
				t.mu.Lock()
				var pair [2]emu.GuestAddr
				if id < uint64(len(t.edges)) {
					pair = t.edges[id]
				}
				t.mu.Unlock()
				t.pack(&OpEdge{Src: uint64(pair[0]), Dst: uint64(pair[1])})
			},
		)
	}
	if t.config.Read {
		t.e.AddReadHooks(
			func(e *emu.Emulator, pc emu.GuestAddr, size int) uint64 { return uint64(pc) },
			t.memExec(false, 1), t.memExec(false, 2), t.memExec(false, 4), t.memExec(false, 8),
			t.memExecN(false),
		)
	}
	if t.config.Write {
		t.e.AddWriteHooks(
			func(e *emu.Emulator, pc emu.GuestAddr, size int) uint64 { return uint64(pc) },
			t.memExec(true, 1), t.memExec(true, 2), t.memExec(true, 4), t.memExec(true, 8),
			t.memExecN(true),
		)
	}
	if t.config.Cmp {
		t.e.AddCmpHooks(
			func(e *emu.Emulator, pc emu.GuestAddr, size int) uint64 { return uint64(pc) },
			func(e *emu.Emulator, id uint64, v0, v1 uint8) { t.cmp(id, 1, uint64(v0), uint64(v1)) },
			func(e *emu.Emulator, id uint64, v0, v1 uint16) { t.cmp(id, 2, uint64(v0), uint64(v1)) },
			func(e *emu.Emulator, id uint64, v0, v1 uint32) { t.cmp(id, 4, uint64(v0), uint64(v1)) },
			func(e *emu.Emulator, id uint64, v0, v1 uint64) { t.cmp(id, 8, v0, v1) },
		)
	}
	if t.config.Sys {
		t.e.SetPostSyscallHook(func(e *emu.Emulator, ret uint64, num int, args [8]uint64) uint64 {
			t.pack(&OpSyscall{Num: int32(num), Ret: ret})
			return ret
		})
	}
	return t.Err()
}

func (t *Trace) memExec(write bool, size uint32) func(e *emu.Emulator, id uint64, addr emu.GuestAddr) {
	return func(e *emu.Emulator, id uint64, addr emu.GuestAddr) {
		if write {
			t.pack(&OpWrite{PC: id, Addr: uint64(addr), Size: size})
		} else {
			t.pack(&OpRead{PC: id, Addr: uint64(addr), Size: size})
		}
	}
}

func (t *Trace) memExecN(write bool) func(e *emu.Emulator, id uint64, addr emu.GuestAddr, size int) {
	return func(e *emu.Emulator, id uint64, addr emu.GuestAddr, size int) {
		if write {
			t.pack(&OpWrite{PC: id, Addr: uint64(addr), Size: uint32(size)})
		} else {
			t.pack(&OpRead{PC: id, Addr: uint64(addr), Size: uint32(size)})
		}
	}
}

func (t *Trace) cmp(id uint64, size uint32, v0, v1 uint64) {
	t.pack(&OpCmp{PC: id, Size: size, V0: v0, V1: v1})
}

func (t *Trace) keyframe() {
	maps := t.e.Mappings()
	defer maps.Close()
	for {
		m, ok := maps.Next()
		if !ok {
			break
		}
		t.pack(&OpMap{
			Addr: uint64(m.Start),
			Size: uint64(m.End - m.Start),
			Prot: uint8(m.Flags),
			Path: m.Path,
		})
	}
	for i := 0; i < t.e.NumRegs(); i++ {
		val, err := t.e.RegRead(i)
		if err != nil {
			continue
		}
		t.pack(&OpReg{Enum: uint16(i), Val: val})
	}
}

func (t *Trace) pack(op Op) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.attached || t.err != nil {
		return
	}
	if err := t.tf.Pack(op); err != nil {
		t.err = errors.Wrap(err, "trace write failed")
	}
}

// Detach stops recording. Hooks stay installed but go quiet.
func (t *Trace) Detach() {
	t.mu.Lock()
	t.attached = false
	t.mu.Unlock()
	if t.config.Sys {
		t.e.SetPostSyscallHook(nil)
	}
}

// Err returns the first write error, if any.
func (t *Trace) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Trace) Close() error {
	t.Detach()
	return t.tf.Close()
}
