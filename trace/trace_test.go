package trace

import (
	"bytes"
	"io"
	"testing"

	"github.com/dylanjwolff/libafl/emu"
	"github.com/dylanjwolff/libafl/sim"
)

type bufCloser struct {
	bytes.Buffer
}

func (b *bufCloser) Close() error { return nil }

func TestTracefileRoundTrip(t *testing.T) {
	buf := &bufCloser{}
	w, err := NewWriter(buf, 64, false)
	if err != nil {
		t.Fatal("failed to create writer:", err)
	}
	ops := []Op{
		&OpMap{Addr: 0x1000, Size: 0x2000, Prot: 5, Path: "/bin/cat"},
		&OpReg{Enum: 7, Val: 0xcafebabe},
		&OpBlock{PC: 0x1000},
		&OpEdge{Src: 0x1000, Dst: 0x1040},
		&OpRead{PC: 0x1004, Addr: 0x3000, Size: 4},
		&OpWrite{PC: 0x1008, Addr: 0x3008, Size: 8},
		&OpCmp{PC: 0x100c, Size: 2, V0: 0x41, V1: 0x42},
		&OpSyscall{Num: 42, Ret: 7},
	}
	for _, op := range ops {
		if err := w.Pack(op); err != nil {
			t.Fatal("failed to pack op:", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal("failed to close writer:", err)
	}

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal("failed to create reader:", err)
	}
	if r.Header.Magic != TRACE_MAGIC || r.Header.Bits != 64 || r.Header.BE != 0 {
		t.Errorf("bad header: %+v", r.Header)
	}
	for i, want := range ops {
		got, err := r.ReadOp()
		if err != nil {
			t.Fatalf("failed to read op %d: %v", i, err)
		}
		if got.Kind() != want.Kind() {
			t.Fatalf("op %d: kind %d != %d", i, got.Kind(), want.Kind())
		}
	}
	if _, err := r.ReadOp(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestBadMagic(t *testing.T) {
	if _, err := NewReader(bytes.NewReader([]byte("NOPE\x00\x00\x00\x01\x40\x00"))); err == nil {
		t.Fatal("reader accepted a bad magic")
	}
}

func TestRecorder(t *testing.T) {
	eng := sim.NewEngine(sim.Config{})
	e := emu.New(eng, []string{"/bin/cat"}, nil)

	addr, err := e.MapFixed(0x400000, 0x1000, emu.ProtReadExec)
	if err != nil {
		t.Fatal("failed to map memory:", err)
	}

	buf := &bufCloser{}
	tr, err := NewTrace(e, &Config{
		TraceWriter: buf,
		Block:       true,
		Edge:        true,
		Read:        true,
		Cmp:         true,
		Sys:         true,
	})
	if err != nil {
		t.Fatal("failed to create trace:", err)
	}
	if err := tr.Attach(); err != nil {
		t.Fatal("failed to attach:", err)
	}

	eng.QueueBlock(addr)
	eng.QueueEdge(addr, addr+0x40)
	eng.QueueRead(addr+4, 0x9000, 4)
	eng.QueueCmp(addr+8, 2, 0x41, 0x42)
	eng.QueueSyscall(42, 7)
	eng.Run()

	if err := tr.Close(); err != nil {
		t.Fatal("failed to close trace:", err)
	}

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal("failed to create reader:", err)
	}
	var got []Op
	for {
		op, err := r.ReadOp()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal("failed to read op:", err)
		}
		got = append(got, op)
	}

	// keyframe: one mapping plus one op per readable register
	want := 1 + e.NumRegs() + 5
	if len(got) != want {
		t.Fatalf("expected %d ops, got %d", want, len(got))
	}
	m, ok := got[0].(*OpMap)
	if !ok || m.Addr != uint64(addr) || m.Size != 0x1000 || m.Prot != uint8(emu.ProtReadExec) {
		t.Errorf("bad keyframe mapping: %+v", got[0])
	}
	events := got[1+e.NumRegs():]
	if b, ok := events[0].(*OpBlock); !ok || b.PC != uint64(addr) {
		t.Errorf("bad block op: %+v", events[0])
	}
	if ed, ok := events[1].(*OpEdge); !ok || ed.Src != uint64(addr) || ed.Dst != uint64(addr)+0x40 {
		t.Errorf("bad edge op: %+v", events[1])
	}
	if rd, ok := events[2].(*OpRead); !ok || rd.PC != uint64(addr)+4 || rd.Addr != 0x9000 || rd.Size != 4 {
		t.Errorf("bad read op: %+v", events[2])
	}
	if c, ok := events[3].(*OpCmp); !ok || c.Size != 2 || c.V0 != 0x41 || c.V1 != 0x42 {
		t.Errorf("bad cmp op: %+v", events[3])
	}
	if s, ok := events[4].(*OpSyscall); !ok || s.Num != 42 || s.Ret != 7 {
		t.Errorf("bad syscall op: %+v", events[4])
	}

	// a detached recorder goes quiet
	eng.QueueBlock(addr)
	eng.Run()
	if tr.Err() != nil {
		t.Error("detached recorder reported an error:", tr.Err())
	}
}
