package emu

import (
	"encoding/binary"
	"io"

	"github.com/lunixbochs/struc"
)

// MemReader streams guest memory starting at Addr.
type MemReader struct {
	E    *Emulator
	Addr GuestAddr
}

func (m *MemReader) Read(p []byte) (int, error) {
	if err := m.E.ReadMem(m.Addr, p); err != nil {
		return 0, err
	}
	m.Addr += uint64(len(p))
	return len(p), nil
}

// MemWriter streams writes into guest memory starting at Addr.
type MemWriter struct {
	E    *Emulator
	Addr GuestAddr
}

func (m *MemWriter) Write(p []byte) (int, error) {
	if err := m.E.WriteMem(m.Addr, p); err != nil {
		return 0, err
	}
	m.Addr += uint64(len(p))
	return len(p), nil
}

type memStream struct {
	r MemReader
	w MemWriter
}

func (s *memStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *memStream) Write(p []byte) (int, error) { return s.w.Write(p) }

// StrucStream packs and unpacks tagged structs at a guest address.
type StrucStream struct {
	Stream io.ReadWriter
	Order  binary.ByteOrder
}

func (s *StrucStream) Pack(i interface{}) error {
	return struc.PackWithOrder(s.Stream, i, s.Order)
}

func (s *StrucStream) Unpack(i interface{}) error {
	return struc.UnpackWithOrder(s.Stream, i, s.Order)
}

func (s *StrucStream) Sizeof(i interface{}) (int, error) {
	return struc.Sizeof(i)
}

// StrucAt returns a struct IO stream positioned at a guest address, using
// the guest byte order.
func (e *Emulator) StrucAt(addr GuestAddr) *StrucStream {
	return &StrucStream{
		Stream: &memStream{
			r: MemReader{E: e, Addr: addr},
			w: MemWriter{E: e, Addr: addr},
		},
		Order: e.eng.ByteOrder(),
	}
}
