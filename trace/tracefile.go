package trace

import (
	"io"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

var TRACE_MAGIC = "QFZT"

type TraceHeader struct {
	Magic   string `struc:"[4]byte"`
	Version uint32
	Bits    uint8
	BE      uint8
}

// Writer packs ops into a snappy-framed stream behind a plain header.
type Writer struct {
	w  io.WriteCloser
	zw *snappy.Writer
}

func NewWriter(w io.WriteCloser, bits uint, bigEndian bool) (*Writer, error) {
	header := &TraceHeader{
		Magic:   TRACE_MAGIC,
		Version: 1,
		Bits:    uint8(bits),
	}
	if bigEndian {
		header.BE = 1
	}
	if err := struc.Pack(w, header); err != nil {
		return nil, errors.Wrap(err, "failed to pack header")
	}
	return &Writer{w: w, zw: snappy.NewBufferedWriter(w)}, nil
}

func (t *Writer) Pack(op Op) error {
	if _, err := t.zw.Write([]byte{op.Kind()}); err != nil {
		return err
	}
	return struc.Pack(t.zw, op)
}

func (t *Writer) Flush() error {
	return t.zw.Flush()
}

func (t *Writer) Close() error {
	if err := t.zw.Close(); err != nil {
		t.w.Close()
		return err
	}
	return t.w.Close()
}

// Reader decodes a stream produced by Writer.
type Reader struct {
	Header TraceHeader

	r  io.Reader
	zr *snappy.Reader
}

func NewReader(r io.Reader) (*Reader, error) {
	t := &Reader{r: r}
	if err := struc.Unpack(r, &t.Header); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if t.Header.Magic != TRACE_MAGIC {
		return nil, errors.New("invalid trace magic")
	}
	t.zr = snappy.NewReader(r)
	return t, nil
}

// ReadOp returns the next op, or io.EOF at the end of the stream.
func (t *Reader) ReadOp() (Op, error) {
	return Unpack(t.zr)
}
