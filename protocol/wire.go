package protocol

import "encoding/binary"

// reader is a small bounds-checked little-endian cursor over a decode
// buffer. Every read fails closed: a request for more bytes than remain
// yields an InvalidRequest "malformed message" error rather than a panic or a silently truncated value.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func malformed(msg string) *Error {
	return NewError(ErrorKindInvalidRequest, "malformed message: "+msg)
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, malformed("declared length exceeds remaining buffer")
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) u8() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// lenPrefixed16 reads a uint16 length then that many bytes, failing if the
// declared length runs past the buffer end.
func (r *reader) lenPrefixed16() ([]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	return r.bytes(int(n))
}

// writer is the matching append-only little-endian buffer builder.
type writer struct {
	buf []byte
}

func newWriter() *writer { return &writer{} }

func (w *writer) u8(v uint8)  { w.buf = append(w.buf, v) }
func (w *writer) bytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) lenPrefixed16(b []byte) {
	w.u16(uint16(len(b)))
	w.bytes(b)
}

func (w *writer) Bytes() []byte { return w.buf }
