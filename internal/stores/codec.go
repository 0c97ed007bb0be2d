package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

var errFieldTooLong = errors.New("record field length exceeded")

type recordWriter struct {
	buf bytes.Buffer
	err error
}

func newRecordWriter(version byte) *recordWriter {
	w := &recordWriter{}
	w.buf.WriteByte(version)
	return w
}

func (w *recordWriter) u8(v uint8) {
	if w.err == nil {
		w.buf.WriteByte(v)
	}
}

func (w *recordWriter) u16(v uint16) {
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.BigEndian, v)
	}
}

func (w *recordWriter) i64(v int64) {
	if w.err == nil {
		w.err = binary.Write(&w.buf, binary.BigEndian, v)
	}
}

func (w *recordWriter) bytes(v []byte) {
	if w.err != nil {
		return
	}
	if len(v) > 65535 {
		w.err = errFieldTooLong
		return
	}
	w.u16(uint16(len(v)))
	if w.err == nil {
		w.buf.Write(v)
	}
}

func (w *recordWriter) str(v string) {
	w.bytes([]byte(v))
}

func (w *recordWriter) fixed(v []byte) {
	if w.err == nil {
		w.buf.Write(v)
	}
}

func (w *recordWriter) result() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

type recordReader struct {
	r   *bytes.Reader
	err error
}

func newRecordReader(data []byte, version byte) (*recordReader, error) {
	r := &recordReader{r: bytes.NewReader(data)}
	v, err := r.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if v != version {
		return nil, errors.New("invalid record version")
	}
	return r, nil
}

func (r *recordReader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	r.err = err
	return b
}

func (r *recordReader) u16() uint16 {
	var v uint16
	if r.err == nil {
		r.err = binary.Read(r.r, binary.BigEndian, &v)
	}
	return v
}

func (r *recordReader) i64() int64 {
	var v int64
	if r.err == nil {
		r.err = binary.Read(r.r, binary.BigEndian, &v)
	}
	return v
}

func (r *recordReader) bytes() []byte {
	n := r.u16()
	if r.err != nil {
		return nil
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r.r, out); err != nil {
		r.err = err
		return nil
	}
	return out
}

func (r *recordReader) str() string {
	return string(r.bytes())
}

func (r *recordReader) fixed(dst []byte) {
	if r.err != nil {
		return
	}
	if _, err := io.ReadFull(r.r, dst); err != nil {
		r.err = err
	}
}
