// Package wire implements the primitive encoding layer shared by every index
// file version: little-endian integers, length-prefixed UTF-8 strings and raw
// byte runs, plus embedded BSON documents for self-describing metadata.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
)

// Writer serializes primitives to an underlying stream.
type Writer struct {
	w   io.Writer
	buf [8]byte
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteUint8 writes a single byte.
func (w *Writer) WriteUint8(v uint8) error {
	w.buf[0] = v
	if _, err := w.w.Write(w.buf[:1]); err != nil {
		return fmt.Errorf("writing u8: %s", err)
	}
	return nil
}

// WriteUint32 writes a little-endian uint32.
func (w *Writer) WriteUint32(v uint32) error {
	binary.LittleEndian.PutUint32(w.buf[:4], v)
	if _, err := w.w.Write(w.buf[:4]); err != nil {
		return fmt.Errorf("writing u32: %s", err)
	}
	return nil
}

// WriteUint64 writes v as its low then high little-endian 32-bit halves, which
// is byte-identical to a little-endian uint64.
func (w *Writer) WriteUint64(v uint64) error {
	binary.LittleEndian.PutUint64(w.buf[:8], v)
	if _, err := w.w.Write(w.buf[:8]); err != nil {
		return fmt.Errorf("writing u64: %s", err)
	}
	return nil
}

// WriteBytes writes b with no prefix.
func (w *Writer) WriteBytes(b []byte) error {
	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("writing %d bytes: %s", len(b), err)
	}
	return nil
}

// WriteString writes a u32 byte length followed by the UTF-8 bytes of s.
func (w *Writer) WriteString(s string) error {
	if err := w.WriteUint32(uint32(len(s))); err != nil {
		return err
	}
	return w.WriteBytes([]byte(s))
}

// WriteBSON marshals doc and writes the raw BSON document. BSON documents are
// self-delimiting (the leading int32 is the total length), so no extra prefix
// is written.
func (w *Writer) WriteBSON(doc interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling bson: %s", err)
	}
	return w.WriteBytes(raw)
}

// WriteRawBSON writes an already-encoded document, or an empty document when
// raw is nil.
func (w *Writer) WriteRawBSON(raw bson.Raw) error {
	if len(raw) == 0 {
		return w.WriteBSON(bson.D{})
	}
	return w.WriteBytes(raw)
}

// Reader deserializes primitives from an underlying stream.
type Reader struct {
	r   io.Reader
	buf [8]byte
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	if _, err := io.ReadFull(r.r, r.buf[:1]); err != nil {
		return 0, fmt.Errorf("reading u8: %s", err)
	}
	return r.buf[0], nil
}

// ReadUint32 reads a little-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	if _, err := io.ReadFull(r.r, r.buf[:4]); err != nil {
		return 0, fmt.Errorf("reading u32: %s", err)
	}
	return binary.LittleEndian.Uint32(r.buf[:4]), nil
}

// ReadUint64 reads a little-endian uint64 (low u32 then high u32).
func (r *Reader) ReadUint64() (uint64, error) {
	if _, err := io.ReadFull(r.r, r.buf[:8]); err != nil {
		return 0, fmt.Errorf("reading u64: %s", err)
	}
	return binary.LittleEndian.Uint64(r.buf[:8]), nil
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return nil, fmt.Errorf("reading %d bytes: %s", n, err)
	}
	return b, nil
}

// ReadString reads a u32 byte length followed by that many UTF-8 bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadRawBSON reads one BSON document using its self-describing length and
// validates it.
func (r *Reader) ReadRawBSON() (bson.Raw, error) {
	if _, err := io.ReadFull(r.r, r.buf[:4]); err != nil {
		return nil, fmt.Errorf("reading bson length: %s", err)
	}
	length := binary.LittleEndian.Uint32(r.buf[:4])
	if length < 5 {
		return nil, fmt.Errorf("bson document length %d below minimum", length)
	}
	doc := make([]byte, length)
	copy(doc, r.buf[:4])
	if _, err := io.ReadFull(r.r, doc[4:]); err != nil {
		return nil, fmt.Errorf("reading bson body: %s", err)
	}
	raw := bson.Raw(doc)
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("validating bson: %s", err)
	}
	return raw, nil
}

// ReadBSON reads one BSON document and unmarshals it into out.
func (r *Reader) ReadBSON(out interface{}) error {
	raw, err := r.ReadRawBSON()
	if err != nil {
		return err
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshaling bson: %s", err)
	}
	return nil
}
