package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

// EncodingVersion is the container encoding written by Encode
const EncodingVersion uint16 = 1

const flagHistogram uint16 = 1 << 0

var magic = [4]byte{'T', 'R', 'I', 'X'}

// maxBodyLen bounds the body a header may announce
const maxBodyLen = 1 << 34

// Header precedes every encoded container. It is read in full before any of
// the body.
type Header struct {
	Magic   [4]byte
	Version uint16
	Flags   uint16
	Order   Collation
	Width   uint8
	Count   uint64
	BodyLen uint64
	Digest  [32]byte
}

// Histogram reports whether the header describes a histogram container
func (h Header) Histogram() bool {
	return h.Flags&flagHistogram != 0
}

// Encode writes the header of c followed by its compressed contents
func Encode(w io.Writer, c Container) error {
	raw, count, err := encodeEntries(c)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("index: create zstd encoder: %w", err)
	}
	body := enc.EncodeAll(raw, nil)
	if err := enc.Close(); err != nil {
		return fmt.Errorf("index: close zstd encoder: %w", err)
	}

	h := Header{
		Magic:   magic,
		Version: EncodingVersion,
		Order:   c.Order(),
		Width:   uint8(c.Width()),
		Count:   count,
		BodyLen: uint64(len(body)),
		Digest:  blake3.Sum256(body),
	}
	if hc, ok := c.(interface{ IsHistogram() bool }); ok && hc.IsHistogram() {
		h.Flags |= flagHistogram
	}

	if err := WriteHeader(w, h); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("index: write body: %w", err)
	}
	return nil
}

// WriteHeader writes h in its fixed little-endian layout
func WriteHeader(w io.Writer, h Header) error {
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("index: write header: %w", err)
	}
	return nil
}

// ReadHeader reads and checks a header
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if h.Magic != magic {
		return h, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h.Magic[:])
	}
	if h.Version != EncodingVersion {
		return h, fmt.Errorf("%w: %d", ErrBadVersion, h.Version)
	}
	if !h.Order.Valid() {
		return h, fmt.Errorf("%w: collation order %d", ErrCorrupt, h.Order)
	}
	if h.Width < 1 || h.Width > 3 {
		return h, fmt.Errorf("%w: key width %d", ErrCorrupt, h.Width)
	}
	if h.BodyLen > maxBodyLen {
		return h, fmt.Errorf("%w: body length %d", ErrCorrupt, h.BodyLen)
	}
	return h, nil
}

// Decode reads a container written by Encode into a sealed Memory container
func Decode(r io.Reader) (*Memory, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	// The buffer grows with the bytes actually read, not the announced length.
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(r, int64(h.BodyLen))); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrCorrupt, err)
	}
	if uint64(buf.Len()) != h.BodyLen {
		return nil, fmt.Errorf("%w: body: got %d of %d bytes", ErrCorrupt, buf.Len(), h.BodyLen)
	}
	body := buf.Bytes()
	if blake3.Sum256(body) != h.Digest {
		return nil, fmt.Errorf("%w: body digest mismatch", ErrCorrupt)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("index: create zstd decoder: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorrupt, err)
	}

	m := newMemory(h.Order, int(h.Width), h.Histogram())
	if err := decodeEntries(raw, h, m); err != nil {
		return nil, err
	}
	m.Seal()
	return m, nil
}

// encodeEntries writes each entry as the number of key components shared
// with the previous key, the delta of the first differing component, the
// remaining components, then the value length and value IDs. All numbers
// are uvarints.
func encodeEntries(c Container) ([]byte, uint64, error) {
	it, err := c.Scan(nil)
	if err != nil {
		return nil, 0, err
	}
	defer it.Close()

	var (
		buf   bytes.Buffer
		prev  Key
		count uint64
		tmp   [binary.MaxVarintLen64]byte
	)
	put := func(v uint64) {
		n := binary.PutUvarint(tmp[:], v)
		buf.Write(tmp[:n])
	}
	for it.Next() {
		key := it.Key()
		shared := 0
		if prev != nil {
			for shared < len(key) && key[shared] == prev[shared] {
				shared++
			}
			if shared == len(key) {
				return nil, 0, fmt.Errorf("index: duplicate key %v in %s", key, c.Order())
			}
		}
		put(uint64(shared))
		for i := shared; i < len(key); i++ {
			v := uint64(key[i])
			if i == shared && prev != nil {
				v -= uint64(prev[i])
			}
			put(v)
		}
		value := it.Value()
		put(uint64(len(value)))
		for _, id := range value {
			put(uint64(id))
		}
		prev = append(prev[:0], key...)
		count++
	}
	if err := it.Err(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), count, nil
}

func decodeEntries(raw []byte, h Header, m *Memory) error {
	r := bytes.NewReader(raw)
	next := func() (uint64, error) {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return 0, fmt.Errorf("%w: entry stream: %v", ErrCorrupt, err)
		}
		return v, nil
	}

	width := int(h.Width)
	var prev Key
	for n := uint64(0); n < h.Count; n++ {
		shared, err := next()
		if err != nil {
			return err
		}
		if int(shared) >= width || (prev == nil && shared != 0) {
			return fmt.Errorf("%w: shared prefix %d", ErrCorrupt, shared)
		}
		key := make(Key, width)
		copy(key, prev[:shared])
		for i := int(shared); i < width; i++ {
			v, err := next()
			if err != nil {
				return err
			}
			if i == int(shared) && prev != nil {
				v += uint64(prev[i])
			}
			key[i] = triple.ID(v)
		}
		vlen, err := next()
		if err != nil {
			return err
		}
		if vlen > uint64(r.Len()) {
			return fmt.Errorf("%w: value length %d", ErrCorrupt, vlen)
		}
		var value Value
		if vlen > 0 {
			value = make(Value, vlen)
		}
		for i := range value {
			v, err := next()
			if err != nil {
				return err
			}
			value[i] = triple.ID(v)
		}
		if err := m.Put(key, value); err != nil {
			return err
		}
		prev = key
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}
	return nil
}
