package index

import (
	"bytes"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/tristore/internal/triple"
)

func TestCodecRoundTrip(t *testing.T) {
	m := NewMemory(POS)
	for s := triple.ID(1); s <= 50; s++ {
		fill(t, m, ids(s, s%4+1, 1000-s))
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))

	h, err := ReadHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Equal(t, POS, h.Order)
	require.EqualValues(t, 3, h.Width)
	require.EqualValues(t, 50, h.Count)
	require.False(t, h.Histogram())

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, POS, got.Order())
	require.Equal(t, keys(t, m, nil), keys(t, got, nil))
}

func TestCodecHistogramKeepsValues(t *testing.T) {
	m := NewMemory(SPO)
	fill(t, m, ids(1, 1, 1), ids(1, 1, 2), ids(3, 1, 1))
	hist, err := m.CreateHistogramIndex(SPO, 1)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, hist))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.True(t, got.IsHistogram())
	n, err := HistogramCount(got, Key{1})
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestCodecEmptyContainer(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, NewMemory(OSP)))

	got, err := Decode(&buf)
	require.NoError(t, err)
	require.Zero(t, got.Size())
}

func TestCodecDetectsCorruption(t *testing.T) {
	m := NewMemory(SPO)
	fill(t, m, ids(1, 2, 3), ids(4, 5, 6))

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, m))
	data := buf.Bytes()

	flipped := append([]byte(nil), data...)
	flipped[len(flipped)-1] ^= 0xff
	_, err := Decode(bytes.NewReader(flipped))
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode(bytes.NewReader(data[:len(data)-2]))
	require.ErrorIs(t, err, ErrCorrupt)

	badMagic := append([]byte(nil), data...)
	badMagic[0] = 'X'
	_, err = Decode(bytes.NewReader(badMagic))
	require.ErrorIs(t, err, ErrCorrupt)

	badVersion := append([]byte(nil), data...)
	badVersion[4] = 9
	_, err = Decode(bytes.NewReader(badVersion))
	require.ErrorIs(t, err, ErrBadVersion)
}

func TestCodecTruncatedBodyDoesNotTrustHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, Header{
		Magic:   magic,
		Version: EncodingVersion,
		Order:   SPO,
		Width:   3,
		BodyLen: maxBodyLen,
	}))
	buf.WriteString("short body")

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := Decode(bytes.NewReader(buf.Bytes()))
	runtime.ReadMemStats(&after)

	require.ErrorIs(t, err, ErrCorrupt)
	require.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}
