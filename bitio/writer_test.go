package bitio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriter_PutBits_RoundTrip(t *testing.T) {
	w := NewWriter()
	defer w.Release()

	w.PutBits(0b101, 3)
	w.PutBits(0xFF, 8)
	w.PutBits(1, 1)
	w.PutBits(0x1FFFFFFFFFFFFFFF, 64)

	data := w.Flush()

	r := NewReader(data)
	v, err := r.GetBits(3)
	require.NoError(t, err)
	require.Equal(t, uint64(0b101), v)

	v, err = r.GetBits(8)
	require.NoError(t, err)
	require.Equal(t, uint64(0xFF), v)

	v, err = r.GetBits(1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)

	v, err = r.GetBits(64)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1FFFFFFFFFFFFFFF), v)
}

func TestWriter_AlignByte(t *testing.T) {
	w := NewWriter()
	defer w.Release()

	w.PutBits(0b1, 1)
	w.AlignByte()
	data := w.Flush()

	require.Len(t, data, 1)
	require.Equal(t, byte(0b10000000), data[0])
}

func TestWriter_CrossesByteBoundaries(t *testing.T) {
	w := NewWriter()
	defer w.Release()

	var want []uint64
	var widths []int
	for i := 0; i < 200; i++ {
		width := (i % 17) + 1
		value := uint64(i*2654435761 + 1)
		want = append(want, value)
		widths = append(widths, width)
		w.PutBits(value, width)
	}

	data := w.Flush()
	r := NewReader(data)

	for i, width := range widths {
		mask := uint64(1)<<uint(width) - 1
		if width == 64 {
			mask = ^uint64(0)
		}

		v, err := r.GetBits(width)
		require.NoError(t, err)
		require.Equal(t, want[i]&mask, v, "mismatch at index %d (width %d)", i, width)
	}
}

func TestReader_GetBits_ErrorsOnTruncatedStream(t *testing.T) {
	w := NewWriter()
	defer w.Release()

	w.PutBits(0b1010, 4)
	data := w.Flush()

	r := NewReader(data)
	_, err := r.GetBits(4)
	require.NoError(t, err)

	_, err = r.GetBits(8)
	require.Error(t, err)
}

func TestWriter_BitLen(t *testing.T) {
	w := NewWriter()
	defer w.Release()

	require.Equal(t, 0, w.BitLen())
	w.PutBits(1, 5)
	require.Equal(t, 5, w.BitLen())
	w.PutBits(1, 64)
	require.Equal(t, 69, w.BitLen())
}
