package compress

import (
	"bytes"
	"testing"

	"github.com/CasperHK/SkyPulseDB/format"
	"github.com/stretchr/testify/require"
)

func repetitiveData(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 4)
	}

	return out
}

func TestNoOpCodec_RoundTrip(t *testing.T) {
	c := NewNoOpCodec()
	data := []byte("abc")
	compressed, err := c.Compress(data)
	require.NoError(t, err)
	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, decompressed))
}

func TestS2Codec_RoundTrip(t *testing.T) {
	c := NewS2Codec()
	data := repetitiveData(8192)
	compressed, err := c.Compress(data)
	require.NoError(t, err)
	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, decompressed))
}

func TestZstdCodec_RoundTrip(t *testing.T) {
	c := NewZstdCodec()
	data := repetitiveData(8192)
	compressed, err := c.Compress(data)
	require.NoError(t, err)
	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, decompressed))
	require.Less(t, len(compressed), len(data))
}

func TestLZ4Codec_RoundTrip(t *testing.T) {
	c := NewLZ4Codec()
	data := repetitiveData(8192)
	compressed, err := c.Compress(data)
	require.NoError(t, err)
	decompressed, err := c.Decompress(compressed)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, decompressed))
}

func TestLZ4Codec_EmptyInput(t *testing.T) {
	c := NewLZ4Codec()
	compressed, err := c.Compress(nil)
	require.NoError(t, err)
	require.Nil(t, compressed)
}

func TestGetCodec_UnknownType(t *testing.T) {
	_, err := GetCodec(format.CompressionType(0xFF))
	require.Error(t, err)
}

func TestChooseBest_PicksSmallestAboveThreshold(t *testing.T) {
	data := repetitiveData(16384)
	best, chosen, err := ChooseBest(data, []format.CompressionType{
		format.CompressionS2,
		format.CompressionZstd,
		format.CompressionLZ4,
	})
	require.NoError(t, err)
	require.NotEqual(t, format.CompressionNone, chosen)
	require.Less(t, len(best), len(data))
}

func TestChooseBest_FallsBackToNoneForIncompressibleData(t *testing.T) {
	// A 2-byte input clears the 0.9 ratio threshold only if it shrinks to a
	// single byte, which zstd's frame overhead rules out, so ChooseBest
	// falls back to None.
	data := []byte{0x01, 0x02}
	_, chosen, err := ChooseBest(data, []format.CompressionType{format.CompressionZstd})
	require.NoError(t, err)
	require.Equal(t, format.CompressionNone, chosen)
}

func TestStats_Ratio(t *testing.T) {
	s := Stats{RawSize: 100, CompressedSize: 40}
	require.InDelta(t, 0.4, s.Ratio(), 1e-9)

	s2 := Stats{RawSize: 0, CompressedSize: 0}
	require.Equal(t, 0.0, s2.Ratio())
}
