// Package codec implements the column encoders and decoders: Gorilla XOR
// compression for float64 values, delta-of-delta compression for int64
// timestamps, scaled-integer quantization for angle and percentage columns,
// and a raw fallback. Every codec operates on a single fixed-size block
// (default 1024 rows) and is built on top of the bitio package rather than
// inlining its own bit buffer.
package codec

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/CasperHK/SkyPulseDB/bitio"
)

// GorillaEncoder implements Facebook's Gorilla XOR compression for a block
// of float64 values: the first value is stored raw; each subsequent value
// is XORed with its predecessor, and a zero XOR costs a single bit. A
// non-zero XOR is described by its leading/trailing zero "window", reusing
// the previous window when possible.
type GorillaEncoder struct {
	w             *bitio.Writer
	prevValue     uint64
	prevLeading   int
	prevTrailing  int
	count         int
	haveFirst     bool
	haveWindow    bool
}

// NewGorillaEncoder creates an encoder for a single block's worth of
// float64 values. Call Finish to release its bit writer.
func NewGorillaEncoder() *GorillaEncoder {
	return &GorillaEncoder{w: bitio.NewWriter()}
}

// Write appends one value to the block. val must not be NaN; the engine
// boundary rejects NaN before it reaches the codec, because NaN would
// violate "XOR-equal implies value-equal".
func (e *GorillaEncoder) Write(val float64) error {
	if math.IsNaN(val) {
		return fmt.Errorf("codec: gorilla: NaN is not representable")
	}

	bits64 := math.Float64bits(val)
	e.count++

	if !e.haveFirst {
		e.haveFirst = true
		e.prevValue = bits64
		e.w.PutBits(bits64, 64)

		return nil
	}

	xor := bits64 ^ e.prevValue
	e.prevValue = bits64

	if xor == 0 {
		e.w.PutBit(0)

		return nil
	}

	e.w.PutBit(1)

	leading := bits.LeadingZeros64(xor)
	trailing := bits.TrailingZeros64(xor)
	if leading > 31 {
		// The leading-zero field only has 5 bits (0-31); clamp and give the
		// surplus back to the meaningful window so it still covers every set bit.
		adjustment := leading - 31
		leading = 31
		trailing -= adjustment
		if trailing < 0 {
			trailing = 0
		}
	}

	if e.haveWindow && leading >= e.prevLeading && trailing >= e.prevTrailing {
		e.w.PutBit(0)
		meaningful := 64 - e.prevLeading - e.prevTrailing
		e.w.PutBits(xor>>uint(e.prevTrailing), meaningful)

		return nil
	}

	meaningful := 64 - leading - trailing
	e.w.PutBit(1)
	e.w.PutBits(uint64(leading), 5)
	// meaningful_length field: 0 encodes 64, otherwise the literal length.
	lengthField := meaningful % 64
	e.w.PutBits(uint64(lengthField), 6)
	e.w.PutBits(xor>>uint(trailing), meaningful)

	e.prevLeading = leading
	e.prevTrailing = trailing
	e.haveWindow = true

	return nil
}

// Len returns the number of values written so far.
func (e *GorillaEncoder) Len() int { return e.count }

// Bytes returns the encoded bytes, flushing any pending bits.
func (e *GorillaEncoder) Bytes() []byte { return e.w.Flush() }

// Finish releases the encoder's bit writer back to the pool.
func (e *GorillaEncoder) Finish() { e.w.Release() }

// DecodeGorilla decodes count float64 values from a Gorilla-encoded block.
func DecodeGorilla(data []byte, count int) ([]float64, error) {
	out := make([]float64, 0, count)
	if count == 0 {
		return out, nil
	}

	r := bitio.NewReader(data)

	firstBits, err := r.GetBits(64)
	if err != nil {
		return nil, fmt.Errorf("codec: gorilla: reading first value: %w", err)
	}

	prevValue := firstBits
	out = append(out, math.Float64frombits(prevValue))

	prevLeading, prevTrailing := 0, 0
	haveWindow := false

	for i := 1; i < count; i++ {
		control, err := r.GetBit()
		if err != nil {
			return nil, fmt.Errorf("codec: gorilla: reading control bit at index %d: %w", i, err)
		}

		if control == 0 {
			out = append(out, math.Float64frombits(prevValue))

			continue
		}

		reuse, err := r.GetBit()
		if err != nil {
			return nil, fmt.Errorf("codec: gorilla: reading reuse bit at index %d: %w", i, err)
		}

		var leading, meaningful int
		if reuse == 0 {
			if !haveWindow {
				return nil, fmt.Errorf("codec: gorilla: reuse bit set with no prior window at index %d", i)
			}
			leading = prevLeading
			meaningful = 64 - prevLeading - prevTrailing
		} else {
			leadingBits, err := r.GetBits(5)
			if err != nil {
				return nil, fmt.Errorf("codec: gorilla: reading leading bits at index %d: %w", i, err)
			}
			lengthBits, err := r.GetBits(6)
			if err != nil {
				return nil, fmt.Errorf("codec: gorilla: reading length bits at index %d: %w", i, err)
			}

			leading = int(leadingBits)
			meaningful = int(lengthBits)
			if meaningful == 0 {
				meaningful = 64
			}
			prevTrailing = 64 - leading - meaningful
			prevLeading = leading
			haveWindow = true
		}

		trailing := 64 - leading - meaningful
		if trailing < 0 || meaningful <= 0 || meaningful > 64 {
			return nil, fmt.Errorf("codec: gorilla: corrupt block geometry at index %d", i)
		}

		meaningfulBits, err := r.GetBits(meaningful)
		if err != nil {
			return nil, fmt.Errorf("codec: gorilla: reading meaningful bits at index %d: %w", i, err)
		}

		prevValue ^= meaningfulBits << uint(trailing)
		out = append(out, math.Float64frombits(prevValue))
	}

	return out, nil
}
