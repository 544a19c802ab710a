package codec

import (
	"fmt"

	"github.com/CasperHK/SkyPulseDB/bitio"
)

// Delta-of-delta prefix codes. Ranges are encoded as a
// biased unsigned offset spanning exactly the field width (the classic
// Gorilla-paper scheme): dod-codeMin fits unsigned in the field's bit
// width, which is what actually makes the asymmetric ranges below
// (e.g. [-63,64] in 7 bits) come out even; a literal zigzag mapping
// overflows the upper bound of every row (zigzag(64) needs 8 bits, not 7).
// The unbounded escape row has no natural bias and uses real zigzag instead.
const (
	dodRange1Min, dodRange1Max = -63, 64
	dodRange2Min, dodRange2Max = -255, 256
	dodRange3Min, dodRange3Max = -2047, 2048
)

// DeltaDeltaEncoder implements the delta-of-delta timestamp codec: the
// first timestamp is stored raw, the second as a delta, and every
// subsequent one as the difference between consecutive deltas, using the
// shortest prefix code that covers its magnitude.
type DeltaDeltaEncoder struct {
	w         *bitio.Writer
	prevTs    int64
	prevDelta int64
	count     int
}

// NewDeltaDeltaEncoder creates an encoder for a single block's worth of
// strictly non-decreasing int64 timestamps.
func NewDeltaDeltaEncoder() *DeltaDeltaEncoder {
	return &DeltaDeltaEncoder{w: bitio.NewWriter()}
}

// Write appends one timestamp (microseconds since epoch) to the block.
func (e *DeltaDeltaEncoder) Write(ts int64) error {
	e.count++

	switch e.count {
	case 1:
		e.w.PutBits(uint64(ts), 64)
		e.prevTs = ts

		return nil
	case 2:
		delta := ts - e.prevTs
		if err := writeSecondDelta(e.w, delta); err != nil {
			return err
		}
		e.prevDelta = delta
		e.prevTs = ts

		return nil
	default:
		delta := ts - e.prevTs
		dod := delta - e.prevDelta
		if err := writeDod(e.w, dod); err != nil {
			return err
		}
		e.prevDelta = delta
		e.prevTs = ts

		return nil
	}
}

// Len returns the number of timestamps written so far.
func (e *DeltaDeltaEncoder) Len() int { return e.count }

// Bytes returns the encoded bytes, flushing any pending bits.
func (e *DeltaDeltaEncoder) Bytes() []byte { return e.w.Flush() }

// Finish releases the encoder's bit writer back to the pool.
func (e *DeltaDeltaEncoder) Finish() { e.w.Release() }

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(z uint64) int64 {
	return int64(z>>1) ^ -int64(z&1)
}

// writeSecondDelta encodes the second timestamp's delta: a single
// discriminator bit (0 = 14-bit zigzag follows, 1111 = escape to a raw
// 64-bit delta), matching the escape prefix used by the dod table.
func writeSecondDelta(w *bitio.Writer, delta int64) error {
	z := zigzag(delta)
	if z <= 0x3FFF {
		w.PutBit(0)
		w.PutBits(z, 14)

		return nil
	}

	w.PutBits(0b1111, 4)
	w.PutBits(uint64(delta), 64)

	return nil
}

func readSecondDelta(r *bitio.Reader) (int64, error) {
	first, err := r.GetBit()
	if err != nil {
		return 0, fmt.Errorf("codec: deltadelta: reading second-delta discriminator: %w", err)
	}

	if first == 0 {
		z, err := r.GetBits(14)
		if err != nil {
			return 0, fmt.Errorf("codec: deltadelta: reading 14-bit second delta: %w", err)
		}

		return unzigzag(z), nil
	}

	// Consume the remaining 3 bits of the 1111 escape prefix.
	rest, err := r.GetBits(3)
	if err != nil || rest != 0b111 {
		return 0, fmt.Errorf("codec: deltadelta: malformed second-delta escape prefix")
	}

	raw, err := r.GetBits(64)
	if err != nil {
		return 0, fmt.Errorf("codec: deltadelta: reading escaped second delta: %w", err)
	}

	return int64(raw), nil
}

// writeDod encodes a delta-of-delta value using the five-row prefix table
// above.
func writeDod(w *bitio.Writer, dod int64) error {
	switch {
	case dod == 0:
		w.PutBit(0)
	case dod >= dodRange1Min && dod <= dodRange1Max:
		w.PutBits(0b10, 2)
		w.PutBits(uint64(dod-dodRange1Min), 7)
	case dod >= dodRange2Min && dod <= dodRange2Max:
		w.PutBits(0b110, 3)
		w.PutBits(uint64(dod-dodRange2Min), 9)
	case dod >= dodRange3Min && dod <= dodRange3Max:
		w.PutBits(0b1110, 4)
		w.PutBits(uint64(dod-dodRange3Min), 12)
	default:
		z := zigzag(dod)
		if z > 0xFFFFFFFF {
			return fmt.Errorf("codec: deltadelta: delta-of-delta %d exceeds the 32-bit escape range", dod)
		}
		w.PutBits(0b1111, 4)
		w.PutBits(z, 32)
	}

	return nil
}

func readDod(r *bitio.Reader) (int64, error) {
	b0, err := r.GetBit()
	if err != nil {
		return 0, fmt.Errorf("codec: deltadelta: reading dod prefix: %w", err)
	}
	if b0 == 0 {
		return 0, nil
	}

	b1, err := r.GetBit()
	if err != nil {
		return 0, fmt.Errorf("codec: deltadelta: reading dod prefix: %w", err)
	}
	if b1 == 0 {
		v, err := r.GetBits(7)
		if err != nil {
			return 0, fmt.Errorf("codec: deltadelta: reading 7-bit dod: %w", err)
		}

		return int64(v) + dodRange1Min, nil
	}

	b2, err := r.GetBit()
	if err != nil {
		return 0, fmt.Errorf("codec: deltadelta: reading dod prefix: %w", err)
	}
	if b2 == 0 {
		v, err := r.GetBits(9)
		if err != nil {
			return 0, fmt.Errorf("codec: deltadelta: reading 9-bit dod: %w", err)
		}

		return int64(v) + dodRange2Min, nil
	}

	b3, err := r.GetBit()
	if err != nil {
		return 0, fmt.Errorf("codec: deltadelta: reading dod prefix: %w", err)
	}
	if b3 == 0 {
		v, err := r.GetBits(12)
		if err != nil {
			return 0, fmt.Errorf("codec: deltadelta: reading 12-bit dod: %w", err)
		}

		return int64(v) + dodRange3Min, nil
	}

	z, err := r.GetBits(32)
	if err != nil {
		return 0, fmt.Errorf("codec: deltadelta: reading 32-bit escaped dod: %w", err)
	}

	return unzigzag(z), nil
}

// DecodeDeltaDelta decodes count timestamps from a delta-of-delta encoded
// block.
func DecodeDeltaDelta(data []byte, count int) ([]int64, error) {
	out := make([]int64, 0, count)
	if count == 0 {
		return out, nil
	}

	r := bitio.NewReader(data)

	firstBits, err := r.GetBits(64)
	if err != nil {
		return nil, fmt.Errorf("codec: deltadelta: reading first timestamp: %w", err)
	}
	ts := int64(firstBits)
	out = append(out, ts)

	if count == 1 {
		return out, nil
	}

	delta, err := readSecondDelta(r)
	if err != nil {
		return nil, err
	}
	ts += delta
	out = append(out, ts)

	for i := 2; i < count; i++ {
		dod, err := readDod(r)
		if err != nil {
			return nil, fmt.Errorf("codec: deltadelta: at index %d: %w", i, err)
		}

		delta += dod
		ts += delta
		out = append(out, ts)
	}

	return out, nil
}
