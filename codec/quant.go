package codec

import (
	"fmt"

	"github.com/CasperHK/SkyPulseDB/bitio"
	"github.com/CasperHK/SkyPulseDB/format"
)

// quantRunWriter implements the scaled-integer quantization codec shared by
// the angle and percentage columns: each value is clamped into a fixed-width
// field (or replaced with an out-of-band sentinel for null), and runs of
// repeated codes are collapsed via run-length encoding, since wind direction
// and humidity readings both hold steady for many consecutive samples.
//
// A run record is `value_bits(valueWidth) | run_length(16)`. 16 bits covers
// every run length up to a full block (format.BlockRows = 1024).
type quantRunWriter struct {
	w          *bitio.Writer
	valueWidth int
	have       bool
	curValue   uint64
	runLen     uint64
	count      int
}

func newQuantRunWriter(valueWidth int) *quantRunWriter {
	return &quantRunWriter{w: bitio.NewWriter(), valueWidth: valueWidth}
}

func (q *quantRunWriter) push(value uint64) {
	q.count++

	if !q.have {
		q.have = true
		q.curValue = value
		q.runLen = 1

		return
	}

	if value == q.curValue && q.runLen < 0xFFFF {
		q.runLen++

		return
	}

	q.flush()
	q.curValue = value
	q.runLen = 1
}

func (q *quantRunWriter) flush() {
	if !q.have || q.runLen == 0 {
		return
	}

	q.w.PutBits(q.curValue, q.valueWidth)
	q.w.PutBits(q.runLen, 16)
}

func (q *quantRunWriter) bytes() []byte {
	q.flush()
	q.have = false
	q.runLen = 0

	return q.w.Flush()
}

func (q *quantRunWriter) release() { q.w.Release() }

func decodeQuantRuns(data []byte, count, valueWidth int) ([]uint64, error) {
	out := make([]uint64, 0, count)
	if count == 0 {
		return out, nil
	}

	r := bitio.NewReader(data)
	for len(out) < count {
		value, err := r.GetBits(valueWidth)
		if err != nil {
			return nil, fmt.Errorf("codec: quant: reading run value at output index %d: %w", len(out), err)
		}

		runLen, err := r.GetBits(16)
		if err != nil {
			return nil, fmt.Errorf("codec: quant: reading run length at output index %d: %w", len(out), err)
		}

		for i := uint64(0); i < runLen && len(out) < count; i++ {
			out = append(out, value)
		}
	}

	return out, nil
}

// AngleEncoder quantizes wind-direction degrees (0-359) into a 9-bit field
// with a dedicated null sentinel (format.AngleNullSentinel), followed by RLE.
type AngleEncoder struct {
	rw *quantRunWriter
}

// NewAngleEncoder creates an encoder for a single block's worth of wind
// direction values.
func NewAngleEncoder() *AngleEncoder {
	return &AngleEncoder{rw: newQuantRunWriter(9)}
}

// WriteValue appends a present angle value in degrees; deg must be in [0,359].
func (e *AngleEncoder) WriteValue(deg int) error {
	if deg < 0 || deg > 359 {
		return fmt.Errorf("codec: angle: %d out of range [0,359]", deg)
	}
	e.rw.push(uint64(deg))

	return nil
}

// WriteNull appends a missing angle reading.
func (e *AngleEncoder) WriteNull() {
	e.rw.push(format.AngleNullSentinel)
}

// Len returns the number of values written so far.
func (e *AngleEncoder) Len() int { return e.rw.count }

// Bytes returns the encoded bytes, flushing any pending run.
func (e *AngleEncoder) Bytes() []byte { return e.rw.bytes() }

// Finish releases the encoder's bit writer back to the pool.
func (e *AngleEncoder) Finish() { e.rw.release() }

// DecodeAngle decodes count angle codes; a returned value of
// format.AngleNullSentinel marks a missing reading.
func DecodeAngle(data []byte, count int) ([]uint16, error) {
	raw, err := decodeQuantRuns(data, count, 9)
	if err != nil {
		return nil, fmt.Errorf("codec: angle: %w", err)
	}

	out := make([]uint16, len(raw))
	for i, v := range raw {
		out[i] = uint16(v)
	}

	return out, nil
}

// PercentEncoder quantizes a 0-100 percentage (humidity, cloud cover, etc.)
// into a 7-bit field with a dedicated null sentinel
// (format.PercentNullSentinel), followed by RLE.
type PercentEncoder struct {
	rw *quantRunWriter
}

// NewPercentEncoder creates an encoder for a single block's worth of
// percentage values.
func NewPercentEncoder() *PercentEncoder {
	return &PercentEncoder{rw: newQuantRunWriter(7)}
}

// WriteValue appends a present percentage value; pct must be in [0,100].
func (e *PercentEncoder) WriteValue(pct int) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("codec: percent: %d out of range [0,100]", pct)
	}
	e.rw.push(uint64(pct))

	return nil
}

// WriteNull appends a missing percentage reading.
func (e *PercentEncoder) WriteNull() {
	e.rw.push(format.PercentNullSentinel)
}

// Len returns the number of values written so far.
func (e *PercentEncoder) Len() int { return e.rw.count }

// Bytes returns the encoded bytes, flushing any pending run.
func (e *PercentEncoder) Bytes() []byte { return e.rw.bytes() }

// Finish releases the encoder's bit writer back to the pool.
func (e *PercentEncoder) Finish() { e.rw.release() }

// DecodePercent decodes count percentage codes; a returned value of
// format.PercentNullSentinel marks a missing reading.
func DecodePercent(data []byte, count int) ([]uint8, error) {
	raw, err := decodeQuantRuns(data, count, 7)
	if err != nil {
		return nil, fmt.Errorf("codec: percent: %w", err)
	}

	out := make([]uint8, len(raw))
	for i, v := range raw {
		out[i] = uint8(v)
	}

	return out, nil
}
