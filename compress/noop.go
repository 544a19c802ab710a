package compress

// NoOpCodec bypasses compression. Used when a block's raw form is already
// smaller than any wrapped candidate, or when compression is disabled by
// configuration.
type NoOpCodec struct{}

var _ Codec = NoOpCodec{}

// NewNoOpCodec creates a codec that copies data through unchanged.
func NewNoOpCodec() NoOpCodec { return NoOpCodec{} }

func (c NoOpCodec) Compress(data []byte) ([]byte, error) { return data, nil }

func (c NoOpCodec) Decompress(data []byte) ([]byte, error) { return data, nil }
