// Package tscodec compresses float64 timestamp and sample arrays using a
// delta encoding followed by zstd.
//
// pkg/sink/kvsink uses it to compress every trial's numeric and signal
// payloads before they are written to badger. pkg/sink/jsonl uses only
// IsNaNOrInf, to decide whether a sample is representable as a JSON
// number. pkg/buffer keeps its live chunks uncompressed in memory;
// compression only applies once data reaches a sink.
package tscodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Codec holds a reusable zstd encoder/decoder pair. Codecs are safe for
// concurrent EncodeFloats/DecodeFloats calls once constructed, matching
// the zstd library's own documented concurrency guarantees, but this
// module never calls them concurrently: the core is single-threaded.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Level selects a zstd speed/ratio tradeoff.
type Level int

const (
	LevelFastest Level = iota + 1
	LevelDefault
	LevelBetterCompression
	LevelBestCompression
)

// New creates a Codec at the given level.
func New(level Level) (*Codec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case LevelFastest:
		encLevel = zstd.SpeedFastest
	case LevelDefault:
		encLevel = zstd.SpeedDefault
	case LevelBetterCompression:
		encLevel = zstd.SpeedBetterCompression
	case LevelBestCompression:
		encLevel = zstd.SpeedBestCompression
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec}, nil
}

// Close releases the decoder's background goroutines.
func (c *Codec) Close() {
	c.decoder.Close()
}

// EncodeFloats delta-encodes a float64 series (first value raw, the rest
// as successive differences) then compresses the delta stream. Monotone or
// near-monotone series, like sample timestamps or slowly varying channel
// values, compress well under this scheme.
func (c *Codec) EncodeFloats(values []float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, values[0]); err != nil {
		return nil, err
	}
	for i := 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if err := binary.Write(buf, binary.LittleEndian, delta); err != nil {
			return nil, err
		}
	}

	return c.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len())), nil
}

// DecodeFloats reverses EncodeFloats. count must equal the original
// series length.
func (c *Codec) DecodeFloats(data []byte, count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}

	r := bytes.NewReader(decompressed)
	values := make([]float64, count)
	if err := binary.Read(r, binary.LittleEndian, &values[0]); err != nil {
		return nil, err
	}
	for i := 1; i < count; i++ {
		var delta float64
		if err := binary.Read(r, binary.LittleEndian, &delta); err != nil {
			return nil, err
		}
		values[i] = values[i-1] + delta
	}
	return values, nil
}

// EncodeMatrix compresses an n-by-c row-major sample matrix by flattening
// it and delegating to EncodeFloats; channel-to-channel correlation in
// neural signals means this is usually within a few percent of a
// per-channel encoding while keeping the container format simple.
func (c *Codec) EncodeMatrix(x [][]float64) ([]byte, error) {
	flat := make([]float64, 0, len(x)*channelCount(x))
	for _, row := range x {
		flat = append(flat, row...)
	}
	return c.EncodeFloats(flat)
}

// DecodeMatrix reverses EncodeMatrix given the original sample and channel
// counts.
func (c *Codec) DecodeMatrix(data []byte, n, ch int) ([][]float64, error) {
	flat, err := c.DecodeFloats(data, n*ch)
	if err != nil {
		return nil, err
	}
	if len(flat) == 0 {
		return nil, nil
	}
	x := make([][]float64, n)
	for i := 0; i < n; i++ {
		x[i] = flat[i*ch : (i+1)*ch]
	}
	return x, nil
}

func channelCount(x [][]float64) int {
	if len(x) == 0 {
		return 0
	}
	return len(x[0])
}

// IsNaNOrInf reports whether v cannot be represented in the JSON sink and
// must be written as null there; the kv sink's binary encoding has no such
// restriction since it stores raw float64 bit patterns.
func IsNaNOrInf(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
