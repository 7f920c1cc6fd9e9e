package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec selects the stream compressor used for the sample planes.
type Codec uint8

const (
	CodecZstd Codec = iota + 1
	CodecLZ4
	CodecXZ
	CodecBrotli
)

var ErrUnknownCodec = errors.New("pfz: unknown codec")

var codecNames = map[Codec]string{
	CodecZstd:   "zstd",
	CodecLZ4:    "lz4",
	CodecXZ:     "xz",
	CodecBrotli: "brotli",
}

func (c Codec) String() string {
	if name, ok := codecNames[c]; ok {
		return name
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

func (c Codec) valid() bool {
	_, ok := codecNames[c]
	return ok
}

// ParseCodec maps a codec name as given on the command line.
func ParseCodec(name string) (Codec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range codecNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownCodec, name)
}

// levelRange returns the accepted compression levels for c; 0 always means
// the codec default.
func (c Codec) levelRange() (lo, hi int) {
	switch c {
	case CodecZstd:
		return 1, 22
	case CodecLZ4:
		return 1, 9
	case CodecBrotli:
		// Brotli's own level 0 is not selectable since 0 means default.
		return 1, 11
	}
	return 0, 0
}

// ValidateLevel clamps level into the range accepted by c.
func (c Codec) ValidateLevel(level int) int {
	if level == 0 {
		return 0
	}
	lo, hi := c.levelRange()
	if level < lo {
		return lo
	}
	if level > hi {
		return hi
	}
	return level
}

// --- compressors ---

var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4, lz4.Level5,
	lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

const defaultBrotliLevel = 6

func newCompressor(w io.Writer, opts EncoderOptions) (io.WriteCloser, error) {
	switch opts.Codec {
	case CodecZstd:
		zopts := []zstd.EOption{
			zstd.WithEncoderConcurrency(opts.Workers),
		}
		if opts.Level > 0 {
			zopts = append(zopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)))
		} else {
			zopts = append(zopts, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		}
		return zstd.NewWriter(w, zopts...)

	case CodecLZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(
			lz4.CompressionLevelOption(lz4Levels[opts.Level]),
			lz4.ConcurrencyOption(opts.Workers),
		); err != nil {
			return nil, err
		}
		return zw, nil

	case CodecXZ:
		return xz.NewWriter(w)

	case CodecBrotli:
		level := opts.Level
		if level == 0 {
			level = defaultBrotliLevel
		}
		return brotli.NewWriterLevel(w, level), nil
	}
	return nil, fmt.Errorf("%w %d", ErrUnknownCodec, uint8(opts.Codec))
}

// --- decompressors ---

func mustNewZstdDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(
		nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxMemory(maxDecodedBytes),
	)
	if err != nil {
		panic(err)
	}
	return dec
}

var zstdDecPool = sync.Pool{
	New: func() any {
		return mustNewZstdDecoder()
	},
}

// decompressZstdInto decodes a whole zstd stream, appending to dst[:0].
func decompressZstdInto(dst []byte, data []byte) ([]byte, error) {
	dec := zstdDecPool.Get().(*zstd.Decoder)
	out, err := dec.DecodeAll(data, dst[:0])
	zstdDecPool.Put(dec)
	return out, err
}

// newStreamDecompressor covers the codecs that are read incrementally; zstd
// goes through decompressZstdInto.
func newStreamDecompressor(r io.Reader, c Codec) (io.Reader, error) {
	switch c {
	case CodecLZ4:
		return lz4.NewReader(r), nil
	case CodecXZ:
		return xz.NewReader(r)
	case CodecBrotli:
		return brotli.NewReader(r), nil
	}
	return nil, fmt.Errorf("%w %d", ErrUnknownCodec, uint8(c))
}
