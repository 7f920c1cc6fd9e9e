package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/chewxy/math32"
)

var (
	ErrInvalidMagic = errors.New("pfz: invalid magic")
	ErrCorrupt      = errors.New("pfz: corrupt stream")
)

// maxDecodedBytes bounds the sample planes a header may declare.
const maxDecodedBytes uint64 = 4 << 30

// Decode reads a PFZ stream back into a RasterImage.
func Decode(data []byte) (*RasterImage, error) {
	if len(data) < pfzHeaderSize {
		return nil, fmt.Errorf("%w: header is %d bytes, got %d", ErrCorrupt, pfzHeaderSize, len(data))
	}
	if string(data[0:4]) != pfzMagic {
		return nil, ErrInvalidMagic
	}

	codec := Codec(data[4])
	if !codec.valid() {
		return nil, fmt.Errorf("%w %d", ErrUnknownCodec, data[4])
	}
	if data[5] != pfmChannels || data[6] != pfzSampleFloat32 {
		return nil, fmt.Errorf("%w: unsupported layout, channels=%d type=%d", ErrCorrupt, data[5], data[6])
	}
	shuffled := data[7]&pfzFlagShuffled != 0
	width := binary.BigEndian.Uint32(data[8:12])
	height := binary.BigEndian.Uint32(data[12:16])
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("%w: invalid dimensions %dx%d", ErrCorrupt, width, height)
	}
	limit := min(maxDecodedBytes, uint64(math.MaxInt))
	if uint64(width)*uint64(height) > limit/(pfmChannels*pfmSampleBytes) {
		return nil, fmt.Errorf("%w: dimensions %dx%d exceed the %d byte limit", ErrCorrupt, width, height, limit)
	}

	img := &RasterImage{Width: width, Height: height}
	n := img.SampleCount()

	planes, err := decompressPlanes(data[pfzHeaderSize:], codec, n*4)
	if err != nil {
		return nil, err
	}

	img.Pix = make([]float32, n)
	for i := range img.Pix {
		var bits uint32
		if shuffled {
			bits = uint32(planes[i]) | uint32(planes[n+i])<<8 | uint32(planes[2*n+i])<<16 | uint32(planes[3*n+i])<<24
		} else {
			bits = binary.LittleEndian.Uint32(planes[i*4:])
		}
		img.Pix[i] = math32.Float32frombits(bits)
	}
	return img, nil
}

// decompressPlanes grows its output while decoding, so a header claiming
// more samples than the stream holds costs no more than the stream itself.
func decompressPlanes(payload []byte, codec Codec, size int) ([]byte, error) {
	var planes []byte
	if codec == CodecZstd {
		var err error
		if planes, err = decompressZstdInto(nil, payload); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, codec, err)
		}
	} else {
		dec, err := newStreamDecompressor(bytes.NewReader(payload), codec)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, codec, err)
		}
		// One byte past size is enough to notice trailing data.
		if planes, err = io.ReadAll(io.LimitReader(dec, int64(size)+1)); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, codec, err)
		}
	}
	if len(planes) != size {
		return nil, fmt.Errorf("%w: %s: got %d bytes of samples, expected %d", ErrCorrupt, codec, len(planes), size)
	}
	return planes, nil
}
