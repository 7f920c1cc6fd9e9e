package main

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/chewxy/math32"
)

// Portable FloatMap (PFM) reading and writing. Only the 3 channel "PF"
// variant is supported, and only when the payload byte order matches the host.

const (
	pfmMagic       = "PF"
	pfmChannels    = 3
	pfmSampleBytes = 4

	scaleBigEndian    = "1.0"
	scaleLittleEndian = "-1.0"
)

var (
	ErrIO           = errors.New("i/o error")
	ErrFormat       = errors.New("pfm: invalid header")
	ErrSizeMismatch = errors.New("pfm: payload size mismatch")
	ErrEndianness   = errors.New("pfm: byte order differs from host, conversion is not supported")
)

// RasterImage is a top-down, RGB interleaved float32 image.
type RasterImage struct {
	Width  uint32
	Height uint32
	Pix    []float32
}

// SampleCount returns Width*Height*3.
func (img *RasterImage) SampleCount() int {
	return int(img.Width) * int(img.Height) * pfmChannels
}

// Row returns the samples of scanline y (0 = top).
func (img *RasterImage) Row(y int) []float32 {
	stride := int(img.Width) * pfmChannels
	return img.Pix[y*stride : (y+1)*stride]
}

// hostLittleEndian reports whether the host stores the low byte of an
// integer first. Computed once.
var hostLittleEndian = sync.OnceValue(func() bool {
	var probe [4]byte
	binary.NativeEndian.PutUint32(probe[:], 1)
	return probe[0] == 1
})

// ReadPFMFile loads and parses a PFM file.
func ReadPFMFile(path string) (*RasterImage, error) {
	data, err := readWholeFile(path)
	if err != nil {
		return nil, err
	}
	return DecodePFM(path, data)
}

func readWholeFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open %s for reading: %w", ErrIO, path, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	size := st.Size()
	// Avoid invalid file or directory.
	if size < 0 || uint64(size) >= math.MaxInt || st.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s has unusable size %d", ErrIO, path, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %s: %w", ErrIO, path, err)
	}
	return data, nil
}

// DecodePFM parses an in-memory PFM file. name is only used in error messages.
func DecodePFM(name string, data []byte) (*RasterImage, error) {
	rest := data

	magic, rest, ok := cutToken(rest, '\n')
	if !ok || magic != pfmMagic {
		return nil, fmt.Errorf("%w: %s doesn't seem to be a 3 channel Portable FloatMap file (missing 'PF\\n' bytes)", ErrFormat, name)
	}
	widthTok, rest, ok := cutToken(rest, ' ')
	if !ok {
		return nil, fmt.Errorf("%w: %s: truncated header, width", ErrFormat, name)
	}
	heightTok, rest, ok := cutToken(rest, '\n')
	if !ok {
		return nil, fmt.Errorf("%w: %s: truncated header, height", ErrFormat, name)
	}
	scaleTok, _, ok := cutToken(rest, '\n')
	if !ok {
		return nil, fmt.Errorf("%w: %s: truncated header, scale", ErrFormat, name)
	}

	width, err := parseDimension(widthTok)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: width: %w", ErrFormat, name, err)
	}
	height, err := parseDimension(heightTok)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: height: %w", ErrFormat, name, err)
	}

	var payloadLittleEndian bool
	switch scaleTok {
	case scaleBigEndian:
		payloadLittleEndian = false
	case scaleLittleEndian:
		payloadLittleEndian = true
	default:
		return nil, fmt.Errorf("%w: %s (endianness token %q isn't '1.0' or '-1.0')", ErrFormat, name, scaleTok)
	}

	offset := uint64(len(magic) + len(widthTok) + len(heightTok) + len(scaleTok) + 4)
	if uint64(width)*uint64(height) > uint64(math.MaxInt)/(pfmChannels*pfmSampleBytes) {
		return nil, fmt.Errorf("%w: %s: file is %d bytes, %dx%d samples do not fit in memory",
			ErrSizeMismatch, name, len(data), width, height)
	}
	payload :=uint64(width) * uint64(height) * pfmChannels * pfmSampleBytes
	if uint64(len(data)) != offset+payload {
		return nil, fmt.Errorf("%w: %s: file is %d bytes, expected %d*%d*3*4 + %d (%d)",
			ErrSizeMismatch, name, len(data), height, width, offset, offset+payload)
	}

	if hostLittleEndian() != payloadLittleEndian {
		return nil, fmt.Errorf("%w: %s", ErrEndianness, name)
	}

	img := &RasterImage{Width: width, Height: height}
	img.Pix = make([]float32, img.SampleCount())

	// Payload rows are stored bottom first.
	stride := int(width) * pfmChannels
	src := data[offset:]
	for y := 0; y < int(height); y++ {
		dst := img.Row(int(height) - 1 - y)
		row := src[y*stride*pfmSampleBytes : (y+1)*stride*pfmSampleBytes]
		for i := range dst {
			dst[i] = math32.Float32frombits(binary.NativeEndian.Uint32(row[i*pfmSampleBytes:]))
		}
	}
	return img, nil
}

// cutToken returns the bytes before the first sep as a string, and the
// remainder after sep.
func cutToken(b []byte, sep byte) (string, []byte, bool) {
	before, after, found := bytes.Cut(b, []byte{sep})
	if !found {
		return "", b, false
	}
	return string(before), after, true
}

func parseDimension(tok string) (uint32, error) {
	v, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, errors.New("dimension must be positive")
	}
	return uint32(v), nil
}

// WritePFM serializes img as a PFM file in host byte order, bottom row first.
func WritePFM(w io.Writer, img *RasterImage) error {
	if len(img.Pix) != img.SampleCount() {
		return fmt.Errorf("pfm: image has %d samples, expected %d", len(img.Pix), img.SampleCount())
	}

	scale := scaleBigEndian
	if hostLittleEndian() {
		scale = scaleLittleEndian
	}

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%s\n%d %d\n%s\n", pfmMagic, img.Width, img.Height, scale); err != nil {
		return err
	}

	var sample [pfmSampleBytes]byte
	for y := int(img.Height) - 1; y >= 0; y-- {
		for _, v := range img.Row(y) {
			binary.NativeEndian.PutUint32(sample[:], math32.Float32bits(v))
			if _, err := bw.Write(sample[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
