// PFZ is a small container for float32 RGB images: a fixed 16 byte header
// followed by the byte-plane shuffled samples, compressed with one of the
// stream codecs. The Encoder below exposes it through the Producer protocol
// so the caller controls the output buffer.

package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/chewxy/math32"
)

const (
	pfzMagic      = "PFZ1"
	pfzHeaderSize = 16

	pfzSampleFloat32 = 1
	pfzFlagShuffled  = 1 << 0
)

// amount of plane data handed to the compressor per ProcessOutput round.
const encodeChunkSize = 32 << 10

type SampleType uint8

const (
	TypeFloat32 SampleType = iota + 1
)

type Endianness uint8

const (
	NativeEndian Endianness = iota
	LittleEndian
	BigEndian
)

// PixelFormat describes the caller's pixel buffer.
type PixelFormat struct {
	Channels   int
	Type       SampleType
	Endianness Endianness
	Align      int
}

// RasterFormat is the only pixel layout the encoder accepts: interleaved RGB
// float32 in host byte order, no row padding.
var RasterFormat = PixelFormat{Channels: 3, Type: TypeFloat32, Endianness: NativeEndian, Align: 0}

// EncoderOptions configures an Encoder. Zero values pick defaults.
type EncoderOptions struct {
	Codec   Codec
	Level   int
	Workers int
}

func (o EncoderOptions) normalize() EncoderOptions {
	if o.Codec == 0 {
		o.Codec = CodecZstd
	}
	if o.Workers < 1 {
		o.Workers = DefaultWorkers()
	}
	o.Level = o.Codec.ValidateLevel(o.Level)
	return o
}

// Encoder turns one RasterImage into a PFZ stream. Use NewEncoder, configure
// it with SetDimensions and AddImageFrame, call ProcessOutput until it
// reports StatusSuccess, and always Close it.
type Encoder struct {
	opts   EncoderOptions
	runner *Runner

	width, height uint32
	planes        []byte

	pending outputQueue
	comp    io.WriteCloser
	fed     int
	started bool
	flushed bool
	closed  bool
	err     error
}

func NewEncoder(opts EncoderOptions) *Encoder {
	return &Encoder{opts: opts.normalize()}
}

// SetParallelRunner makes the encoder prepare planes on r instead of the
// calling goroutine. The runner is borrowed, not owned.
func (e *Encoder) SetParallelRunner(r *Runner) error {
	if err := e.usable(); err != nil {
		return err
	}
	e.runner = r
	return nil
}

func (e *Encoder) SetDimensions(width, height uint32) error {
	if err := e.usable(); err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return e.fail(fmt.Errorf("invalid dimensions %dx%d", width, height))
	}
	e.width, e.height = width, height
	return nil
}

// AddImageFrame copies pix into the encoder. pix must hold width*height*3
// samples in the layout described by format.
func (e *Encoder) AddImageFrame(format PixelFormat, pix []float32) error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.width == 0 {
		return e.fail(errors.New("dimensions not set"))
	}
	if format != RasterFormat {
		return e.fail(fmt.Errorf("unsupported pixel format %+v", format))
	}
	want := int(e.width) * int(e.height) * format.Channels
	if len(pix) != want {
		return e.fail(fmt.Errorf("frame has %d samples, expected %d", len(pix), want))
	}
	if e.planes != nil {
		return e.fail(errors.New("frame already added"))
	}

	e.planes = make([]byte, len(pix)*4)
	if err := e.shuffle(pix); err != nil {
		return e.fail(err)
	}
	return nil
}

// shuffle splits every sample into its 4 little-endian bytes, plane by plane.
func (e *Encoder) shuffle(pix []float32) error {
	n := len(pix)
	work := func(start, end int) {
		for i := start; i < end; i++ {
			bits := math32.Float32bits(pix[i])
			e.planes[i] = byte(bits)
			e.planes[n+i] = byte(bits >> 8)
			e.planes[2*n+i] = byte(bits >> 16)
			e.planes[3*n+i] = byte(bits >> 24)
		}
	}
	if e.runner == nil {
		work(0, n)
		return nil
	}
	return e.runner.Run(n, work)
}

// ProcessOutput implements Producer.
func (e *Encoder) ProcessOutput(dst []byte) (int, Status) {
	if e.usable() != nil {
		return 0, StatusError
	}
	if e.planes == nil {
		e.fail(errors.New("no frame added"))
		return 0, StatusError
	}
	if !e.started {
		if err := e.start(); err != nil {
			e.fail(err)
			return 0, StatusError
		}
	}

	n := 0
	for {
		k, _ := e.pending.Read(dst[n:])
		n += k
		if e.pending.Len() > 0 {
			return n, StatusNeedMoreOutput
		}
		if e.flushed {
			return n, StatusSuccess
		}
		if err := e.advance(); err != nil {
			e.fail(err)
			return n, StatusError
		}
	}
}

func (e *Encoder) start() error {
	var hdr [pfzHeaderSize]byte
	copy(hdr[0:4], pfzMagic)
	hdr[4] = byte(e.opts.Codec)
	hdr[5] = pfmChannels
	hdr[6] = pfzSampleFloat32
	hdr[7] = pfzFlagShuffled
	binary.BigEndian.PutUint32(hdr[8:12], e.width)
	binary.BigEndian.PutUint32(hdr[12:16], e.height)
	e.pending.Write(hdr[:])

	comp, err := newCompressor(&e.pending, e.opts)
	if err != nil {
		return fmt.Errorf("%s: %w", e.opts.Codec, err)
	}
	e.comp = comp
	e.started = true
	logger.Debug("encoder started", "codec", e.opts.Codec, "level", e.opts.Level,
		"workers", e.opts.Workers, "width", e.width, "height", e.height)
	return nil
}

// advance feeds the next chunk of planes into the compressor, or finishes
// the stream once everything was fed.
func (e *Encoder) advance() error {
	if e.fed < len(e.planes) {
		end := min(e.fed+encodeChunkSize, len(e.planes))
		if _, err := e.comp.Write(e.planes[e.fed:end]); err != nil {
			return fmt.Errorf("%s: %w", e.opts.Codec, err)
		}
		e.fed = end
		return nil
	}
	err := e.comp.Close()
	e.comp = nil
	if err != nil {
		return fmt.Errorf("%s: %w", e.opts.Codec, err)
	}
	e.flushed = true
	return nil
}

// Err returns the first failure recorded by the encoder.
func (e *Encoder) Err() error {
	return e.err
}

func (e *Encoder) usable() error {
	if e.closed {
		return errors.New("encoder: closed")
	}
	return e.err
}

func (e *Encoder) fail(err error) error {
	if e.err == nil {
		e.err = fmt.Errorf("encoder: %w", err)
	}
	return e.err
}

// outputQueue holds compressed bytes until ProcessOutput hands them out.
// Concurrent compressors write to it from their own goroutines.
type outputQueue struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (q *outputQueue) Write(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Write(p)
}

func (q *outputQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Read(p)
}

func (q *outputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.buf.Len()
}

func (q *outputQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf.Reset()
}

// Close releases the compressor. Safe to call more than once.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.planes = nil
	e.pending.Reset()
	if e.comp != nil {
		err := e.comp.Close()
		e.comp = nil
		return err
	}
	return nil
}
