package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// -----------------------------
// Encoder / decoder round trips
// -----------------------------

func TestEncodeDecode_RoundTrip(t *testing.T) {
	small := makeTestRaster(37, 23)
	// Large enough to span several compressor chunks.
	large := makeTestRaster(128, 96)

	for _, tc := range []struct {
		name  string
		img   *RasterImage
		codec Codec
		level int
	}{
		{name: "zstd_default", img: small, codec: CodecZstd},
		{name: "zstd_level_19", img: small, codec: CodecZstd, level: 19},
		{name: "zstd_large", img: large, codec: CodecZstd},
		{name: "lz4_fast", img: small, codec: CodecLZ4},
		{name: "lz4_level_9_large", img: large, codec: CodecLZ4, level: 9},
		{name: "xz", img: small, codec: CodecXZ},
		{name: "xz_large", img: large, codec: CodecXZ},
		{name: "brotli", img: small, codec: CodecBrotli},
		{name: "brotli_level_11_large", img: large, codec: CodecBrotli, level: 11},
		{name: "single_pixel", img: &RasterImage{Width: 1, Height: 1, Pix: []float32{1, 2, 3}}, codec: CodecZstd},
	} {
		t.Run(tc.name, func(t *testing.T) {
			comp, err := EncodeRaster(tc.img, EncoderOptions{Codec: tc.codec, Level: tc.level, Workers: 3})
			if err != nil {
				t.Fatalf("EncodeRaster: %v", err)
			}
			if len(comp) < pfzHeaderSize {
				t.Fatalf("encoded stream too short: %d bytes", len(comp))
			}
			if string(comp[:4]) != pfzMagic || Codec(comp[4]) != tc.codec {
				t.Fatalf("bad header % x", comp[:pfzHeaderSize])
			}
			if w, h := binary.BigEndian.Uint32(comp[8:12]), binary.BigEndian.Uint32(comp[12:16]); w != tc.img.Width || h != tc.img.Height {
				t.Fatalf("header dimensions %dx%d, want %dx%d", w, h, tc.img.Width, tc.img.Height)
			}

			dec, err := Decode(comp)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(tc.img, dec); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncode_DeterministicAcrossWorkerCounts(t *testing.T) {
	img := makeTestRaster(80, 40)
	one, err := EncodeRaster(img, EncoderOptions{Codec: CodecLZ4, Workers: 1})
	if err != nil {
		t.Fatalf("EncodeRaster workers=1: %v", err)
	}
	a, err := Decode(one)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for _, workers := range []int{2, 5} {
		many, err := EncodeRaster(img, EncoderOptions{Codec: CodecLZ4, Workers: workers})
		if err != nil {
			t.Fatalf("EncodeRaster workers=%d: %v", workers, err)
		}
		b, err := Decode(many)
		if err != nil {
			t.Fatalf("Decode workers=%d: %v", workers, err)
		}
		if diff := cmp.Diff(a, b); diff != "" {
			t.Fatalf("workers=%d decoded differently:\n%s", workers, diff)
		}
	}
}

// -----------------------------
// Encoder lifecycle
// -----------------------------

func TestEncoder_Misuse(t *testing.T) {
	img := makeTestRaster(4, 4)

	t.Run("process_without_frame", func(t *testing.T) {
		enc := NewEncoder(EncoderOptions{})
		defer enc.Close()
		if _, st := enc.ProcessOutput(make([]byte, 64)); st != StatusError {
			t.Fatalf("expected StatusError, got %v", st)
		}
		if enc.Err() == nil {
			t.Fatalf("expected Err to be set")
		}
		if _, err := Drain(enc); !errors.Is(err, ErrProducer) {
			t.Fatalf("expected ErrProducer from Drain, got %v", err)
		}
	})

	t.Run("frame_without_dimensions", func(t *testing.T) {
		enc := NewEncoder(EncoderOptions{})
		defer enc.Close()
		if err := enc.AddImageFrame(RasterFormat, img.Pix); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("zero_dimensions", func(t *testing.T) {
		enc := NewEncoder(EncoderOptions{})
		defer enc.Close()
		if err := enc.SetDimensions(0, 4); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("wrong_format", func(t *testing.T) {
		enc := NewEncoder(EncoderOptions{})
		defer enc.Close()
		if err := enc.SetDimensions(4, 4); err != nil {
			t.Fatal(err)
		}
		format := RasterFormat
		format.Channels = 4
		if err := enc.AddImageFrame(format, img.Pix); err == nil {
			t.Fatalf("expected error for 4 channels")
		}
	})

	t.Run("wrong_sample_count", func(t *testing.T) {
		enc := NewEncoder(EncoderOptions{})
		defer enc.Close()
		if err := enc.SetDimensions(4, 5); err != nil {
			t.Fatal(err)
		}
		if err := enc.AddImageFrame(RasterFormat, img.Pix); err == nil {
			t.Fatalf("expected error for short frame")
		}
	})

	t.Run("second_frame", func(t *testing.T) {
		enc := NewEncoder(EncoderOptions{})
		defer enc.Close()
		if err := enc.SetDimensions(4, 4); err != nil {
			t.Fatal(err)
		}
		if err := enc.AddImageFrame(RasterFormat, img.Pix); err != nil {
			t.Fatal(err)
		}
		if err := enc.AddImageFrame(RasterFormat, img.Pix); err == nil {
			t.Fatalf("expected error for second frame")
		}
	})

	t.Run("after_close", func(t *testing.T) {
		enc := NewEncoder(EncoderOptions{})
		if err := enc.Close(); err != nil {
			t.Fatal(err)
		}
		if err := enc.Close(); err != nil {
			t.Fatalf("second Close: %v", err)
		}
		if err := enc.SetDimensions(4, 4); err == nil {
			t.Fatalf("expected error after Close")
		}
		if _, st := enc.ProcessOutput(make([]byte, 8)); st != StatusError {
			t.Fatalf("expected StatusError after Close, got %v", st)
		}
	})

	t.Run("closed_runner", func(t *testing.T) {
		r := NewRunner(2)
		r.Close()
		enc := NewEncoder(EncoderOptions{})
		defer enc.Close()
		if err := enc.SetParallelRunner(r); err != nil {
			t.Fatal(err)
		}
		if err := enc.SetDimensions(4, 4); err != nil {
			t.Fatal(err)
		}
		if err := enc.AddImageFrame(RasterFormat, img.Pix); !errors.Is(err, ErrRunnerClosed) {
			t.Fatalf("expected ErrRunnerClosed, got %v", err)
		}
	})
}

func TestEncoder_SmallWindows(t *testing.T) {
	img := makeTestRaster(16, 16)
	enc := NewEncoder(EncoderOptions{Codec: CodecZstd, Workers: 1})
	defer enc.Close()
	if err := enc.SetDimensions(img.Width, img.Height); err != nil {
		t.Fatal(err)
	}
	if err := enc.AddImageFrame(RasterFormat, img.Pix); err != nil {
		t.Fatal(err)
	}

	// Drive the producer with a fixed 7 byte window instead of Drain.
	var out bytes.Buffer
	window := make([]byte, 7)
	for i := 0; ; i++ {
		if i > 1<<20 {
			t.Fatalf("producer did not finish")
		}
		n, st := enc.ProcessOutput(window)
		out.Write(window[:n])
		if st == StatusSuccess {
			break
		}
		if st != StatusNeedMoreOutput {
			t.Fatalf("unexpected status %v: %v", st, enc.Err())
		}
	}

	dec, err := Decode(out.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(img, dec); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

// -----------------------------
// Decoder errors
// -----------------------------

func TestDecode_Errors(t *testing.T) {
	good, err := EncodeRaster(makeTestRaster(8, 8), EncoderOptions{Codec: CodecZstd, Workers: 1})
	if err != nil {
		t.Fatalf("EncodeRaster: %v", err)
	}
	mutate := func(f func(b []byte) []byte) []byte {
		return f(append([]byte{}, good...))
	}
	header := func(w, h uint32) []byte {
		b := mutate(func(b []byte) []byte { return b[:pfzHeaderSize] })
		binary.BigEndian.PutUint32(b[8:12], w)
		binary.BigEndian.PutUint32(b[12:16], h)
		return b
	}

	for _, tc := range []struct {
		name string
		data []byte
		want error
	}{
		{name: "short", data: good[:10], want: ErrCorrupt},
		{name: "magic", data: mutate(func(b []byte) []byte { b[0] = 'X'; return b }), want: ErrInvalidMagic},
		{name: "codec", data: mutate(func(b []byte) []byte { b[4] = 99; return b }), want: ErrUnknownCodec},
		{name: "channels", data: mutate(func(b []byte) []byte { b[5] = 4; return b }), want: ErrCorrupt},
		{name: "zero_width", data: mutate(func(b []byte) []byte { copy(b[8:12], []byte{0, 0, 0, 0}); return b }), want: ErrCorrupt},
		{name: "truncated", data: good[:pfzHeaderSize+(len(good)-pfzHeaderSize)/2], want: ErrCorrupt},
		{name: "larger_dimensions", data: mutate(func(b []byte) []byte { b[11] = 9; return b }), want: ErrCorrupt},
		{name: "huge_dimensions", data: header(0xFFFFFFFF, 0xFFFFFFFF), want: ErrCorrupt},
		{name: "over_size_limit", data: header(65535, 65535), want: ErrCorrupt},
		{name: "over_size_limit_with_stream", data: mutate(func(b []byte) []byte {
			binary.BigEndian.PutUint32(b[8:12], 65535)
			binary.BigEndian.PutUint32(b[12:16], 65535)
			return b
		}), want: ErrCorrupt},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.data); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

// -----------------------------
// Codec options
// -----------------------------

func TestParseCodec(t *testing.T) {
	for _, c := range []Codec{CodecZstd, CodecLZ4, CodecXZ, CodecBrotli} {
		got, err := ParseCodec(" " + c.String() + " ")
		if err != nil || got != c {
			t.Fatalf("ParseCodec(%q) = %v, %v", c.String(), got, err)
		}
	}
	if _, err := ParseCodec("jxl"); !errors.Is(err, ErrUnknownCodec) {
		t.Fatalf("expected ErrUnknownCodec, got %v", err)
	}
}

func TestValidateLevel(t *testing.T) {
	for _, tc := range []struct {
		codec       Codec
		level, want int
	}{
		{CodecZstd, 0, 0},
		{CodecZstd, -3, 1},
		{CodecZstd, 40, 22},
		{CodecLZ4, 12, 9},
		{CodecBrotli, 11, 11},
		{CodecBrotli, 15, 11},
		{CodecBrotli, -1, 1},
		{CodecBrotli, 0, 0},
		{CodecXZ, 5, 0},
	} {
		if got := tc.codec.ValidateLevel(tc.level); got != tc.want {
			t.Fatalf("%s.ValidateLevel(%d) = %d, want %d", tc.codec, tc.level, got, tc.want)
		}
	}
}
