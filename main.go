package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
)

const (
	exitOK = iota
	exitUsage
	exitRead
	exitEncode
	exitWrite
)

const usage = `Encode: pfz [flags] <input.pfm> <output.pfz>
Decode: pfz [flags] <input.pfz> <output.pfm>
Where:
  pfm = Portable FloatMap image ("PF", 3 channels, host byte order)
  pfz = compressed float image
Output files will be overwritten.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pfz", flag.ContinueOnError)
	fs.SetOutput(stderr)
	codecName := fs.String("codec", CodecZstd.String(), "compressor: zstd, lz4, xz or brotli")
	level := fs.Int("level", 0, "compression level, 0 for the codec default (brotli levels start at 1)")
	workers := fs.Int("workers", 0, "worker goroutines, 0 for one per CPU")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return exitUsage
	}
	codec, err := ParseCodec(*codecName)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	logger = newLogger(stderr, *verbose)
	inPath, outPath := fs.Arg(0), fs.Arg(1)

	format, err := DetectFormat(inPath)
	if err != nil {
		logger.Error("couldn't load input", "path", inPath, "error", err)
		return exitRead
	}
	logger.Debug("input detected", "path", inPath, "format", format)

	// If input is .pfz → decode back to PFM
	if format == FormatPFZ {
		if code := decodeToPFM(inPath, outPath); code != exitOK {
			return code
		}
		fmt.Fprintf(stdout, "Decoded %s → %s\n", inPath, outPath)
		return exitOK
	}

	opts := EncoderOptions{Codec: codec, Level: *level, Workers: *workers}.normalize()
	if code := encodeToPFZ(inPath, outPath, opts); code != exitOK {
		return code
	}
	fmt.Fprintf(stdout, "Encoded %s (codec=%s) → %s\n", inPath, opts.Codec, outPath)
	return exitOK
}

func encodeToPFZ(inPath, outPath string, opts EncoderOptions) int {
	img, err := ReadPFMFile(inPath)
	if err != nil {
		logger.Error("couldn't load input", "path", inPath, "error", err)
		return exitRead
	}

	compressed, err := EncodeRaster(img, opts)
	if err != nil {
		logger.Error("couldn't encode", "error", err)
		return exitEncode
	}

	if err := WriteFile(outPath, compressed); err != nil {
		logger.Error("couldn't write output", "path", outPath, "error", err)
		return exitWrite
	}
	return exitOK
}

func decodeToPFM(inPath, outPath string) int {
	data, err := readWholeFile(inPath)
	if err != nil {
		logger.Error("couldn't load input", "path", inPath, "error", err)
		return exitRead
	}

	img, err := Decode(data)
	if err != nil {
		logger.Error("couldn't decode", "path", inPath, "error", err)
		return exitEncode
	}

	var buf bytes.Buffer
	if err := WritePFM(&buf, img); err != nil {
		logger.Error("couldn't encode pfm", "error", err)
		return exitEncode
	}
	if err := WriteFile(outPath, buf.Bytes()); err != nil {
		logger.Error("couldn't write output", "path", outPath, "error", err)
		return exitWrite
	}
	return exitOK
}

// EncodeRaster compresses img into a PFZ stream. The encoder and its runner
// are released on every path.
func EncodeRaster(img *RasterImage, opts EncoderOptions) ([]byte, error) {
	opts = opts.normalize()

	enc := NewEncoder(opts)
	defer enc.Close()

	runner := NewRunner(opts.Workers)
	defer runner.Close()

	if err := enc.SetParallelRunner(runner); err != nil {
		return nil, fmt.Errorf("%w: set parallel runner: %w", ErrProducer, err)
	}
	if err := enc.SetDimensions(img.Width, img.Height); err != nil {
		return nil, fmt.Errorf("%w: set dimensions: %w", ErrProducer, err)
	}
	if err := enc.AddImageFrame(RasterFormat, img.Pix); err != nil {
		return nil, fmt.Errorf("%w: add image frame: %w", ErrProducer, err)
	}
	return Drain(enc)
}
