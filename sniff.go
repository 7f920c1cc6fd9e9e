package main

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/h2non/filetype.v1"
	"gopkg.in/h2non/filetype.v1/types"
)

// Format is the kind of input file the CLI was given.
type Format int

const (
	FormatUnknown Format = iota
	FormatPFM
	FormatPFZ
)

func (f Format) String() string {
	switch f {
	case FormatPFM:
		return "pfm"
	case FormatPFZ:
		return "pfz"
	}
	return "unknown"
}

var (
	pfmType = filetype.NewType("pfm", "image/x-portable-floatmap")
	pfzType = filetype.NewType("pfz", "image/x-pfz")
)

func init() {
	filetype.AddMatcher(pfmType, func(buf []byte) bool {
		return bytes.HasPrefix(buf, []byte(pfmMagic+"\n"))
	})
	filetype.AddMatcher(pfzType, func(buf []byte) bool {
		return bytes.HasPrefix(buf, []byte(pfzMagic))
	})
}

// number of leading bytes inspected, as many as filetype itself looks at.
const sniffLen = 262

// DetectFormat sniffs the first bytes of path. Files that match neither
// magic are reported as FormatUnknown without an error.
func DetectFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("%w: could not open %s for reading: %w", ErrIO, path, err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return FormatUnknown, fmt.Errorf("%w: read %s: %w", ErrIO, path, err)
	}
	if n == 0 {
		return FormatUnknown, nil
	}

	kind, err := filetype.Match(head[:n])
	if err != nil {
		return FormatUnknown, nil
	}
	return formatOf(kind), nil
}

func formatOf(kind types.Type) Format {
	switch kind.Extension {
	case pfmType.Extension:
		return FormatPFM
	case pfzType.Extension:
		return FormatPFZ
	}
	return FormatUnknown
}
