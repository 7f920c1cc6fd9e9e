package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// WriteFile writes data to path in a single write, truncating any existing
// file. A short write is an error; there is no retry.
func WriteFile(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: could not open %s for writing: %w", ErrIO, path, err)
	}

	var result *multierror.Error
	n, err := f.Write(data)
	if err != nil {
		result = multierror.Append(result, err)
	} else if n != len(data) {
		result = multierror.Append(result, fmt.Errorf("wrote %d of %d bytes: %w", n, len(data), io.ErrShortWrite))
	}
	if err := f.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close: %w", err))
	}

	if result != nil {
		result.ErrorFormat = joinErrors
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%w: could not write %s: %w", ErrIO, path, err)
	}
	return nil
}

func joinErrors(es []error) string {
	parts := make([]string, len(es))
	for i, err := range es {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}
