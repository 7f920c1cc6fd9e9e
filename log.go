package main

import (
	"io"

	"github.com/hashicorp/go-hclog"
)

// logger is used by the encoder and drain loop. main replaces it; tests and
// library use keep it silent.
var logger hclog.Logger = hclog.NewNullLogger()

func newLogger(w io.Writer, verbose bool) hclog.Logger {
	level := hclog.Warn
	if verbose {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "pfz",
		Level:  level,
		Output: w,
	})
}
