package main

import (
	"errors"
	"fmt"
)

// Status is what a Producer reports after each ProcessOutput call.
type Status int

const (
	StatusSuccess Status = iota
	StatusNeedMoreOutput
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNeedMoreOutput:
		return "need more output"
	case StatusError:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Producer emits compressed bytes incrementally. ProcessOutput writes at most
// len(dst) bytes into dst and returns how many it wrote.
type Producer interface {
	ProcessOutput(dst []byte) (int, Status)
}

var ErrProducer = errors.New("encoder: process output failed")

// initial output buffer size; doubled every time the producer runs out of room.
const initialOutputSize = 64

// Drain runs p until it reports success and returns exactly the bytes it
// produced. On failure no buffer is returned.
func Drain(p Producer) ([]byte, error) {
	buf := make([]byte, initialOutputSize)
	cursor := 0
	grows := 0

	for {
		n, status := p.ProcessOutput(buf[cursor:])
		if n < 0 || n > len(buf)-cursor {
			return nil, fmt.Errorf("%w: producer reported %d bytes for a %d byte window", ErrProducer, n, len(buf)-cursor)
		}
		cursor += n

		switch status {
		case StatusNeedMoreOutput:
			grown := make([]byte, len(buf)*2)
			copy(grown, buf[:cursor])
			buf = grown
			grows++
			logger.Trace("output buffer grown", "size", len(buf), "used", cursor)
		case StatusSuccess:
			logger.Debug("encoder drained", "bytes", cursor, "grows", grows)
			return buf[:cursor:cursor], nil
		default:
			if e, ok := p.(interface{ Err() error }); ok && e.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrProducer, e.Err())
			}
			return nil, ErrProducer
		}
	}
}
