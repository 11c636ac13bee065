package framecachemodule

import (
	"errors"
	"fmt"
)

// ErrPoolExhausted is returned when no decoder slot becomes free inside the
// pool acquire timeout. Callers may retry or fall back to the last known
// frame.
var ErrPoolExhausted = errors.New("decoder pool exhausted")

// ErrSuperseded is returned to waiters whose decode attempt was discarded by
// the seek storm guard in favor of a newer request for the same source.
var ErrSuperseded = errors.New("request superseded by newer seek")

// ErrPoolClosed is returned for requests issued against a pool during or
// after its teardown.
var ErrPoolClosed = errors.New("decoder pool closed")

// DecodeError reports a failed decode for a specific (source, time) pair.
// A DecodeError never invalidates the cache as a whole; other sources and
// timestamps remain servable.
type DecodeError struct {
	SourceID  string
	Timestamp float64
	Cause     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed for source %s at t=%.3fs: %v", e.SourceID, e.Timestamp, e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Cause }
