package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// StubByteSource is an in-memory byte source for tests and the demo binary.
type StubByteSource struct {
	Name string
}

func (s *StubByteSource) URI() string { return "stub://" + s.Name }

// StubDecoder is a deterministic FrameDecoder. The frame payload encodes the
// requested timestamp so tests can assert cache coherency by content.
type StubDecoder struct {
	sourceID string

	// DecodeDelay simulates decoder latency.
	DecodeDelay time.Duration

	// FailAt, when non-nil, makes decodes at the given timestamp fail.
	FailAt func(t float64) bool

	closed  atomic.Bool
	decodes atomic.Int64

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

// NewStubDecoder creates a stub decoder for sourceID.
func NewStubDecoder(sourceID string) *StubDecoder {
	return &StubDecoder{sourceID: sourceID}
}

// DecodeFrameAt produces a small deterministic frame for t.
func (d *StubDecoder) DecodeFrameAt(ctx context.Context, sourceID string, src ByteSource, t float64) (*Frame, error) {
	if d.closed.Load() {
		return nil, fmt.Errorf("decoder for %s is closed", d.sourceID)
	}
	if d.FailAt != nil && d.FailAt(t) {
		return nil, fmt.Errorf("stub decode fault at t=%.3f", t)
	}

	d.mu.Lock()
	d.inFlight++
	if d.inFlight > d.maxInFlight {
		d.maxInFlight = d.inFlight
	}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inFlight--
		d.mu.Unlock()
	}()

	start := time.Now()
	if d.DecodeDelay > 0 {
		select {
		case <-time.After(d.DecodeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	data := make([]byte, 16)
	binary.LittleEndian.PutUint64(data[0:8], math.Float64bits(t))
	binary.LittleEndian.PutUint64(data[8:16], uint64(d.decodes.Add(1)))

	return &Frame{
		SourceID:   sourceID,
		Timestamp:  t,
		Width:      64,
		Height:     36,
		Data:       data,
		DecodeCost: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

// Close marks the decoder closed.
func (d *StubDecoder) Close() error {
	d.closed.Store(true)
	return nil
}

// Closed reports whether Close has been called.
func (d *StubDecoder) Closed() bool { return d.closed.Load() }

// Decodes returns the number of successful decode calls.
func (d *StubDecoder) Decodes() int64 { return d.decodes.Load() }

// MaxInFlight returns the high-water mark of concurrent decode calls.
func (d *StubDecoder) MaxInFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

// StubTimestamp extracts the timestamp a stub frame was decoded for.
func StubTimestamp(f *Frame) float64 {
	if f == nil || len(f.Data) < 8 {
		return math.NaN()
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(f.Data[0:8]))
}
