package media

import (
	"context"
)

// MediaType classifies a registered media file.
type MediaType string

const (
	TypeVideo MediaType = "video"
	TypeAudio MediaType = "audio"
	TypeImage MediaType = "image"
)

// ByteSource is an opaque handle to the bytes of a media source. The engine
// never inspects it; it is passed through to the decoder capability.
type ByteSource interface {
	// URI identifies the underlying byte stream for logging and diagnostics.
	URI() string
}

// Frame is a decoded, drawable image for a (source, timestamp) pair.
type Frame struct {
	SourceID  string
	Timestamp float64 // seconds in the source's local time base
	Width     int
	Height    int
	Data      []byte

	// DecodeCost is how long the decoder took to produce this frame. The
	// cache uses it as an eviction tie-breaker: expensive frames are kept
	// over cheap ones at equal recency.
	DecodeCost float64 // milliseconds
}

// SizeBytes returns the resident memory attributed to the frame.
func (f *Frame) SizeBytes() int64 {
	if f == nil {
		return 0
	}
	return int64(len(f.Data))
}

// FrameDecoder is the decode capability boundary. Implementations own codec
// work entirely; the engine treats them as a black box per byte source.
type FrameDecoder interface {
	// DecodeFrameAt decodes the nearest representable frame to t.
	DecodeFrameAt(ctx context.Context, sourceID string, src ByteSource, t float64) (*Frame, error)

	// Close releases any decoder-held resources for the source.
	Close() error
}

// DecoderFactory builds one decoder instance per pool slot.
type DecoderFactory func(sourceID string, src ByteSource) (FrameDecoder, error)
