package framecachemodule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/velocut/velocut/internal/media"
)

// decoderPool owns a bounded set of decoder instances for one source. Slots
// are permits carried through a buffered channel, the same mechanism the
// rest of the engine uses to bound concurrent work. Decoder instances are
// built lazily, at most capacity of them, and reused across acquisitions.
type decoderPool struct {
	sourceID string
	source   media.ByteSource
	factory  media.DecoderFactory

	capacity       int
	acquireTimeout time.Duration

	slots chan media.FrameDecoder

	mu      sync.Mutex
	created []media.FrameDecoder
	closed  bool

	inFlight atomic.Int32
}

func newDecoderPool(sourceID string, src media.ByteSource, factory media.DecoderFactory, capacity int, acquireTimeout time.Duration) *decoderPool {
	if capacity < 1 {
		capacity = 1
	}
	return &decoderPool{
		sourceID:       sourceID,
		source:         src,
		factory:        factory,
		capacity:       capacity,
		acquireTimeout: acquireTimeout,
		slots:          make(chan media.FrameDecoder, capacity),
	}
}

// acquire obtains a decoder instance, blocking until a slot frees up, the
// acquire timeout elapses (ErrPoolExhausted), or ctx is cancelled. The
// in-flight count never exceeds the pool capacity.
func (p *decoderPool) acquire(ctx context.Context) (media.FrameDecoder, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	// Mint a fresh decoder while we are under capacity instead of waiting
	// on a slot that may never have existed.
	if len(p.created) < p.capacity {
		dec, err := p.factory(p.sourceID, p.source)
		if err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("creating decoder for %s: %w", p.sourceID, err)
		}
		p.created = append(p.created, dec)
		p.mu.Unlock()
		p.inFlight.Add(1)
		return dec, nil
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case dec, ok := <-p.slots:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.inFlight.Add(1)
		return dec, nil
	case <-timer.C:
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release returns a decoder to the pool. Decoders released after close are
// shut down instead of requeued.
func (p *decoderPool) release(dec media.FrameDecoder) {
	p.inFlight.Add(-1)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed {
		dec.Close()
		return
	}

	select {
	case p.slots <- dec:
	default:
		// Pool shrank under us; drop the extra instance.
		dec.Close()
	}
}

// active reports whether any decode is currently running against the pool.
func (p *decoderPool) active() bool {
	return p.inFlight.Load() > 0
}

// teardown closes every decoder the pool ever created and rejects future
// acquisitions. Idle decoders are drained from the slot channel; in-flight
// ones are closed by release.
func (p *decoderPool) teardown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case dec := <-p.slots:
			dec.Close()
		default:
			return
		}
	}
}
