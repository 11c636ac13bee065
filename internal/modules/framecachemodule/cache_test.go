package framecachemodule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velocut/velocut/internal/media"
)

// trackingFactory builds stub decoders and keeps hold of every instance so
// tests can assert on shared decode counts and teardown.
type trackingFactory struct {
	mu       sync.Mutex
	decoders []*media.StubDecoder
	delay    time.Duration
	failAt   map[string]func(float64) bool

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newTrackingFactory() *trackingFactory {
	return &trackingFactory{failAt: make(map[string]func(float64) bool)}
}

func (f *trackingFactory) factory(sourceID string, src media.ByteSource) (media.FrameDecoder, error) {
	dec := media.NewStubDecoder(sourceID)
	dec.DecodeDelay = f.delay
	dec.FailAt = f.failAt[sourceID]

	f.mu.Lock()
	f.decoders = append(f.decoders, dec)
	f.mu.Unlock()

	return &countingDecoder{inner: dec, parent: f}, nil
}

func (f *trackingFactory) totalDecodes() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, d := range f.decoders {
		n += d.Decodes()
	}
	return n
}

func (f *trackingFactory) allClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.decoders {
		if !d.Closed() {
			return false
		}
	}
	return true
}

// countingDecoder tracks in-flight decode calls across all pool slots.
type countingDecoder struct {
	inner  *media.StubDecoder
	parent *trackingFactory
}

func (d *countingDecoder) DecodeFrameAt(ctx context.Context, sourceID string, src media.ByteSource, t float64) (*media.Frame, error) {
	cur := d.parent.inFlight.Add(1)
	for {
		prev := d.parent.maxInFlight.Load()
		if cur <= prev || d.parent.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	defer d.parent.inFlight.Add(-1)
	return d.inner.DecodeFrameAt(ctx, sourceID, src, t)
}

func (d *countingDecoder) Close() error { return d.inner.Close() }

func newTestManager(t *testing.T, f *trackingFactory, opts Options) *Manager {
	t.Helper()
	return NewManager(hclog.NewNullLogger(), f.factory, nil, opts)
}

func src(name string) media.ByteSource {
	return &media.StubByteSource{Name: name}
}

func TestGetFrameAtCacheCoherency(t *testing.T) {
	f := newTrackingFactory()
	m := newTestManager(t, f, Options{})

	first, err := m.GetFrameAt(context.Background(), "a", src("a"), 1.5)
	require.NoError(t, err)

	second, err := m.GetFrameAt(context.Background(), "a", src("a"), 1.5)
	require.NoError(t, err)

	assert.Equal(t, media.StubTimestamp(first), media.StubTimestamp(second))
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, int64(1), f.totalDecodes(), "second call must be a cache hit")

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestLRUEvictionOrder(t *testing.T) {
	f := newTrackingFactory()
	m := newTestManager(t, f, Options{MaxFrames: 3})

	ctx := context.Background()
	for _, ts := range []float64{0, 1, 2} {
		_, err := m.GetFrameAt(ctx, "a", src("a"), ts)
		require.NoError(t, err)
	}

	// Re-access (a,0) so (a,1) becomes the least recently used.
	_, err := m.GetFrameAt(ctx, "a", src("a"), 0)
	require.NoError(t, err)

	_, err = m.GetFrameAt(ctx, "a", src("a"), 3)
	require.NoError(t, err)

	_, ok := m.TryGetFrameAt("a", 1)
	assert.False(t, ok, "(a,1) should have been evicted")
	_, ok = m.TryGetFrameAt("a", 0)
	assert.True(t, ok, "(a,0) was re-accessed and must survive")
	_, ok = m.TryGetFrameAt("a", 3)
	assert.True(t, ok)
	assert.Equal(t, 3, m.Stats().CachedFrames)
}

func TestEvictionIsGlobalAcrossSources(t *testing.T) {
	f := newTrackingFactory()
	m := newTestManager(t, f, Options{MaxFrames: 2})

	ctx := context.Background()
	_, err := m.GetFrameAt(ctx, "a", src("a"), 0)
	require.NoError(t, err)
	_, err = m.GetFrameAt(ctx, "b", src("b"), 0)
	require.NoError(t, err)
	_, err = m.GetFrameAt(ctx, "c", src("c"), 0)
	require.NoError(t, err)

	_, ok := m.TryGetFrameAt("a", 0)
	assert.False(t, ok, "oldest entry evicted regardless of source")
	assert.Equal(t, 2, m.Stats().CachedFrames)
}

func TestDecodeFailureDoesNotPoisonCache(t *testing.T) {
	f := newTrackingFactory()
	f.failAt["b"] = func(ts float64) bool { return ts == 5 }
	m := newTestManager(t, f, Options{})

	ctx := context.Background()
	_, err := m.GetFrameAt(ctx, "b", src("b"), 5)
	require.Error(t, err)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "b", decodeErr.SourceID)
	assert.InDelta(t, 5.0, decodeErr.Timestamp, 1e-9)

	frame, err := m.GetFrameAt(ctx, "a", src("a"), 5)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, media.StubTimestamp(frame), 1e-9)
}

func TestPoolExhaustedAfterAcquireTimeout(t *testing.T) {
	f := newTrackingFactory()
	f.delay = 300 * time.Millisecond
	m := newTestManager(t, f, Options{
		PoolSize:           1,
		PoolAcquireTimeout: 20 * time.Millisecond,
	})

	ctx := context.Background()
	started := make(chan struct{})
	go func() {
		close(started)
		m.GetFrameAt(ctx, "a", src("a"), 0)
	}()
	<-started
	time.Sleep(30 * time.Millisecond) // let the first decode claim the slot

	_, err := m.GetFrameAt(ctx, "a", src("a"), 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolExhausted)
}

func TestPoolConcurrencyBound(t *testing.T) {
	f := newTrackingFactory()
	f.delay = 40 * time.Millisecond
	m := newTestManager(t, f, Options{
		PoolSize:           2,
		PoolAcquireTimeout: 2 * time.Second,
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.GetFrameAt(ctx, "a", src("a"), float64(i))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, f.maxInFlight.Load(), int32(2),
		"in-flight decodes must never exceed the pool size")
	assert.Equal(t, int64(8), f.totalDecodes())
}

func TestConcurrentRequestsForSameKeyDecodeOnce(t *testing.T) {
	f := newTrackingFactory()
	f.delay = 50 * time.Millisecond
	m := newTestManager(t, f, Options{})

	ctx := context.Background()
	var wg sync.WaitGroup
	frames := make([]*media.Frame, 4)
	errs := make([]error, 4)
	for i := range frames {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			frames[i], errs[i] = m.GetFrameAt(ctx, "a", src("a"), 2.0)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), f.totalDecodes(), "identical in-flight keys must share one decode")
	for _, frame := range frames[1:] {
		assert.Equal(t, frames[0].Data, frame.Data)
	}
}

func TestTryGetNeverDecodes(t *testing.T) {
	f := newTrackingFactory()
	m := newTestManager(t, f, Options{})

	_, ok := m.TryGetFrameAt("a", 1.0)
	assert.False(t, ok)
	assert.Equal(t, int64(0), f.totalDecodes())

	_, err := m.GetFrameAt(context.Background(), "a", src("a"), 1.0)
	require.NoError(t, err)

	frame, ok := m.TryGetFrameAt("a", 1.0)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, media.StubTimestamp(frame), 1e-9)
	assert.Equal(t, int64(1), f.totalDecodes())
}

func TestClearAllTearsDownPools(t *testing.T) {
	f := newTrackingFactory()
	m := newTestManager(t, f, Options{})

	ctx := context.Background()
	_, err := m.GetFrameAt(ctx, "a", src("a"), 0)
	require.NoError(t, err)
	_, err = m.GetFrameAt(ctx, "b", src("b"), 0)
	require.NoError(t, err)

	m.ClearAll()

	stats := m.Stats()
	assert.Equal(t, 0, stats.CachedFrames)
	assert.Equal(t, 0, stats.TotalPools)
	assert.True(t, f.allClosed(), "every decoder must be closed on clear")

	// The cache stays usable, just cold.
	frame, err := m.GetFrameAt(ctx, "a", src("a"), 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, media.StubTimestamp(frame), 1e-9)
}

func TestSeekStormCoalescesToNewestRequest(t *testing.T) {
	f := newTrackingFactory()
	f.delay = 300 * time.Millisecond
	m := newTestManager(t, f, Options{
		PoolSize:           4,
		SeekStormWindow:    time.Second,
		SeekStormThreshold: 3,
	})

	ctx := context.Background()
	results := make(chan error, 2)
	launch := func(ts float64) {
		go func() {
			_, err := m.GetFrameAt(ctx, "a", src("a"), ts)
			results <- err
		}()
	}

	launch(0.0)
	time.Sleep(20 * time.Millisecond)
	launch(5.0)
	time.Sleep(20 * time.Millisecond)

	// Third rapid request reverses direction again: storm. The two pending
	// decodes are superseded; this one proceeds.
	frame, err := m.GetFrameAt(ctx, "a", src("a"), 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, media.StubTimestamp(frame), 1e-9)

	superseded := 0
	for i := 0; i < 2; i++ {
		if err := <-results; err != nil && errors.Is(err, ErrSuperseded) {
			superseded++
		}
	}
	assert.Equal(t, 2, superseded, "older pending decodes must be discarded")
}

func TestCallerContextCancellationLeavesDecodeRunning(t *testing.T) {
	f := newTrackingFactory()
	f.delay = 80 * time.Millisecond
	m := newTestManager(t, f, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.GetFrameAt(ctx, "a", src("a"), 3.0)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The abandoned decode still completes and lands in the cache.
	assert.Eventually(t, func() bool {
		_, ok := m.TryGetFrameAt("a", 3.0)
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestSetCapacityEvictsImmediately(t *testing.T) {
	f := newTrackingFactory()
	m := newTestManager(t, f, Options{MaxFrames: 10})

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := m.GetFrameAt(ctx, "a", src("a"), float64(i))
		require.NoError(t, err)
	}
	require.Equal(t, 6, m.Stats().CachedFrames)

	m.SetCapacity(2, 0)
	assert.Equal(t, 2, m.Stats().CachedFrames)
}

func TestNegativeTimestampClampsToZero(t *testing.T) {
	f := newTrackingFactory()
	m := newTestManager(t, f, Options{})

	frame, err := m.GetFrameAt(context.Background(), "a", src("a"), -4.2)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, media.StubTimestamp(frame), 1e-9)
}
