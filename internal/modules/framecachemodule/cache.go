package framecachemodule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/velocut/velocut/internal/config"
	"github.com/velocut/velocut/internal/media"
)

// MetricsSink receives cache health signals. The cache pushes; it never gets
// polled, so the monitor stays decoupled from cache internals.
type MetricsSink interface {
	SetCacheHitRate(rate float64)
	ObserveDecode(d time.Duration)
}

// Options bound the cache's resident memory and decoder usage.
type Options struct {
	MaxFrames          int
	MaxBytes           int64
	PoolSize           int
	PoolAcquireTimeout time.Duration
	SeekStormWindow    time.Duration
	SeekStormThreshold int
}

// OptionsFromConfig maps the cache config section onto Options.
func OptionsFromConfig(cfg config.CacheConfig) Options {
	return Options{
		MaxFrames:          cfg.MaxFrames,
		MaxBytes:           cfg.MaxBytes,
		PoolSize:           cfg.PoolSize,
		PoolAcquireTimeout: cfg.PoolAcquireTimeout,
		SeekStormWindow:    cfg.SeekStormWindow,
		SeekStormThreshold: cfg.SeekStormThreshold,
	}
}

func (o *Options) applyDefaults() {
	if o.MaxFrames <= 0 {
		o.MaxFrames = 120
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = 512 * 1024 * 1024
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 8
	}
	if o.PoolAcquireTimeout <= 0 {
		o.PoolAcquireTimeout = 2 * time.Second
	}
	if o.SeekStormWindow <= 0 {
		o.SeekStormWindow = 250 * time.Millisecond
	}
	if o.SeekStormThreshold <= 0 {
		o.SeekStormThreshold = 6
	}
}

// Stats is the cache's read-only introspection snapshot.
type Stats struct {
	TotalPools    int     `json:"total_pools"`
	ActivePools   int     `json:"active_pools"`
	CachedFrames  int     `json:"cached_frames"`
	ResidentBytes int64   `json:"resident_bytes"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
}

// inflightDecode is a decode in progress. Concurrent requests for the same
// key attach to it instead of decoding twice.
type inflightDecode struct {
	key        frameKey
	done       chan struct{}
	frame      *media.Frame
	err        error
	cancel     context.CancelFunc
	superseded bool
}

// seekState tracks recent miss requests for one source so seek storms can be
// detected: many requests in a short window with at least one direction
// reversal.
type seekState struct {
	samples []time.Time
	flips   []time.Time
	lastMS  int64
	lastDir int
	primed  bool
}

// Manager is the frame cache. It owns every decoder pool and every cached
// frame; the render path and the preload path are both just requesters.
type Manager struct {
	logger  hclog.Logger
	factory media.DecoderFactory
	sink    MetricsSink

	mu       sync.Mutex
	opts     Options
	arena    *frameArena
	pools    map[string]*decoderPool
	inflight map[frameKey]*inflightDecode
	pending  map[string]map[frameKey]*inflightDecode
	seeks    map[string]*seekState

	hits   atomic.Int64
	misses atomic.Int64
}

// NewManager creates a frame cache that builds decoders with factory. sink
// may be nil when no monitor is attached.
func NewManager(logger hclog.Logger, factory media.DecoderFactory, sink MetricsSink, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		logger:   logger.Named("framecache"),
		factory:  factory,
		sink:     sink,
		opts:     opts,
		arena:    newFrameArena(),
		pools:    make(map[string]*decoderPool),
		inflight: make(map[frameKey]*inflightDecode),
		pending:  make(map[string]map[frameKey]*inflightDecode),
		seeks:    make(map[string]*seekState),
	}
}

// GetFrameAt returns the drawable frame nearest to t for the source. Cache
// hits return immediately; misses decode through the source's pool. The
// caller's ctx bounds how long the caller waits, not the decode itself: an
// abandoned decode still completes and lands in the cache.
func (m *Manager) GetFrameAt(ctx context.Context, sourceID string, src media.ByteSource, t float64) (*media.Frame, error) {
	if t < 0 {
		t = 0
	}
	key := keyFor(sourceID, t)
	now := time.Now()

	m.mu.Lock()

	if frame := m.arena.get(key, now); frame != nil {
		m.hits.Add(1)
		m.pushHitRateLocked()
		m.mu.Unlock()
		return frame, nil
	}
	m.misses.Add(1)
	m.pushHitRateLocked()

	if fl, ok := m.inflight[key]; ok {
		m.mu.Unlock()
		return m.await(ctx, fl)
	}

	pool := m.poolForLocked(sourceID, src)

	decodeCtx, cancel := context.WithCancel(context.Background())
	fl := &inflightDecode{
		key:    key,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	m.inflight[key] = fl
	if m.pending[sourceID] == nil {
		m.pending[sourceID] = make(map[frameKey]*inflightDecode)
	}
	m.pending[sourceID][key] = fl

	m.noteSeekLocked(sourceID, key, fl, now)

	m.mu.Unlock()

	go m.decode(decodeCtx, fl, pool, sourceID, src, t)

	return m.await(ctx, fl)
}

// TryGetFrameAt returns the cached frame for (source, t) without ever
// triggering decode work. The second return reports whether the frame was
// ready.
func (m *Manager) TryGetFrameAt(sourceID string, t float64) (*media.Frame, bool) {
	if t < 0 {
		t = 0
	}
	key := keyFor(sourceID, t)

	m.mu.Lock()
	defer m.mu.Unlock()

	frame := m.arena.get(key, time.Now())
	if frame == nil {
		m.misses.Add(1)
		m.pushHitRateLocked()
		return nil, false
	}
	m.hits.Add(1)
	m.pushHitRateLocked()
	return frame, true
}

// ClearAll drops every cached frame and tears down every decoder pool. The
// cache stays usable afterwards, just cold. Pending decodes are cancelled;
// their waiters get a DecodeError.
func (m *Manager) ClearAll() {
	m.mu.Lock()

	for _, bySource := range m.pending {
		for _, fl := range bySource {
			fl.cancel()
		}
	}

	pools := make([]*decoderPool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.pools = make(map[string]*decoderPool)
	m.arena.clear()
	m.seeks = make(map[string]*seekState)

	m.mu.Unlock()

	for _, p := range pools {
		p.teardown()
	}

	m.logger.Info("cache cleared", "pools_torn_down", len(pools))
}

// Stats returns a point-in-time snapshot. O(number of pools); never decodes.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	active := 0
	for _, p := range m.pools {
		if p.active() {
			active++
		}
	}

	hits := m.hits.Load()
	misses := m.misses.Load()
	return Stats{
		TotalPools:    len(m.pools),
		ActivePools:   active,
		CachedFrames:  m.arena.len(),
		ResidentBytes: m.arena.bytes,
		Hits:          hits,
		Misses:        misses,
		HitRate:       hitRate(hits, misses),
	}
}

// SetCapacity re-bounds the cache, evicting immediately if the new budget is
// already exceeded. Non-positive values keep the current bound.
func (m *Manager) SetCapacity(maxFrames int, maxBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxFrames > 0 {
		m.opts.MaxFrames = maxFrames
	}
	if maxBytes > 0 {
		m.opts.MaxBytes = maxBytes
	}
	m.evictLocked()
}

// PoolSize returns the per-source decoder pool capacity.
func (m *Manager) PoolSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.PoolSize
}

// SetPoolSize adjusts the slot count applied to pools created from now on.
// Existing pools keep their capacity until their source is evicted.
func (m *Manager) SetPoolSize(n int) {
	if n < 1 {
		n = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.PoolSize = n
}

func (m *Manager) await(ctx context.Context, fl *inflightDecode) (*media.Frame, error) {
	select {
	case <-fl.done:
		return fl.frame, fl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// decode runs on its own goroutine so every requester, foreground or
// background, waits under its own context.
func (m *Manager) decode(ctx context.Context, fl *inflightDecode, pool *decoderPool, sourceID string, src media.ByteSource, t float64) {
	frame, err := m.decodeThroughPool(ctx, pool, sourceID, src, t)

	m.mu.Lock()

	delete(m.inflight, fl.key)
	if bySource := m.pending[sourceID]; bySource != nil {
		delete(bySource, fl.key)
		if len(bySource) == 0 {
			delete(m.pending, sourceID)
		}
	}

	if err != nil {
		cause := err
		if fl.superseded {
			cause = ErrSuperseded
		}
		fl.err = &DecodeError{SourceID: sourceID, Timestamp: t, Cause: cause}
	} else {
		m.arena.put(fl.key, frame, time.Now())
		m.evictLocked()
		// The entry can be evicted in the same breath when the cache is
		// tiny; hand the frame to waiters regardless.
		fl.frame = frame
	}

	m.mu.Unlock()
	close(fl.done)
}

func (m *Manager) decodeThroughPool(ctx context.Context, pool *decoderPool, sourceID string, src media.ByteSource, t float64) (*media.Frame, error) {
	dec, err := pool.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer pool.release(dec)

	start := time.Now()
	frame, err := dec.DecodeFrameAt(ctx, sourceID, src, t)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	if frame.DecodeCost == 0 {
		frame.DecodeCost = float64(elapsed.Microseconds()) / 1000.0
	}
	if m.sink != nil {
		m.sink.ObserveDecode(elapsed)
	}
	return frame, nil
}

// poolForLocked resolves or lazily creates the source's decoder pool.
func (m *Manager) poolForLocked(sourceID string, src media.ByteSource) *decoderPool {
	if p, ok := m.pools[sourceID]; ok {
		return p
	}
	p := newDecoderPool(sourceID, src, m.factory, m.opts.PoolSize, m.opts.PoolAcquireTimeout)
	m.pools[sourceID] = p
	m.logger.Debug("decoder pool created", "source", sourceID, "slots", m.opts.PoolSize)
	return p
}

// noteSeekLocked records a miss request and, when the source is being
// scrubbed violently (many requests in a short window with direction
// reversals), cancels every older pending decode for the source so only the
// newest survives.
func (m *Manager) noteSeekLocked(sourceID string, key frameKey, newest *inflightDecode, now time.Time) {
	st := m.seeks[sourceID]
	if st == nil {
		st = &seekState{}
		m.seeks[sourceID] = st
	}

	cutoff := now.Add(-m.opts.SeekStormWindow)
	st.samples = pruneTimes(append(st.samples, now), cutoff)

	if st.primed {
		dir := sign64(key.timeMS - st.lastMS)
		if dir != 0 && st.lastDir != 0 && dir != st.lastDir {
			st.flips = append(st.flips, now)
		}
		if dir != 0 {
			st.lastDir = dir
		}
	}
	st.flips = pruneTimes(st.flips, cutoff)
	st.lastMS = key.timeMS
	st.primed = true

	if len(st.samples) < m.opts.SeekStormThreshold || len(st.flips) == 0 {
		return
	}

	cancelled := 0
	for k, fl := range m.pending[sourceID] {
		if fl == newest || k == key {
			continue
		}
		fl.superseded = true
		fl.cancel()
		cancelled++
	}
	if cancelled > 0 {
		m.logger.Debug("seek storm: superseded pending decodes",
			"source", sourceID, "cancelled", cancelled, "window_requests", len(st.samples))
	}
}

// evictLocked enforces the frame-count and byte budgets, tearing down pools
// whose sources no longer have resident frames or pending work.
func (m *Manager) evictLocked() {
	for m.arena.len() > m.opts.MaxFrames || m.arena.bytes > m.opts.MaxBytes {
		cf := m.arena.evictOne()
		if cf == nil {
			return
		}
		sourceID := cf.key.sourceID
		if m.arena.sourceFrames(sourceID) > 0 {
			continue
		}
		if len(m.pending[sourceID]) > 0 {
			continue
		}
		if p, ok := m.pools[sourceID]; ok && !p.active() {
			delete(m.pools, sourceID)
			go p.teardown()
			m.logger.Debug("decoder pool retired with last frame", "source", sourceID)
		}
	}
}

func (m *Manager) pushHitRateLocked() {
	if m.sink == nil {
		return
	}
	m.sink.SetCacheHitRate(hitRate(m.hits.Load(), m.misses.Load()))
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

func sign64(v int64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
