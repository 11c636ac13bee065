package perfmodule

import (
	"context"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/velocut/velocut/internal/config"
)

// Metrics is the monitor's rolling snapshot. Only the monitor mutates it;
// everyone else reads copies.
type Metrics struct {
	FrameRate    float64   `json:"frame_rate"`
	MemoryBytes  uint64    `json:"memory_bytes"`
	CacheHitRate float64   `json:"cache_hit_rate"`
	DecodeTimeMs float64   `json:"decode_time_ms"`
	RenderTimeMs float64   `json:"render_time_ms"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Status is the verdict against the threshold table.
type Status struct {
	IsAcceptable bool     `json:"is_acceptable"`
	Issues       []string `json:"issues"`
	Suggestions  []string `json:"suggestions"`
}

// Recommendations are advisory tuning values. The monitor never applies
// them; the embedder decides whether and when to.
type Recommendations struct {
	PoolSize              int     `json:"pool_size"`
	PreloadRadius         float64 `json:"preload_radius"`
	MaxConcurrentPreloads int     `json:"max_concurrent_preloads"`
	CacheMaxFrames        int     `json:"cache_max_frames"`
	SamplesPerSec         float64 `json:"samples_per_sec"`
	SimplifiedRendering   bool    `json:"simplified_rendering"`
}

// Baseline carries the currently applied tuning so recommendations can move
// relative to it instead of guessing.
type Baseline struct {
	PoolSize              int
	PreloadRadius         float64
	MaxConcurrentPreloads int
	CacheMaxFrames        int
	SamplesPerSec         float64
}

// Monitor samples frame rate, memory, and pushed cache/decode/render signals
// and turns them into a pass/fail verdict, a letter grade, and tuning
// recommendations. Sampling is always-on once started; there is no terminal
// state while the process runs.
type Monitor struct {
	logger hclog.Logger
	cfg    config.MonitorConfig

	frameCount atomic.Int64

	mu        sync.Mutex
	fpsWindow []float64
	metrics   Metrics
	spans     map[string]time.Time
	baseline  Baseline

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// smoothed decode/render means, exponential with 0.2 weight on new
	// samples so a single slow frame does not flip the verdict.
	decodeMs float64
	renderMs float64
}

// NewMonitor creates a performance monitor with the given thresholds and
// tuning baseline.
func NewMonitor(logger hclog.Logger, cfg config.MonitorConfig, baseline Baseline) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	if cfg.FrameRateWindow <= 0 {
		cfg.FrameRateWindow = 10
	}
	if cfg.MemorySampleInterval <= 0 {
		cfg.MemorySampleInterval = 2 * time.Second
	}
	return &Monitor{
		logger:   logger.Named("perfmon"),
		cfg:      cfg,
		spans:    make(map[string]time.Time),
		baseline: baseline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the sampling loops.
func (m *Monitor) Start() {
	m.wg.Add(2)
	go m.frameRateLoop()
	go m.memoryLoop()
	m.logger.Info("performance monitor started",
		"fps_window", m.cfg.FrameRateWindow, "memory_interval", m.cfg.MemorySampleInterval)
}

// Stop shuts the sampling loops down.
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// RecordFrame counts one rendered frame toward the current second's sample.
func (m *Monitor) RecordFrame() {
	m.frameCount.Add(1)
}

// SetCacheHitRate stores the hit rate pushed by the frame cache.
func (m *Monitor) SetCacheHitRate(rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics.CacheHitRate = rate
	m.metrics.LastUpdated = time.Now()
}

// ObserveDecode folds one decode duration into the smoothed decode time.
func (m *Monitor) ObserveDecode(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decodeMs = smooth(m.decodeMs, float64(d.Microseconds())/1000.0)
	m.metrics.DecodeTimeMs = m.decodeMs
	m.metrics.LastUpdated = time.Now()
}

// ObserveRender folds one render duration into the smoothed render time.
func (m *Monitor) ObserveRender(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderMs = smooth(m.renderMs, float64(d.Microseconds())/1000.0)
	m.metrics.RenderTimeMs = m.renderMs
	m.metrics.LastUpdated = time.Now()
}

// StartMeasure opens a named measurement span.
func (m *Monitor) StartMeasure(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans[name] = time.Now()
}

// EndMeasure closes a named span and routes it to the decode or render
// series by name. Unmatched ends are logged and ignored; they never crash
// the monitor.
func (m *Monitor) EndMeasure(name string) time.Duration {
	m.mu.Lock()
	start, ok := m.spans[name]
	if ok {
		delete(m.spans, name)
	}
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("unmatched measurement span ignored", "name", name)
		return 0
	}

	elapsed := time.Since(start)
	switch {
	case strings.Contains(strings.ToLower(name), "decode"):
		m.ObserveDecode(elapsed)
	case strings.Contains(strings.ToLower(name), "render"):
		m.ObserveRender(elapsed)
	}
	return elapsed
}

// GetMetrics returns a copy of the current snapshot.
func (m *Monitor) GetMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

// GetPerformanceStatus evaluates the snapshot against the threshold table.
func (m *Monitor) GetPerformanceStatus() Status {
	snap := m.GetMetrics()

	var issues, suggestions []string

	if snap.FrameRate > 0 && snap.FrameRate < m.cfg.MinFrameRate {
		issues = append(issues, "frame rate below target")
		suggestions = append(suggestions, "reduce preview resolution or shrink the preload radius")
	}
	if snap.MemoryBytes > m.cfg.MaxMemoryBytes {
		issues = append(issues, "memory usage above budget")
		suggestions = append(suggestions, "shrink the frame cache capacity or clear the cache")
	}
	if snap.CacheHitRate > 0 && snap.CacheHitRate < m.cfg.MinCacheHitRate {
		issues = append(issues, "cache hit rate below target")
		suggestions = append(suggestions, "widen the preload radius or raise preload concurrency")
	}
	if snap.DecodeTimeMs > float64(m.cfg.MaxDecodeTime.Microseconds())/1000.0 {
		issues = append(issues, "decode time above target")
		suggestions = append(suggestions, "grow the decoder pool or lower the source resolution")
	}
	if snap.RenderTimeMs > float64(m.cfg.MaxRenderTime.Microseconds())/1000.0 {
		issues = append(issues, "render time above target")
		suggestions = append(suggestions, "enable simplified rendering")
	}

	return Status{
		IsAcceptable: len(issues) == 0,
		Issues:       issues,
		Suggestions:  suggestions,
	}
}

// GetPerformanceGrade maps the current issue count to a letter grade.
// Strictly more violations never produce a better grade.
func (m *Monitor) GetPerformanceGrade() string {
	switch n := len(m.GetPerformanceStatus().Issues); {
	case n == 0:
		return "A"
	case n == 1:
		return "B"
	case n == 2:
		return "C"
	case n == 3:
		return "D"
	default:
		return "F"
	}
}

// GetRecommendations derives tuning values relative to the baseline.
func (m *Monitor) GetRecommendations() Recommendations {
	snap := m.GetMetrics()

	m.mu.Lock()
	base := m.baseline
	m.mu.Unlock()

	rec := Recommendations{
		PoolSize:              base.PoolSize,
		PreloadRadius:         base.PreloadRadius,
		MaxConcurrentPreloads: base.MaxConcurrentPreloads,
		CacheMaxFrames:        base.CacheMaxFrames,
		SamplesPerSec:         base.SamplesPerSec,
	}

	switch {
	case snap.FrameRate > 0 && snap.FrameRate < 20:
		rec.PoolSize = maxInt(2, base.PoolSize/2)
		rec.PreloadRadius = maxFloat(1, base.PreloadRadius/2)
		rec.MaxConcurrentPreloads = maxInt(1, base.MaxConcurrentPreloads-1)
	case snap.FrameRate > 50:
		rec.PoolSize = minInt(16, base.PoolSize+2)
		rec.PreloadRadius = minFloat(10, base.PreloadRadius+1)
		rec.MaxConcurrentPreloads = minInt(4, base.MaxConcurrentPreloads+1)
	}

	if float64(snap.MemoryBytes) > 0.8*float64(m.cfg.MaxMemoryBytes) {
		rec.CacheMaxFrames = maxInt(30, base.CacheMaxFrames/2)
		rec.SamplesPerSec = maxFloat(12, base.SamplesPerSec/2)
	}

	if snap.RenderTimeMs > 20 {
		rec.SimplifiedRendering = true
	}

	return rec
}

// SetBaseline records the tuning the embedder actually applied so future
// recommendations move relative to it.
func (m *Monitor) SetBaseline(b Baseline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseline = b
}

func (m *Monitor) frameRateLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			count := m.frameCount.Swap(0)
			m.foldFrameSample(float64(count))
		}
	}
}

func (m *Monitor) foldFrameSample(sample float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fpsWindow = append(m.fpsWindow, sample)
	if len(m.fpsWindow) > m.cfg.FrameRateWindow {
		m.fpsWindow = m.fpsWindow[len(m.fpsWindow)-m.cfg.FrameRateWindow:]
	}

	var sum float64
	for _, v := range m.fpsWindow {
		sum += v
	}
	m.metrics.FrameRate = sum / float64(len(m.fpsWindow))
	m.metrics.LastUpdated = time.Now()
}

func (m *Monitor) memoryLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.MemorySampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sampleMemory()
		}
	}
}

// sampleMemory reads process resident memory. Best effort: when the
// platform offers no introspection it reports zero rather than failing.
func (m *Monitor) sampleMemory() {
	var usage uint64

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			usage = info.RSS
		}
	}
	if usage == 0 {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		usage = memStats.HeapAlloc
	}

	m.mu.Lock()
	m.metrics.MemoryBytes = usage
	m.metrics.LastUpdated = time.Now()
	m.mu.Unlock()
}

func smooth(old, sample float64) float64 {
	if old == 0 {
		return sample
	}
	return old*0.8 + sample*0.2
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
