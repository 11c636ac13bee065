package preloadmodule

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/velocut/velocut/internal/config"
	"github.com/velocut/velocut/internal/media"
)

// FrameRequester is the slice of the frame cache the scheduler needs. The
// scheduler owns no cache state; it only issues decode-triggering requests.
type FrameRequester interface {
	GetFrameAt(ctx context.Context, sourceID string, src media.ByteSource, t float64) (*media.Frame, error)
}

const (
	minRadiusSeconds = 1.0
	maxRadiusSeconds = 10.0
	minConcurrent    = 1
	maxConcurrent    = 4
)

// Options tune the scheduler. Out-of-range values are clamped, never
// rejected: tuning inputs are advisory and must not be able to break
// playback.
type Options struct {
	RadiusSeconds  float64
	MaxConcurrent  int
	SamplesPerSec  float64
	LookBehindSecs float64
}

// OptionsFromConfig maps the preload config section onto Options.
func OptionsFromConfig(cfg config.PreloadConfig) Options {
	return Options{
		RadiusSeconds:  cfg.RadiusSeconds,
		MaxConcurrent:  cfg.MaxConcurrent,
		SamplesPerSec:  cfg.SamplesPerSec,
		LookBehindSecs: cfg.LookBehindSecs,
	}
}

func (o *Options) clamp() {
	if o.RadiusSeconds < minRadiusSeconds {
		o.RadiusSeconds = minRadiusSeconds
	}
	if o.RadiusSeconds > maxRadiusSeconds {
		o.RadiusSeconds = maxRadiusSeconds
	}
	if o.MaxConcurrent < minConcurrent {
		o.MaxConcurrent = minConcurrent
	}
	if o.MaxConcurrent > maxConcurrent {
		o.MaxConcurrent = maxConcurrent
	}
	if o.SamplesPerSec <= 0 {
		o.SamplesPerSec = 24
	}
	if o.LookBehindSecs < 0 {
		o.LookBehindSecs = 1.0
	}
}

// Job is one speculative decode request. Jobs are transient: every Schedule
// call rebuilds the plan from scratch.
type Job struct {
	SourceID   string
	Source     media.ByteSource
	TargetTime float64
	Priority   float64
}

// PlaybackState is the scheduler's input: where playback is, how fast it is
// moving, and what the timeline references.
type PlaybackState struct {
	CurrentTime   float64
	PlaybackSpeed float64
	Tracks        []*media.Track
	Registry      *media.Registry
}

// Stats is the scheduler's introspection snapshot.
type Stats struct {
	QueueLength    int  `json:"queue_length"`
	ActivePreloads int  `json:"active_preloads"`
	IsPreloading   bool `json:"is_preloading"`
}

// Scheduler keeps the frame cache warm around the playback position using a
// bounded pool of background workers. Preload failures never propagate; they
// are logged and swallowed so one bad source cannot halt the plan.
type Scheduler struct {
	logger hclog.Logger
	cache  FrameRequester

	mu      sync.Mutex
	opts    Options
	queue   []Job
	workers int

	active atomic.Int32
}

// NewScheduler creates a preload scheduler feeding cache.
func NewScheduler(logger hclog.Logger, cache FrameRequester, opts Options) *Scheduler {
	opts.clamp()
	return &Scheduler{
		logger: logger.Named("preload"),
		cache:  cache,
		opts:   opts,
	}
}

// Schedule replaces the current plan with one computed for state. Queued
// jobs that never started are discarded; in-flight jobs finish and their
// frames stay cached.
func (s *Scheduler) Schedule(state PlaybackState) {
	jobs := s.plan(state)

	s.mu.Lock()
	s.queue = jobs
	spawn := s.opts.MaxConcurrent - s.workers
	if spawn > len(jobs) {
		spawn = len(jobs)
	}
	s.workers += maxInt(spawn, 0)
	s.mu.Unlock()

	for i := 0; i < spawn; i++ {
		go s.drain()
	}

	s.logger.Debug("preload plan scheduled",
		"jobs", len(jobs), "current_time", state.CurrentTime, "speed", state.PlaybackSpeed)
}

// ClearQueue drops every unstarted job immediately.
func (s *Scheduler) ClearQueue() {
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
}

// GetStats returns the scheduler's introspection snapshot.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	queued := len(s.queue)
	s.mu.Unlock()

	active := int(s.active.Load())
	return Stats{
		QueueLength:    queued,
		ActivePreloads: active,
		IsPreloading:   queued > 0 || active > 0,
	}
}

// Configure adjusts the look-ahead radius and worker bound, clamping both to
// sane ranges rather than trusting the caller.
func (s *Scheduler) Configure(radiusSeconds float64, maxConcurrentPreloads int) {
	next := Options{
		RadiusSeconds:  radiusSeconds,
		MaxConcurrent:  maxConcurrentPreloads,
		SamplesPerSec:  0,
		LookBehindSecs: -1,
	}

	s.mu.Lock()
	next.SamplesPerSec = s.opts.SamplesPerSec
	next.LookBehindSecs = s.opts.LookBehindSecs
	next.clamp()
	if next.RadiusSeconds != radiusSeconds || next.MaxConcurrent != maxConcurrentPreloads {
		s.logger.Debug("preload configuration clamped",
			"radius", next.RadiusSeconds, "concurrency", next.MaxConcurrent)
	}
	s.opts = next
	s.mu.Unlock()
}

// Radius returns the effective (clamped) look-ahead radius in seconds.
func (s *Scheduler) Radius() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.RadiusSeconds
}

// Concurrency returns the effective (clamped) worker bound.
func (s *Scheduler) Concurrency() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.MaxConcurrent
}

// plan enumerates candidate (source, time) samples around the playhead.
// Faster playback narrows the look-ahead window: the same wall-clock budget
// has to cover more source time per second.
func (s *Scheduler) plan(state PlaybackState) []Job {
	s.mu.Lock()
	opts := s.opts
	s.mu.Unlock()

	speed := state.PlaybackSpeed
	if speed <= 0 {
		speed = 1
	}
	radius := opts.RadiusSeconds / math.Max(0.5, speed)

	windowStart := state.CurrentTime - opts.LookBehindSecs
	windowEnd := state.CurrentTime + radius

	type planKey struct {
		sourceID string
		timeMS   int64
	}
	seen := make(map[planKey]bool)
	var jobs []Job

	for _, track := range state.Tracks {
		if track == nil || track.Hidden || track.Muted || track.Type != media.TrackVideo {
			continue
		}
		for _, el := range track.Elements {
			if el == nil || el.Hidden {
				continue
			}
			file := state.Registry.Lookup(el.MediaID)
			if file == nil || file.Type != media.TypeVideo || file.Source == nil {
				continue
			}

			elStart, elEnd := el.ActiveInterval()
			overlapStart := math.Max(windowStart, elStart)
			overlapEnd := math.Min(windowEnd, elEnd)
			if overlapStart >= overlapEnd {
				continue
			}

			rate := opts.SamplesPerSec
			if file.FPS > 0 && file.FPS < rate {
				rate = file.FPS
			}
			step := 1.0 / rate

			for t := overlapStart; t < overlapEnd; t += step {
				local := el.LocalTime(t)
				key := planKey{sourceID: file.ID, timeMS: int64(math.Round(local * 1000))}
				if seen[key] {
					continue
				}
				seen[key] = true

				priority := 100 - 10*math.Abs(t-state.CurrentTime)
				if priority < 0 {
					priority = 0
				}
				jobs = append(jobs, Job{
					SourceID:   file.ID,
					Source:     file.Source,
					TargetTime: local,
					Priority:   priority,
				})
			}
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].Priority > jobs[j].Priority
	})
	return jobs
}

// drain pops jobs until the queue empties, yielding between jobs so the
// foreground request path is never starved by preload work.
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.workers--
			s.mu.Unlock()
			return
		}
		job := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.active.Add(1)
		s.run(job)
		s.active.Add(-1)

		runtime.Gosched()
	}
}

// run executes one job. Best effort only: errors are logged and swallowed.
func (s *Scheduler) run(job Job) {
	if _, err := s.cache.GetFrameAt(context.Background(), job.SourceID, job.Source, job.TargetTime); err != nil {
		s.logger.Warn("preload decode failed",
			"source", job.SourceID, "t", job.TargetTime, "error", err)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
