// Package telemetry produces the synthetic metric stream shown next to
// the pipeline: a fixed-size sliding window of samples advanced by a
// bounded random walk, biased by the pipeline's current status.
package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/simops/internal/clock"
	"github.com/lucasnoah/simops/internal/pipeline"
)

// WindowSize is the number of samples held at all times.
const WindowSize = 20

// Random walk parameters.
const (
	CPUJitter             = 5.0
	RunningCPUBias        = 5.0
	MinCPU, MaxCPU        = 10.0, 95.0
	MemoryJitter          = 2.5
	MinMemory, MaxMemory  = 20.0, 90.0
	RequestJitter         = 25.0
	MinRequests           = 50.0
	ErrorBurstProbability = 0.05
	MaxErrorBurst         = 5
	FailedErrorPlateau    = 20
)

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = time.Second

// MetricPoint is one telemetry sample.
type MetricPoint struct {
	Time     time.Time `json:"time"`
	CPU      float64   `json:"cpu"`
	Memory   float64   `json:"memory"`
	Requests float64   `json:"requests"`
	Errors   int       `json:"errors"`
}

// Options configures a Simulator.
type Options struct {
	Interval time.Duration
	Logger   *zap.Logger

	// Initial replaces the generated starting window. Shorter slices are
	// padded by repeating their last point, longer ones keep the newest
	// WindowSize points.
	Initial []MetricPoint
}

// Simulator owns the sliding window. Tick is the only mutator; readers
// get copies.
type Simulator struct {
	clock    clock.Clock
	rng      clock.Rand
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	window    []MetricPoint
	observers []func(MetricPoint)
}

// New creates a Simulator with a full window.
func New(clk clock.Clock, rng clock.Rand, opts Options) *Simulator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Simulator{
		clock:    clk,
		rng:      rng,
		interval: opts.Interval,
		logger:   opts.Logger,
	}
	if len(opts.Initial) > 0 {
		s.window = fitWindow(opts.Initial)
	} else {
		s.window = s.seedWindow()
	}
	return s
}

// seedWindow back-fills WindowSize quiet samples one interval apart,
// ending at the current time.
func (s *Simulator) seedWindow() []MetricPoint {
	now := s.clock.Now()
	window := make([]MetricPoint, WindowSize)
	for i := range window {
		window[i] = MetricPoint{
			Time:     now.Add(-time.Duration(WindowSize-i) * s.interval),
			CPU:      20 + s.rng.Float64()*10,
			Memory:   40 + s.rng.Float64()*5,
			Requests: 100 + s.rng.Float64()*50,
		}
	}
	return window
}

func fitWindow(points []MetricPoint) []MetricPoint {
	if len(points) >= WindowSize {
		return append([]MetricPoint(nil), points[len(points)-WindowSize:]...)
	}
	window := make([]MetricPoint, 0, WindowSize)
	window = append(window, points...)
	last := points[len(points)-1]
	for len(window) < WindowSize {
		window = append(window, last)
	}
	return window
}

// OnTick registers fn to be called with every new sample.
func (s *Simulator) OnTick(fn func(MetricPoint)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Tick derives the next sample from the newest one and the pipeline
// status, appends it and evicts the oldest. It never fails.
func (s *Simulator) Tick(status pipeline.Status) MetricPoint {
	s.mu.Lock()
	prev := s.window[len(s.window)-1]
	next := s.step(prev, status)

	window := make([]MetricPoint, 0, WindowSize)
	window = append(window, s.window[1:]...)
	window = append(window, next)
	s.window = window
	observers := s.observers
	s.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
	return next
}

// step draws random numbers in a fixed order regardless of status, so
// two simulators with the same seed differ only by the status terms.
func (s *Simulator) step(prev MetricPoint, status pipeline.Status) MetricPoint {
	cpu := prev.CPU + s.jitter(CPUJitter)
	if status == pipeline.StatusRunning {
		cpu += RunningCPUBias
	}
	memory := prev.Memory + s.jitter(MemoryJitter)
	requests := prev.Requests + s.jitter(RequestJitter)

	errors := 0
	if s.rng.Float64() < ErrorBurstProbability {
		errors = 1 + int(s.rng.Float64()*MaxErrorBurst)
	}
	if status == pipeline.StatusFailed {
		errors += FailedErrorPlateau
	}

	return MetricPoint{
		Time:     s.clock.Now(),
		CPU:      clamp(cpu, MinCPU, MaxCPU),
		Memory:   clamp(memory, MinMemory, MaxMemory),
		Requests: math.Max(MinRequests, requests),
		Errors:   errors,
	}
}

// jitter returns a uniform value in [-spread, +spread).
func (s *Simulator) jitter(spread float64) float64 {
	return (s.rng.Float64() - 0.5) * 2 * spread
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Window returns a copy of the current window, oldest first.
func (s *Simulator) Window() []MetricPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]MetricPoint(nil), s.window...)
}

// Latest returns the newest sample.
func (s *Simulator) Latest() MetricPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.window[len(s.window)-1]
}

// Run ticks once per interval until ctx is done. status is read on
// every tick.
func (s *Simulator) Run(ctx context.Context, status func() pipeline.Status) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("telemetry loop started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("telemetry loop stopped")
			return
		case <-ticker.C:
			p := s.Tick(status())
			if p.Errors > 0 {
				s.logger.Debug("telemetry errors", zap.Int("errors", p.Errors), zap.Float64("cpu", p.CPU))
			}
		}
	}
}
