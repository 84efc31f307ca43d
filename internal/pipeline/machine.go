// Package pipeline drives a simulated CI/CD run through its fixed stages.
// The run status is never stored: it is always derived from the stage
// list by Aggregate.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasnoah/simops/internal/clock"
	"github.com/lucasnoah/simops/internal/logbuf"
	"github.com/lucasnoah/simops/internal/stage"
)

// DefaultFailureProbability is the chance the build-and-test stage fails.
const DefaultFailureProbability = 0.2

// Log lines framing a run.
const (
	InitLine       = "Initializing Pipeline Sequence..."
	CompletionLine = "Pipeline Completed Successfully."
)

// recordTimeout bounds how long a Recorder may take per run.
const recordTimeout = 10 * time.Second

// Options configures a Machine.
type Options struct {
	// FailureProbability is used as given; callers wanting the stock
	// behaviour pass DefaultFailureProbability.
	FailureProbability float64

	// TimeScale multiplies every simulated wait. Values <= 0 mean 1.
	TimeScale float64

	Logger   *zap.Logger
	Recorder Recorder
}

// Machine owns the stages of the current run. It runs at most one run at
// a time; Start while running is a no-op.
type Machine struct {
	clock   clock.Clock
	rng     clock.Rand
	logs    *logbuf.Aggregator
	catalog []stage.Definition
	opts    Options
	logger  *zap.Logger

	mu         sync.RWMutex
	stages     []Stage
	started    bool
	active     bool // a drive goroutine owns the stages
	runID      string
	startedAt  time.Time
	finishedAt time.Time
	done       chan struct{}
	observers  []func(Snapshot)
	unsettled  []chan struct{} // runs not yet handed to the Recorder
}

// NewMachine returns an idle machine over the standard stage catalog.
func NewMachine(clk clock.Clock, rng clock.Rand, logs *logbuf.Aggregator, opts Options) *Machine {
	if opts.TimeScale <= 0 {
		opts.TimeScale = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	m := &Machine{
		clock:   clk,
		rng:     rng,
		logs:    logs,
		catalog: stage.Catalog(),
		opts:    opts,
		logger:  opts.Logger,
	}
	m.stages = m.pendingStages()
	return m
}

func (m *Machine) pendingStages() []Stage {
	stages := make([]Stage, len(m.catalog))
	for i, d := range m.catalog {
		stages[i] = Stage{
			ID:     d.ID,
			Key:    d.Key,
			Name:   d.Name,
			Tool:   d.Tool,
			Status: StagePending,
			Logs:   []string{},
		}
	}
	return stages
}

// OnChange registers fn to receive a snapshot after every transition.
// Observers run on the driving goroutine before the next transition, so
// they must not block for long.
func (m *Machine) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Logs returns the aggregator the machine appends to.
func (m *Machine) Logs() *logbuf.Aggregator {
	return m.logs
}

// Status returns the derived run status.
func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Aggregate(m.stages, m.started)
}

// Snapshot returns a deep copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	snap := Snapshot{
		RunID:  m.runID,
		Status: Aggregate(m.stages, m.started),
		Stages: cloneStages(m.stages),
	}
	if !m.startedAt.IsZero() {
		t := m.startedAt
		snap.StartedAt = &t
	}
	if !m.finishedAt.IsZero() {
		t := m.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}

// Start begins a run on a new goroutine. It returns false, and does
// nothing, while a run is RUNNING.
func (m *Machine) Start() bool {
	if !m.begin() {
		return false
	}
	go m.drive()
	return true
}

// Run begins a run and drives it to completion on the calling goroutine,
// returning the terminal status. When a run is already in progress it
// returns the current status without waiting.
func (m *Machine) Run() Status {
	if !m.begin() {
		return m.Status()
	}
	return m.drive()
}

// Wait blocks until the current run, if any, has finished and every
// finished run has been handed to the Recorder.
func (m *Machine) Wait() {
	m.mu.RLock()
	pending := append([]chan struct{}(nil), m.unsettled...)
	m.mu.RUnlock()
	for _, done := range pending {
		<-done
	}
}

// begin resets stages and the log, making the run observable as RUNNING.
func (m *Machine) begin() bool {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return false
	}
	m.stages = m.pendingStages()
	m.started = true
	m.active = true
	m.runID = uuid.NewString()
	m.startedAt = m.clock.Now()
	m.finishedAt = time.Time{}
	m.done = make(chan struct{})
	m.unsettled = append(m.unsettled, m.done)
	m.logs.Reset()
	m.logs.Append(InitLine)
	snap := m.snapshotLocked()
	observers := m.observers
	m.mu.Unlock()

	m.logger.Info("pipeline run started", zap.String("run_id", snap.RunID))
	notify(observers, snap)
	return true
}

func (m *Machine) drive() Status {
	for i, def := range m.catalog {
		m.transition(i, StageRunning, nil, 0)
		began := m.clock.Now()

		for _, step := range def.Steps {
			m.emit(step.Lines)
			m.wait(step.Wait)
		}

		// The failure branch is drawn exactly once per run.
		if def.Failure != nil && m.rng.Float64() < m.opts.FailureProbability {
			m.emit(def.Failure.Lines)
			m.transition(i, StageFailed, def.Failure.Summary, m.clock.Now().Sub(began))
			return m.finish()
		}

		m.emit(def.SuccessLines)
		m.transition(i, StageCompleted, def.Summary, m.clock.Now().Sub(began))
	}
	m.logs.Append(CompletionLine)
	return m.finish()
}

func (m *Machine) emit(lines []string) {
	for _, l := range lines {
		m.logs.Append(l)
	}
}

func (m *Machine) wait(d time.Duration) {
	scaled := time.Duration(float64(d) * m.opts.TimeScale)
	if scaled <= 0 {
		return
	}
	<-m.clock.After(scaled)
}

func (m *Machine) transition(i int, status StageStatus, summary []string, elapsed time.Duration) {
	m.mu.Lock()
	stages := cloneStages(m.stages)
	stages[i].Status = status
	if len(summary) > 0 {
		stages[i].Logs = append(stages[i].Logs, summary...)
	}
	if status.Terminal() {
		stages[i].Duration = elapsed
	}
	m.stages = stages
	snap := m.snapshotLocked()
	observers := m.observers
	m.mu.Unlock()

	m.logger.Info("stage transition",
		zap.String("run_id", snap.RunID),
		zap.String("stage", stages[i].Key),
		zap.String("status", string(status)),
	)
	notify(observers, snap)
}

// finish settles the run. The machine accepts a new Start as soon as the
// terminal snapshot exists; the run's done channel closes only after it
// has been recorded.
func (m *Machine) finish() Status {
	m.mu.Lock()
	m.finishedAt = m.clock.Now()
	snap := m.snapshotLocked()
	run := snap.Record(m.logs.Snapshot())
	observers := m.observers
	done := m.done
	m.active = false
	m.mu.Unlock()

	m.logger.Info("pipeline run finished",
		zap.String("run_id", snap.RunID),
		zap.String("status", string(snap.Status)),
	)
	notify(observers, snap)

	m.record(run)

	m.mu.Lock()
	for i, ch := range m.unsettled {
		if ch == done {
			m.unsettled = append(m.unsettled[:i], m.unsettled[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	close(done)
	return snap.Status
}

// record hands the finished run to the Recorder. Failures are logged and
// never touch machine state.
func (m *Machine) record(run RunRecord) {
	if m.opts.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.opts.Recorder.RecordRun(ctx, run); err != nil {
		m.logger.Warn("record run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func notify(observers []func(Snapshot), snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}
