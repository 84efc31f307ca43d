package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/simops/internal/clock"
	"github.com/lucasnoah/simops/internal/logbuf"
	"github.com/lucasnoah/simops/internal/stage"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// never and always force the build-and-test failure branch.
var (
	never  = clock.Fixed(0.99)
	always = clock.Fixed(0.0)
)

func newTestMachine(rng clock.Rand, opts Options) (*Machine, *clock.FakeClock) {
	fake := clock.Fake(epoch)
	if opts.FailureProbability == 0 {
		opts.FailureProbability = DefaultFailureProbability
	}
	return NewMachine(fake, rng, logbuf.New(nil), opts), fake
}

// runToEnd drives a synchronous Run by advancing the fake clock whenever
// the machine is parked on a simulated wait.
func runToEnd(t *testing.T, m *Machine, fake *clock.FakeClock) Snapshot {
	t.Helper()
	done := make(chan Status, 1)
	go func() { done <- m.Run() }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return m.Snapshot()
		case <-deadline:
			t.Fatal("run did not finish")
		default:
		}
		if fake.PendingCount() > 0 {
			fake.Advance(500 * time.Millisecond)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

// drain finishes a run begun with Start.
func drain(t *testing.T, m *Machine, fake *clock.FakeClock) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("run did not finish")
		default:
		}
		if fake.PendingCount() > 0 {
			fake.Advance(500 * time.Millisecond)
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

func statuses(snap Snapshot) []StageStatus {
	out := make([]StageStatus, len(snap.Stages))
	for i, s := range snap.Stages {
		out[i] = s.Status
	}
	return out
}

func TestAggregate(t *testing.T) {
	stages := func(ss ...StageStatus) []Stage {
		out := make([]Stage, len(ss))
		for i, s := range ss {
			out[i] = Stage{Status: s}
		}
		return out
	}
	cases := []struct {
		name    string
		stages  []Stage
		started bool
		want    Status
	}{
		{"never started", stages(StagePending, StagePending, StagePending, StagePending), false, StatusIdle},
		{"just started", stages(StagePending, StagePending, StagePending, StagePending), true, StatusRunning},
		{"mid run", stages(StageCompleted, StageRunning, StagePending, StagePending), true, StatusRunning},
		{"failed", stages(StageCompleted, StageFailed, StagePending, StagePending), true, StatusFailed},
		{"all completed", stages(StageCompleted, StageCompleted, StageCompleted, StageCompleted), true, StatusSuccess},
		{"skipped is not success", stages(StageCompleted, StageCompleted, StageSkipped, StageCompleted), true, StatusRunning},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Aggregate(c.stages, c.started))
		})
	}
}

func TestNewMachine_Idle(t *testing.T) {
	m, _ := newTestMachine(never, Options{})
	snap := m.Snapshot()

	assert.Equal(t, StatusIdle, snap.Status)
	assert.Empty(t, snap.RunID)
	require.Len(t, snap.Stages, 4)
	for i, s := range snap.Stages {
		assert.Equal(t, StagePending, s.Status, "stage %d", i)
		assert.Empty(t, s.Logs)
	}
	assert.Equal(t, 0, m.Logs().Len())
}

func TestRun_Success(t *testing.T) {
	m, fake := newTestMachine(never, Options{})
	snap := runToEnd(t, m, fake)

	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, []StageStatus{StageCompleted, StageCompleted, StageCompleted, StageCompleted}, statuses(snap))
	assert.Equal(t, []string{"[INFO] BUILD SUCCESS", "Tests Passed (42/42)"}, snap.Stages[1].Logs)
	assert.Equal(t, 2500*time.Millisecond, snap.Stages[1].Duration)

	logs := m.Logs().Snapshot()
	require.NotEmpty(t, logs)
	assert.Equal(t, InitLine, logs[0])
	assert.Equal(t, CompletionLine, logs[len(logs)-1])

	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.FinishedAt)
	assert.Equal(t, 8*time.Second, snap.FinishedAt.Sub(*snap.StartedAt))
}

func TestRun_BuildFailure(t *testing.T) {
	m, fake := newTestMachine(always, Options{})
	snap := runToEnd(t, m, fake)

	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, []StageStatus{StageCompleted, StageFailed, StagePending, StagePending}, statuses(snap))
	assert.Equal(t, stage.BuildAndTest, snap.FailedStage())
	assert.Equal(t, []string{"[INFO] BUILD FAILURE", "[ERROR] Tests failed"}, snap.Stages[1].Logs)
	assert.Empty(t, snap.Stages[2].Logs)

	logs := m.Logs().Snapshot()
	assert.Equal(t, "[INFO] BUILD FAILURE", logs[len(logs)-1])
	assert.NotContains(t, logs, CompletionLine)
	assert.NotContains(t, logs, "docker build -t app:latest .")
}

func TestRun_FailureDrawnOncePerRun(t *testing.T) {
	rng := &countingRand{Rand: never}
	m, fake := newTestMachine(rng, Options{})
	runToEnd(t, m, fake)
	assert.Equal(t, 1, rng.calls)
}

type countingRand struct {
	clock.Rand
	calls int
}

func (c *countingRand) Float64() float64 {
	c.calls++
	return c.Rand.Float64()
}

func TestStart_TransitionsAreObservable(t *testing.T) {
	m, fake := newTestMachine(never, Options{})
	require.True(t, m.Start())

	type expect struct {
		advance time.Duration
		running int
		want    []StageStatus
	}
	steps := []expect{
		{1500 * time.Millisecond, 0, []StageStatus{StageRunning, StagePending, StagePending, StagePending}},
		{1500 * time.Millisecond, 1, []StageStatus{StageCompleted, StageRunning, StagePending, StagePending}},
		{1000 * time.Millisecond, 1, []StageStatus{StageCompleted, StageRunning, StagePending, StagePending}},
		{2000 * time.Millisecond, 2, []StageStatus{StageCompleted, StageCompleted, StageRunning, StagePending}},
		{2000 * time.Millisecond, 3, []StageStatus{StageCompleted, StageCompleted, StageCompleted, StageRunning}},
	}
	for i, s := range steps {
		fake.WaitForTimers(1)
		snap := m.Snapshot()
		assert.Equal(t, StatusRunning, snap.Status, "step %d", i)
		assert.Equal(t, s.want, statuses(snap), "step %d", i)
		running, ok := snap.Running()
		require.True(t, ok, "step %d", i)
		assert.Equal(t, snap.Stages[s.running].Key, running.Key)
		fake.Advance(s.advance)
	}

	m.Wait()
	assert.Equal(t, StatusSuccess, m.Status())
}

func TestStart_IdempotentWhileRunning(t *testing.T) {
	m, fake := newTestMachine(never, Options{})
	require.True(t, m.Start())
	fake.WaitForTimers(1)
	firstRun := m.Snapshot().RunID

	assert.False(t, m.Start())
	assert.Equal(t, StatusRunning, m.Run())
	assert.Equal(t, firstRun, m.Snapshot().RunID)
	assert.Equal(t, []string{InitLine, "git fetch origin main"}, m.Logs().Snapshot())

	drain(t, m, fake)
}

func TestStart_NewRunResetsStagesAndLogs(t *testing.T) {
	m, fake := newTestMachine(always, Options{})
	first := runToEnd(t, m, fake)
	require.Equal(t, StatusFailed, first.Status)

	require.True(t, m.Start())
	fake.WaitForTimers(1)
	snap := m.Snapshot()

	assert.NotEqual(t, first.RunID, snap.RunID)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Nil(t, snap.FinishedAt)
	assert.Equal(t, []StageStatus{StageRunning, StagePending, StagePending, StagePending}, statuses(snap))
	assert.Empty(t, snap.Stages[1].Logs)
	assert.Equal(t, []string{InitLine, "git fetch origin main"}, m.Logs().Snapshot())

	drain(t, m, fake)
}

func TestObservers_SeeInvariantsHold(t *testing.T) {
	for _, tc := range []struct {
		name string
		rng  clock.Rand
	}{{"success", never}, {"failure", always}} {
		t.Run(tc.name, func(t *testing.T) {
			m, fake := newTestMachine(tc.rng, Options{})

			var snaps []Snapshot
			var logLens []int
			m.OnChange(func(s Snapshot) {
				snaps = append(snaps, s)
				logLens = append(logLens, m.Logs().Len())
			})
			final := runToEnd(t, m, fake)

			require.NotEmpty(t, snaps)
			for i, s := range snaps {
				running := 0
				failedAt := -1
				for j, st := range s.Stages {
					if st.Status == StageRunning {
						running++
					}
					if failedAt >= 0 {
						assert.Equal(t, StagePending, st.Status, "snapshot %d stage %d after failure", i, j)
					}
					if st.Status == StageFailed {
						failedAt = j
					}
				}
				assert.LessOrEqual(t, running, 1, "snapshot %d", i)
				assert.Equal(t, Aggregate(s.Stages, true), s.Status, "snapshot %d", i)
				if i > 0 {
					assert.GreaterOrEqual(t, logLens[i], logLens[i-1], "log shrank at snapshot %d", i)
				}
			}
			assert.Equal(t, final.Status, snaps[len(snaps)-1].Status)
		})
	}
}

type memRecorder struct {
	mu   sync.Mutex
	runs []RunRecord
	err  error
}

func (r *memRecorder) RecordRun(_ context.Context, run RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return r.err
}

func TestRecorder_ReceivesFinishedRun(t *testing.T) {
	rec := &memRecorder{}
	m, fake := newTestMachine(always, Options{Recorder: rec})
	snap := runToEnd(t, m, fake)

	require.Len(t, rec.runs, 1)
	run := rec.runs[0]
	assert.Equal(t, snap.RunID, run.ID)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, stage.BuildAndTest, run.FailedStage)
	assert.Equal(t, 4*time.Second, run.Duration())
	assert.Equal(t, m.Logs().Snapshot(), run.Logs)
}

func TestRecorder_ErrorDoesNotAffectState(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	m, fake := newTestMachine(never, Options{Recorder: rec})
	snap := runToEnd(t, m, fake)

	assert.Equal(t, StatusSuccess, snap.Status)
	assert.True(t, m.Start(), "machine should accept a new run after a recorder error")
	drain(t, m, fake)
}

// blockingRecorder parks RecordRun until release is closed.
type blockingRecorder struct {
	entered chan string
	release chan struct{}
}

func (r *blockingRecorder) RecordRun(_ context.Context, run RunRecord) error {
	r.entered <- run.ID
	<-r.release
	return nil
}

func TestStart_AcceptedWhileRecording(t *testing.T) {
	rec := &blockingRecorder{entered: make(chan string, 2), release: make(chan struct{})}
	m, fake := newTestMachine(always, Options{Recorder: rec})
	require.True(t, m.Start())

	var firstID string
	deadline := time.After(5 * time.Second)
	for firstID == "" {
		select {
		case firstID = <-rec.entered:
		case <-deadline:
			t.Fatal("run never reached the recorder")
		default:
			if fake.PendingCount() > 0 {
				fake.Advance(500 * time.Millisecond)
			} else {
				time.Sleep(time.Millisecond)
			}
		}
	}

	assert.Equal(t, StatusFailed, m.Status())
	waited := make(chan struct{})
	go func() {
		m.Wait()
		close(waited)
	}()

	require.True(t, m.Start(), "a finished run must not block the next one while it is recorded")
	assert.Equal(t, StatusRunning, m.Status())
	assert.NotEqual(t, firstID, m.Snapshot().RunID)

	select {
	case <-waited:
		t.Fatal("Wait returned before the first run was recorded")
	case <-time.After(20 * time.Millisecond):
	}

	close(rec.release)
	drain(t, m, fake)
	<-waited
	assert.Len(t, rec.entered, 1, "second run should also reach the recorder")
}

func TestTimeScale(t *testing.T) {
	m, fake := newTestMachine(never, Options{TimeScale: 0.5})
	require.True(t, m.Start())

	fake.WaitForTimers(1)
	fake.Advance(750 * time.Millisecond)
	fake.WaitForTimers(1)

	snap := m.Snapshot()
	assert.Equal(t, StageCompleted, snap.Stages[0].Status)
	assert.Equal(t, 750*time.Millisecond, snap.Stages[0].Duration)
	drain(t, m, fake)
}

func TestSaveAndLoadRecord(t *testing.T) {
	m, fake := newTestMachine(always, Options{})
	snap := runToEnd(t, m, fake)
	run := snap.Record(m.Logs().Snapshot())

	path := filepath.Join(t.TempDir(), "runs", "last.json")
	require.NoError(t, SaveRecord(path, run))

	got, err := LoadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.Logs, got.Logs)
	assert.Equal(t, StatusFailed, got.Status)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
}

func TestLoadRecord_Missing(t *testing.T) {
	_, err := LoadRecord(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
