package pipeline

import "time"

// StageStatus is the lifecycle state of one stage.
type StageStatus string

const (
	StagePending   StageStatus = "PENDING"
	StageRunning   StageStatus = "RUNNING"
	StageCompleted StageStatus = "COMPLETED"
	StageFailed    StageStatus = "FAILED"
	// StageSkipped is reserved for a skip-remaining-stages policy. Nothing
	// sets it today: stages after a failure stay pending.
	StageSkipped StageStatus = "SKIPPED"
)

// Terminal reports whether the stage has settled.
func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// Status is the aggregate status of a run.
type Status string

const (
	StatusIdle    Status = "IDLE"
	StatusRunning Status = "RUNNING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether the run has finished.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Stage is the observable state of one pipeline stage.
type Stage struct {
	ID       string        `json:"id"`
	Key      string        `json:"key"`
	Name     string        `json:"name"`
	Tool     string        `json:"tool"`
	Status   StageStatus   `json:"status"`
	Logs     []string      `json:"logs"`
	Duration time.Duration `json:"duration,omitempty"`
}

// Aggregate derives the run status from the stage list. started is false
// only before the first run has begun.
func Aggregate(stages []Stage, started bool) Status {
	if !started {
		return StatusIdle
	}
	completed := 0
	for _, s := range stages {
		switch s.Status {
		case StageFailed:
			return StatusFailed
		case StageCompleted:
			completed++
		}
	}
	if len(stages) > 0 && completed == len(stages) {
		return StatusSuccess
	}
	return StatusRunning
}

// Snapshot is an immutable view of the machine at one instant.
type Snapshot struct {
	RunID      string     `json:"run_id,omitempty"`
	Status     Status     `json:"status"`
	Stages     []Stage    `json:"stages"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Running returns the stage currently running, if any.
func (s Snapshot) Running() (Stage, bool) {
	for _, st := range s.Stages {
		if st.Status == StageRunning {
			return st, true
		}
	}
	return Stage{}, false
}

// FailedStage returns the catalog key (stage.BuildAndTest etc.) of the
// failed stage, or "". Run history stores this form.
func (s Snapshot) FailedStage() string {
	for _, st := range s.Stages {
		if st.Status == StageFailed {
			return st.Key
		}
	}
	return ""
}

func cloneStages(stages []Stage) []Stage {
	out := make([]Stage, len(stages))
	for i, s := range stages {
		s.Logs = append([]string(nil), s.Logs...)
		out[i] = s
	}
	return out
}
