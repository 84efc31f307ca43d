package pipeline

import (
	"context"
	"time"
)

// RunRecord is the settled outcome of one run, handed to a Recorder.
type RunRecord struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	// FailedStage is the catalog key of the failed stage (e.g.
	// "build-and-test"), empty on success.
	FailedStage string    `json:"failed_stage,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Stages      []Stage   `json:"stages"`
	Logs        []string  `json:"logs"`
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Recorder persists finished runs.
type Recorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}
