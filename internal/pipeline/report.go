package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveRecord writes run as indented JSON to path. The file is written to
// a temp file in the same directory and renamed into place.
func SaveRecord(path string, run RunRecord) error {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".run-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	tmpName = ""
	return nil
}

// LoadRecord reads a run previously written by SaveRecord.
func LoadRecord(path string) (*RunRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var run RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return &run, nil
}

// Record builds a RunRecord from a settled snapshot and the run's log.
func (s Snapshot) Record(logs []string) RunRecord {
	run := RunRecord{
		ID:          s.RunID,
		Status:      s.Status,
		FailedStage: s.FailedStage(),
		Stages:      s.Stages,
		Logs:        logs,
	}
	if s.StartedAt != nil {
		run.StartedAt = *s.StartedAt
	}
	if s.FinishedAt != nil {
		run.FinishedAt = *s.FinishedAt
	}
	return run
}
