package runstore

import (
	"encoding/json"
	"os"

	"github.com/laulauland/mill/internal/driver"
)

// Result is the terminal result document, written once when a run
// reaches a terminal status.
type Result struct {
	RunID        string               `json:"runId"`
	Status       Status               `json:"status"`
	Spawns       []driver.SpawnResult `json:"spawns"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
}

// WriteResult writes result.json, pretty-printed, atomically.
func (s *Store) WriteResult(runID string, res *Result) error {
	if res.Spawns == nil {
		res.Spawns = []driver.SpawnResult{}
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	path := s.PathsFor(runID).ResultFile
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadResult reads result.json for a terminal run.
func (s *Store) LoadResult(runID string) (*Result, error) {
	b, err := os.ReadFile(s.PathsFor(runID).ResultFile)
	if err != nil {
		return nil, err
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
