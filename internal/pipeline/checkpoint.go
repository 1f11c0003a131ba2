package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/matsen/lattice/internal/frontier"
)

// CheckpointSchemaVersion is bumped on backwards-incompatible changes to
// the checkpoint file format. Resume refuses a higher version.
const CheckpointSchemaVersion = 1

// ErrCheckpointVersion indicates a checkpoint written by a newer build.
var ErrCheckpointVersion = errors.New("checkpoint schema version not supported")

// ErrNoCheckpoint indicates no checkpoint file exists at the path.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Checkpoint is the resumable snapshot of a run.
type Checkpoint struct {
	RunID         string          `json:"run_id"`
	SchemaVersion int             `json:"schema_version"`
	Config        RunConfig       `json:"config"`
	Queue         []frontier.Item `json:"queue"`
	CreatedAt     string          `json:"created_at"`
}

// newCheckpoint builds a snapshot for the given run.
func newCheckpoint(runID string, cfg RunConfig, queue []frontier.Item) *Checkpoint {
	return &Checkpoint{
		RunID:         runID,
		SchemaVersion: CheckpointSchemaVersion,
		Config:        cfg,
		Queue:         queue,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
}

// save atomically replaces the checkpoint file at path.
func (c *Checkpoint) save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	return nil
}

// loadCheckpoint reads and version-checks the checkpoint at path.
func loadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	if c.SchemaVersion > CheckpointSchemaVersion {
		return nil, fmt.Errorf("%w: checkpoint has %d, this build supports %d",
			ErrCheckpointVersion, c.SchemaVersion, CheckpointSchemaVersion)
	}
	return &c, nil
}

// newRunID returns a fresh run identifier.
func newRunID() string {
	return uuid.NewString()
}
