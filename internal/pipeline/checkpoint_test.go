package pipeline

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matsen/lattice/internal/frontier"
)

func TestCheckpointSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	cfg := RunConfig{Seeds: []string{"a"}, MaxDepth: 2}
	queue := []frontier.Item{{ID: "b", Depth: 1}, {ID: "c", Depth: 2}}

	ckpt := newCheckpoint(newRunID(), cfg, queue)
	if err := ckpt.save(path); err != nil {
		t.Fatalf("save() error: %v", err)
	}

	got, err := loadCheckpoint(path)
	if err != nil {
		t.Fatalf("loadCheckpoint() error: %v", err)
	}
	if got.RunID != ckpt.RunID || got.SchemaVersion != CheckpointSchemaVersion {
		t.Errorf("header mismatch: %+v", got)
	}
	if len(got.Queue) != 2 || got.Queue[0].ID != "b" || got.Queue[1].Depth != 2 {
		t.Errorf("queue mismatch: %+v", got.Queue)
	}
	if got.Config.MaxDepth != 2 {
		t.Errorf("config echo lost: %+v", got.Config)
	}
	if got.CreatedAt == "" {
		t.Error("created_at missing")
	}
}

func TestCheckpointMissing(t *testing.T) {
	_, err := loadCheckpoint(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("loadCheckpoint(absent) = %v, want ErrNoCheckpoint", err)
	}
}

func TestCheckpointRefusesNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	data, _ := json.Marshal(Checkpoint{RunID: "r", SchemaVersion: CheckpointSchemaVersion + 1})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadCheckpoint(path); !errors.Is(err, ErrCheckpointVersion) {
		t.Errorf("loadCheckpoint(newer) = %v, want ErrCheckpointVersion", err)
	}
}

func TestCheckpointAtomicReplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	first := newCheckpoint("run-1", RunConfig{}, nil)
	if err := first.save(path); err != nil {
		t.Fatal(err)
	}
	second := newCheckpoint("run-2", RunConfig{}, []frontier.Item{{ID: "x"}})
	if err := second.save(path); err != nil {
		t.Fatal(err)
	}

	got, err := loadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.RunID != "run-2" {
		t.Errorf("RunID = %q, want the replacement", got.RunID)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateStarting, true},
		{StateStarting, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateStopping, StateStopped, true},
		{StateIdle, StateRunning, false},
		{StateCompleted, StateRunning, false},
		{StateStopped, StateStopping, false},
	}
	for _, tt := range tests {
		if got := legal(tt.from, tt.to); got != tt.ok {
			t.Errorf("legal(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateStopped, StateCompleted, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateIdle, StateStarting, StateRunning, StateStopping} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
