package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCheckpoint_JSONSerialization(t *testing.T) {
	original := createTestCheckpoint(7)
	original.Timestamp = time.Date(2025, 10, 23, 10, 30, 0, 0, time.UTC)

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Failed to marshal checkpoint: %v", err)
	}

	var restored Checkpoint
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Failed to unmarshal checkpoint: %v", err)
	}

	if restored.RunID != original.RunID {
		t.Errorf("RunID mismatch: got %s, want %s", restored.RunID, original.RunID)
	}
	if !restored.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp mismatch: got %v, want %v", restored.Timestamp, original.Timestamp)
	}
	if restored.Config.Optimizer != "rsws" {
		t.Errorf("Config.Optimizer mismatch: got %s", restored.Config.Optimizer)
	}
}

func TestNewRunIDIsUUID(t *testing.T) {
	id := NewRunID()
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("NewRunID() = %q is not a UUID: %v", id, err)
	}
	if id == NewRunID() {
		t.Error("NewRunID should not repeat")
	}
}

func TestCheckpoint_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Checkpoint)
		field  string
	}{
		{"valid", func(c *Checkpoint) {}, ""},
		{"empty run id", func(c *Checkpoint) { c.RunID = "" }, "RunID"},
		{"malformed run id", func(c *Checkpoint) { c.RunID = "abc" }, "RunID"},
		{"negative epoch", func(c *Checkpoint) { c.Epoch = -1 }, "Epoch"},
		{"epoch past end", func(c *Checkpoint) { c.Epoch = 50 }, "Epoch"},
		{"zero timestamp", func(c *Checkpoint) { c.Timestamp = time.Time{} }, "Timestamp"},
		{"no optimizer", func(c *Checkpoint) { c.Config.Optimizer = "" }, "Config.Optimizer"},
		{"no search space", func(c *Checkpoint) { c.Config.SearchSpace = "" }, "Config.SearchSpace"},
		{"broken graph", func(c *Checkpoint) { c.State.Graph.Slots[0].Selected = 5 }, "State.Graph"},
		{"negative steps", func(c *Checkpoint) { c.State.Steps = -1 }, "State.Steps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := createTestCheckpoint(3)
			tt.modify(cp)
			err := cp.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Expected valid checkpoint, got %v", err)
				}
				return
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Field = %s, want %s", vErr.Field, tt.field)
			}
		})
	}
}

func TestCheckpoint_IsCompatible(t *testing.T) {
	cp := createTestCheckpoint(3)

	if err := cp.IsCompatible(cp.Config); err != nil {
		t.Errorf("Expected compatible, got %v", err)
	}

	other := cp.Config
	other.Optimizer = "oneshot"
	var cErr *CompatibilityError
	if err := cp.IsCompatible(other); !errors.As(err, &cErr) || cErr.Field != "Optimizer" {
		t.Errorf("Expected Optimizer mismatch, got %v", err)
	}

	other = cp.Config
	other.Scope = []string{"cell"}
	if err := cp.IsCompatible(other); !errors.As(err, &cErr) || cErr.Field != "Scope" {
		t.Errorf("Expected Scope mismatch, got %v", err)
	}

	other = cp.Config
	other.Seed = cp.Config.Seed + 7
	if err := cp.IsCompatible(other); !errors.As(err, &cErr) || cErr.Field != "Seed" {
		t.Errorf("Expected Seed mismatch, got %v", err)
	}

	// the epoch budget may grow on resume
	other = cp.Config
	other.Epochs = 100
	if err := cp.IsCompatible(other); err != nil {
		t.Errorf("Expected compatible, got %v", err)
	}
}

func TestNotFoundErrorIs(t *testing.T) {
	err := &NotFoundError{Path: "x"}
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}
	if err.Error() != "checkpoint not found: x" {
		t.Errorf("Error() = %q", err.Error())
	}
}
