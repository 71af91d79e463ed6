package store

import (
	"errors"
	"io"
	"math"
	"testing"
	"time"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewTraceWriter(tmpDir, false)
	if err != nil {
		t.Fatalf("Failed to create trace writer: %v", err)
	}

	entries := []TraceEntry{
		{Epoch: 0, Stats: map[string]float64{"train_acc": 40}, Timestamp: time.Now()},
		{Epoch: 1, Stats: map[string]float64{"train_acc": 55}, Timestamp: time.Now(), Architecture: "nb|cell/0-1=skip_connect"},
		{Epoch: 2, Stats: map[string]float64{"train_acc": 61, "train_loss": math.NaN()}, Timestamp: time.Now()},
	}
	for _, entry := range entries {
		if err := writer.Write(entry); err != nil {
			t.Fatalf("Failed to write entry: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	reader, err := NewTraceReader(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	read, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("Failed to read entries: %v", err)
	}
	if len(read) != len(entries) {
		t.Fatalf("Expected %d entries, got %d", len(entries), len(read))
	}
	for i, e := range read {
		if e.Epoch != entries[i].Epoch {
			t.Errorf("Entry %d: epoch %d, want %d", i, e.Epoch, entries[i].Epoch)
		}
		if e.Stats["train_acc"] != entries[i].Stats["train_acc"] {
			t.Errorf("Entry %d: train_acc %f", i, e.Stats["train_acc"])
		}
	}
	if read[1].Architecture == "" {
		t.Error("Expected architecture on entry 1")
	}
	if _, ok := read[2].Stats["train_loss"]; ok {
		t.Error("NaN stat should have been dropped")
	}
}

func TestTraceWriter_Append(t *testing.T) {
	tmpDir := t.TempDir()

	for epoch := 0; epoch < 2; epoch++ {
		writer, err := NewTraceWriter(tmpDir, true)
		if err != nil {
			t.Fatalf("Failed to create trace writer: %v", err)
		}
		if err := writer.Write(TraceEntry{Epoch: epoch, Timestamp: time.Now()}); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		if err := writer.Flush(); err != nil {
			t.Fatalf("Failed to flush: %v", err)
		}
		writer.Close()
	}

	reader, err := NewTraceReader(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create trace reader: %v", err)
	}
	defer reader.Close()

	first, err := reader.Read()
	if err != nil || first.Epoch != 0 {
		t.Fatalf("first entry = %+v, %v", first, err)
	}
	second, err := reader.Read()
	if err != nil || second.Epoch != 1 {
		t.Fatalf("second entry = %+v, %v", second, err)
	}
	if _, err := reader.Read(); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestTraceReader_NotFound(t *testing.T) {
	_, err := NewTraceReader(t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteTrace(t *testing.T) {
	tmpDir := t.TempDir()

	writer, err := NewTraceWriter(tmpDir, false)
	if err != nil {
		t.Fatal(err)
	}
	writer.Close()

	if err := DeleteTrace(tmpDir); err != nil {
		t.Fatalf("DeleteTrace failed: %v", err)
	}
	if err := DeleteTrace(tmpDir); err != nil {
		t.Errorf("Deleting a missing trace should succeed, got %v", err)
	}
}
