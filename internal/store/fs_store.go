package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	checkpointPrefix = "checkpoint_"
	checkpointSuffix = ".json"

	// LastCheckpointFile names the pointer to the most recent checkpoint.
	LastCheckpointFile = "last_checkpoint"
)

// FSStore implements the Store interface on a single directory, usually
// <save>/search:
//
//	checkpoint_<epoch>.json
//	last_checkpoint         (file name of the most recent checkpoint)
//	trace.jsonl
//
// Thread-safety: writes go through temp file + rename, so readers never see a
// partial checkpoint.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// Dir returns the directory the store writes to.
func (fs *FSStore) Dir() string {
	return fs.baseDir
}

// checkpointPath returns the path to the checkpoint file of an epoch.
func (fs *FSStore) checkpointPath(epoch int) string {
	return filepath.Join(fs.baseDir, fmt.Sprintf("%s%d%s", checkpointPrefix, epoch, checkpointSuffix))
}

// writeAtomic writes data to path via a temporary file and rename.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// WriteJSON atomically writes v as indented JSON to path.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", filepath.Base(path), err)
	}
	return writeAtomic(path, data)
}

// SaveCheckpoint atomically saves a checkpoint and updates the pointer file.
func (fs *FSStore) SaveCheckpoint(cp *Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := cp.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	finalPath := fs.checkpointPath(cp.Epoch)
	if err := writeAtomic(finalPath, data); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if err := writeAtomic(filepath.Join(fs.baseDir, LastCheckpointFile), []byte(filepath.Base(finalPath))); err != nil {
		return fmt.Errorf("failed to update %s: %w", LastCheckpointFile, err)
	}

	slog.Debug("Checkpoint saved", "epoch", cp.Epoch, "path", finalPath)
	return nil
}

// LoadCheckpoint retrieves the checkpoint of the given epoch.
func (fs *FSStore) LoadCheckpoint(epoch int) (*Checkpoint, error) {
	return LoadCheckpointFile(fs.checkpointPath(epoch))
}

// LoadLatest follows the pointer file.
func (fs *FSStore) LoadLatest() (*Checkpoint, error) {
	path, err := LastCheckpoint(fs.baseDir)
	if err != nil {
		return nil, err
	}
	return LoadCheckpointFile(path)
}

// LoadCheckpointFile reads and validates a checkpoint from an explicit path.
func LoadCheckpointFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{Path: path}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint %s: %w", path, err)
	}

	slog.Debug("Checkpoint loaded", "epoch", checkpoint.Epoch, "path", path)
	return &checkpoint, nil
}

// LastCheckpoint resolves the pointer file in dir to a checkpoint path.
// Returns ErrNotFound when no checkpoint has been recorded.
func LastCheckpoint(dir string) (string, error) {
	pointer := filepath.Join(dir, LastCheckpointFile)
	data, err := os.ReadFile(pointer)
	if os.IsNotExist(err) {
		return "", &NotFoundError{Path: pointer}
	} else if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", LastCheckpointFile, err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", &NotFoundError{Path: pointer}
	}
	return filepath.Join(dir, name), nil
}

// epochOf parses the epoch from a checkpoint file name.
func epochOf(name string) (int, bool) {
	if !strings.HasPrefix(name, checkpointPrefix) || !strings.HasSuffix(name, checkpointSuffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, checkpointPrefix), checkpointSuffix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ListCheckpoints returns metadata for all available checkpoints.
func (fs *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(fs.baseDir)
	if os.IsNotExist(err) {
		return []CheckpointInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := epochOf(entry.Name()); !ok {
			continue
		}
		path := filepath.Join(fs.baseDir, entry.Name())
		checkpoint, err := LoadCheckpointFile(path)
		if err != nil {
			slog.Warn("Failed to load checkpoint for listing", "path", path, "error", err)
			continue
		}
		infos = append(infos, checkpoint.ToInfo(path))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Epoch < infos[j].Epoch })

	slog.Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// DeleteCheckpoint removes the checkpoint of an epoch.
func (fs *FSStore) DeleteCheckpoint(epoch int) error {
	path := fs.checkpointPath(epoch)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &NotFoundError{Path: path}
	} else if err != nil {
		return fmt.Errorf("failed to stat checkpoint file: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove checkpoint file: %w", err)
	}

	if last, err := LastCheckpoint(fs.baseDir); err == nil && last == path {
		if err := os.Remove(filepath.Join(fs.baseDir, LastCheckpointFile)); err != nil {
			return fmt.Errorf("failed to clear %s: %w", LastCheckpointFile, err)
		}
	}

	slog.Debug("Checkpoint deleted", "epoch", epoch, "path", path)
	return nil
}
