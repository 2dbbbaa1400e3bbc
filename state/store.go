// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store reads and writes the snapshot at a fixed path.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a Store for the given snapshot path. A nil logger
// defaults to slog.Default().
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the canonical snapshot path.
func (s *Store) Path() string { return s.path }

// Load reads and sanitizes the snapshot. An absent or corrupt file
// yields an empty default state; individual records that fail to decode
// are dropped with a warning.
func (s *Store) Load() (*State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("state: reading %s: %w", s.path, err)
	}

	loaded, err := Sanitize(data)
	if err != nil {
		// The document as a whole is unreadable. Starting from empty is
		// safe: external resources are re-discovered by reconcile, and
		// re-processing risk is bounded by the sync token captured at
		// startup.
		s.logger.Warn("state file unreadable, starting from empty state",
			"path", s.path,
			"error", err,
		)
		return Empty(), nil
	}
	return loaded, nil
}

// Save writes the snapshot crash-safely: serialize to a sibling temp
// file with a unique suffix, fsync, atomically rename over the
// canonical path, then best-effort fsync the directory. Errors are
// returned to the caller, which must treat them as fatal — the
// orchestrator cannot safely continue if it cannot persist progress.
func (s *Store) Save(snapshot *State) error {
	snapshot.Version = SchemaVersion

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshaling snapshot: %w", err)
	}
	data = append(data, '\n')

	directory := filepath.Dir(s.path)
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return fmt.Errorf("state: creating state directory: %w", err)
	}

	temporaryPath := fmt.Sprintf("%s.%s.tmp", s.path, uuid.NewString())
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("state: creating temporary snapshot: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("state: writing temporary snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("state: syncing temporary snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("state: closing temporary snapshot: %w", err)
	}

	if err := os.Rename(temporaryPath, s.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("state: renaming snapshot into place: %w", err)
	}

	// Directory fsync makes the rename durable. Some filesystems don't
	// support syncing a directory handle; the rename itself is still
	// atomic, so failure here is tolerable.
	if directoryFile, err := os.Open(directory); err == nil {
		directoryFile.Sync()
		directoryFile.Close()
	}

	return nil
}

// rawState mirrors the top-level document shape with per-record
// payloads left undecoded, so one malformed record cannot poison the
// rest of the snapshot.
type rawState struct {
	Version    int                        `json:"version"`
	Workspace  json.RawMessage            `json:"workspace"`
	Projects   map[string]json.RawMessage `json:"projects"`
	Tasks      map[string]json.RawMessage `json:"tasks"`
	EventIndex map[string]string          `json:"eventIndex"`
}

// Sanitize decodes a snapshot document, dropping records that fail to
// decode or that lack required fields. Unknown keys are ignored by the
// standard decoder. Sanitize is idempotent: re-encoding and
// re-sanitizing a sanitized state yields the same state.
func Sanitize(data []byte) (*State, error) {
	var raw rawState
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("state: decoding snapshot: %w", err)
	}

	out := Empty()

	if len(raw.Workspace) > 0 {
		var workspace Workspace
		if err := json.Unmarshal(raw.Workspace, &workspace); err == nil {
			out.Workspace = workspace
		}
	}

	for key, payload := range raw.Projects {
		if key == "" {
			continue
		}
		var project Project
		if err := json.Unmarshal(payload, &project); err != nil {
			continue
		}
		out.Projects[key] = &project
	}

	for id, payload := range raw.Tasks {
		if id == "" {
			continue
		}
		var task Task
		if err := json.Unmarshal(payload, &task); err != nil {
			continue
		}
		if task.ID == "" {
			task.ID = id
		}
		if !taskComplete(&task) {
			continue
		}
		out.Tasks[id] = &task
	}

	for key, value := range raw.EventIndex {
		if key == "" || value == "" {
			continue
		}
		out.EventIndex[key] = value
	}

	return out, nil
}

// taskComplete reports whether a task record carries every field the
// scheduler depends on. Records failing this check are discarded on
// load.
func taskComplete(task *Task) bool {
	return task.ProjectKey != "" &&
		task.LobbyRoomID != "" &&
		task.LobbyEventID != "" &&
		task.InitialPrompt != "" &&
		task.Status.Valid()
}
