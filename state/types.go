// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package state

import "time"

// SchemaVersion is the current snapshot schema version. Snapshots are
// written with this version; older versions load through the sanitizer
// unchanged (the schema has only ever grown optional fields).
const SchemaVersion = 1

// Status is a task lifecycle state.
type Status string

// Task lifecycle states. The orchestrator core only drives
// waiting → active and waiting → error; the remaining transitions are
// observed from the in-sandbox data plane.
const (
	StatusWaiting    Status = "waiting"
	StatusActive     Status = "active"
	StatusNeedsInput Status = "needs_input"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusActive, StatusNeedsInput, StatusCompleted, StatusError:
		return true
	}
	return false
}

// State is the full orchestrator snapshot.
type State struct {
	Version    int                 `json:"version"`
	Workspace  Workspace           `json:"workspace"`
	Projects   map[string]*Project `json:"projects"`
	Tasks      map[string]*Task    `json:"tasks"`
	EventIndex map[string]string   `json:"eventIndex"`
}

// Workspace is the singleton workspace record.
type Workspace struct {
	Name      string    `json:"name,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	SpaceID   string    `json:"spaceId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Project records the provisioned resources for one declared project.
type Project struct {
	DisplayName    string     `json:"displayName,omitempty"`
	ProjectSpaceID string     `json:"projectSpaceId,omitempty"`
	LobbyRoomID    string     `json:"lobbyRoomId,omitempty"`
	LobbyRoomName  string     `json:"lobbyRoomName,omitempty"`
	Spark          SparkShape `json:"spark"`
	UpdatedAt      time.Time  `json:"updatedAt,omitzero"`
}

// SparkShape records the sandbox fleet coordinates for a project.
type SparkShape struct {
	Project       string `json:"project,omitempty"`
	Base          string `json:"base,omitempty"`
	MainSandbox   string `json:"mainSandbox,omitempty"`
	WorkVolume    string `json:"workVolume,omitempty"`
	WorkMountPath string `json:"workMountPath,omitempty"`
}

// Task is one accepted work request.
type Task struct {
	ID             string     `json:"id"`
	ProjectKey     string     `json:"projectKey"`
	LobbyRoomID    string     `json:"lobbyRoomId"`
	LobbyEventID   string     `json:"lobbyEventId"`
	TaskRoomID     string     `json:"taskRoomId,omitempty"`
	TaskRoomName   string     `json:"taskRoomName,omitempty"`
	SandboxProject string     `json:"sandboxProject,omitempty"`
	SandboxName    string     `json:"sandboxName,omitempty"`
	Status         Status     `json:"status"`
	StatusReason   string     `json:"statusReason,omitempty"`
	Bridge         BridgeInfo `json:"bridge"`
	InitialPrompt  string     `json:"initialPrompt"`
	CreatedAt      time.Time  `json:"createdAt,omitzero"`
	UpdatedAt      time.Time  `json:"updatedAt,omitzero"`
}

// BridgeInfo records what the sandbox reported when the bridge process
// was launched. All fields are best-effort: the launch output is parsed
// leniently and absence is tolerated.
type BridgeInfo struct {
	PID       int    `json:"pid,omitempty"`
	ProcessID string `json:"processId,omitempty"`
	RawOutput string `json:"rawOutput,omitempty"`
}

// Empty returns a fresh snapshot with all maps allocated.
func Empty() *State {
	return &State{
		Version:    SchemaVersion,
		Projects:   make(map[string]*Project),
		Tasks:      make(map[string]*Task),
		EventIndex: make(map[string]string),
	}
}

// EventKey builds the dedupe key for one lobby message.
func EventKey(roomID, eventID string) string {
	return roomID + ":" + eventID
}

// HasProcessedEvent reports whether the event has already been handled,
// either by task creation or by permanent failure.
func (s *State) HasProcessedEvent(roomID, eventID string) bool {
	_, ok := s.EventIndex[EventKey(roomID, eventID)]
	return ok
}

// MarkEventProcessed records the event as definitively handled. The
// value is the task ID, or a failure marker for events that permanently
// failed before a task record existed.
func (s *State) MarkEventProcessed(roomID, eventID, value string) {
	s.EventIndex[EventKey(roomID, eventID)] = value
}

// ProjectFor returns the project record for key, creating it if absent.
func (s *State) ProjectFor(key string) *Project {
	if project, ok := s.Projects[key]; ok {
		return project
	}
	project := &Project{}
	s.Projects[key] = project
	return project
}
