// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/atelier-works/atelier/lib/clock"
	"github.com/atelier-works/atelier/lib/config"
	"github.com/atelier-works/atelier/lib/ref"
	"github.com/atelier-works/atelier/state"
)

// Options configures an Orchestrator.
type Options struct {
	Config *config.Config
	Store  *state.Store
	Chat   ChatAPI
	Spark  SparkAPI

	// Logger is used for structured logging. If nil, slog.Default() is
	// used.
	Logger *slog.Logger

	// Clock drives timestamps and the loop back-off sleep. If nil,
	// clock.Real() is used.
	Clock clock.Clock

	// Environ supplies the process environment for bridge env
	// pass-through. If nil, os.Environ is used.
	Environ func() []string
}

// Orchestrator owns the control loop and the in-memory snapshot. It is
// the snapshot's only writer.
type Orchestrator struct {
	config  *config.Config
	store   *state.Store
	chat    ChatAPI
	sandbox SparkAPI
	logger  *slog.Logger
	clock   clock.Clock
	environ func() []string

	state       *state.State
	teamMembers []ref.UserID
	sinceToken  string

	// inFlight guards against re-entry for events seen in overlapping
	// sync batches before their index entry is persisted. Single-writer,
	// not a lock.
	inFlight map[string]bool
}

// New creates an Orchestrator. The state snapshot is loaded eagerly so
// construction fails fast on an unreadable state file.
func New(opts Options) (*Orchestrator, error) {
	if opts.Config == nil || opts.Store == nil || opts.Chat == nil || opts.Spark == nil {
		return nil, fmt.Errorf("orchestrator: Config, Store, Chat, and Spark are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	environ := opts.Environ
	if environ == nil {
		environ = os.Environ
	}

	teamMembers := make([]ref.UserID, 0, len(opts.Config.Workspace.TeamMembers))
	for _, raw := range opts.Config.Workspace.TeamMembers {
		userID, err := ref.ParseUserID(raw)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: invalid team member %q: %w", raw, err)
		}
		teamMembers = append(teamMembers, userID)
	}

	snapshot, err := opts.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: failed to load state: %w", err)
	}

	return &Orchestrator{
		config:      opts.Config,
		store:       opts.Store,
		chat:        opts.Chat,
		sandbox:     opts.Spark,
		logger:      logger,
		clock:       clk,
		environ:     environ,
		state:       snapshot,
		teamMembers: teamMembers,
		inFlight:    make(map[string]bool),
	}, nil
}

// Initialize verifies both external dependencies, reconciles the
// workspace, and captures the starting sync token. Events that arrived
// while the orchestrator was offline are deliberately skipped: the
// zero-timeout sync discards its events and keeps only the token.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.chat.VerifyConnection(ctx); err != nil {
		return fmt.Errorf("orchestrator: chat verification failed: %w", err)
	}
	if err := o.sandbox.VerifyAvailability(ctx); err != nil {
		return fmt.Errorf("orchestrator: sandbox verification failed: %w", err)
	}

	if err := o.ReconcileWorkspaceAndProjects(ctx); err != nil {
		return err
	}

	response, err := o.chat.Sync(ctx, "", 0, o.lobbyRoomIDs())
	if err != nil {
		return fmt.Errorf("orchestrator: failed to obtain initial sync token: %w", err)
	}
	o.sinceToken = response.NextBatch
	o.logger.Info("orchestrator initialized",
		"projects", len(o.config.Projects),
		"tasks", len(o.state.Tasks),
	)
	return nil
}

// lobbyRoomIDs returns the lobby room IDs of all reconciled projects,
// in declared project order.
func (o *Orchestrator) lobbyRoomIDs() []ref.RoomID {
	var rooms []ref.RoomID
	for _, project := range o.config.Projects {
		record, ok := o.state.Projects[project.Key]
		if !ok || record.LobbyRoomID == "" {
			continue
		}
		roomID, err := ref.ParseRoomID(record.LobbyRoomID)
		if err != nil {
			o.logger.Warn("skipping project with malformed lobby room ID",
				"project", project.Key,
				"lobby_room_id", record.LobbyRoomID,
			)
			continue
		}
		rooms = append(rooms, roomID)
	}
	return rooms
}

// persist saves the snapshot. A persistence failure is fatal to the
// orchestrator: continuing would let in-memory state diverge from what
// survives a restart.
func (o *Orchestrator) persist() error {
	if err := o.store.Save(o.state); err != nil {
		return fmt.Errorf("orchestrator: failed to persist state: %w", err)
	}
	return nil
}
