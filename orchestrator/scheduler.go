// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/atelier-works/atelier/lib/ref"
	"github.com/atelier-works/atelier/messaging"
	"github.com/atelier-works/atelier/state"
)

// errorBackoff is the sleep after a failed loop iteration.
const errorBackoff = 1500 * time.Millisecond

// RunLoop watches the lobby rooms until ctx is cancelled. The since
// token advances only after a sync batch has been handled, so a
// transient sync failure replays the batch instead of dropping it;
// replays are absorbed by the durable event index.
func (o *Orchestrator) RunLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			o.logger.Info("run loop stopping", "reason", context.Cause(ctx))
			return nil
		}

		response, err := o.chat.Sync(ctx, o.sinceToken, o.config.Runtime.SyncTimeoutMS, o.lobbyRoomIDs())
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			o.logger.Error("sync failed", "error", err)
			o.clock.Sleep(errorBackoff)
			continue
		}

		if err := o.handleSync(ctx, response); err != nil {
			return err
		}
		o.sinceToken = response.NextBatch
	}
}

// handleSync processes one sync batch: rooms in declared project order,
// events in timeline order. Only state persistence failures propagate;
// per-event pipeline failures are absorbed by markFailedEvent.
func (o *Orchestrator) handleSync(ctx context.Context, response *messaging.SyncResponse) error {
	for i := range o.config.Projects {
		project := &o.config.Projects[i]
		record, ok := o.state.Projects[project.Key]
		if !ok || record.LobbyRoomID == "" {
			continue
		}
		joined, ok := response.Rooms.Join[record.LobbyRoomID]
		if !ok {
			continue
		}
		for _, event := range joined.Timeline.Events {
			if !o.qualifies(event) {
				continue
			}
			if err := o.handleLobbyMessage(ctx, project.Key, record.LobbyRoomID, event); err != nil {
				return err
			}
		}
	}
	return nil
}

// qualifies applies the lobby message filter: real message events from
// someone other than the bot, with a non-empty body that is not a slash
// command. Slash-prefixed messages belong to the in-room data plane.
func (o *Orchestrator) qualifies(event messaging.Event) bool {
	if event.Type != "m.room.message" {
		return false
	}
	if event.EventID == "" || event.Sender == "" {
		return false
	}
	if event.Sender == o.chat.UserID().String() {
		return false
	}
	body := strings.TrimSpace(event.MessageBody())
	if body == "" || strings.HasPrefix(body, "/") {
		return false
	}
	return true
}

// handleLobbyMessage runs one qualifying lobby event through dedup and
// the task pipeline. Returns an error only when state cannot be
// persisted; pipeline errors end in markFailedEvent and a lobby notice.
func (o *Orchestrator) handleLobbyMessage(ctx context.Context, projectKey, lobbyRoomID string, event messaging.Event) (err error) {
	key := state.EventKey(lobbyRoomID, event.EventID)
	if o.state.HasProcessedEvent(lobbyRoomID, event.EventID) {
		o.logger.Debug("event already processed", "dedupe_key", key)
		return nil
	}
	if o.inFlight[key] {
		o.logger.Debug("event already in flight", "dedupe_key", key)
		return nil
	}
	o.inFlight[key] = true
	defer func() {
		delete(o.inFlight, key)
		if persistErr := o.persist(); persistErr != nil && err == nil {
			err = persistErr
		}
	}()

	o.logger.Info("accepting lobby message",
		"project", projectKey,
		"room_id", lobbyRoomID,
		"event_id", event.EventID,
		"sender", event.Sender,
	)

	if spawnErr := o.spawnTask(ctx, projectKey, lobbyRoomID, event); spawnErr != nil {
		o.markFailedEvent(ctx, projectKey, lobbyRoomID, event.EventID, spawnErr)
	}
	return nil
}

// roomRef parses a room ID stored in the snapshot; records written by
// this process always parse.
func roomRef(stored string) (ref.RoomID, bool) {
	roomID, err := ref.ParseRoomID(stored)
	return roomID, err == nil
}
