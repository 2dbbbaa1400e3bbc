// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/atelier-works/atelier/lib/config"
	"github.com/atelier-works/atelier/lib/ref"
	"github.com/atelier-works/atelier/messaging"
	"github.com/atelier-works/atelier/spark"
	"github.com/atelier-works/atelier/state"
)

// typingTimeoutMS is the auto-expiry the homeserver applies to the
// typing indicator shown while a task spawns.
const typingTimeoutMS = 30000

// maxStatusReason bounds the error text stored on a failed task and
// echoed into the lobby.
const maxStatusReason = 500

// spawnTask converts one qualifying lobby message into a running task:
// task record, private room under the project space, forked sandbox,
// launched bridge. The record and its event index entry are persisted
// before the first external side effect, so a crash or failure at any
// later step can never cause a second task for the same message.
func (o *Orchestrator) spawnTask(ctx context.Context, projectKey, lobbyRoomID string, event messaging.Event) error {
	project := o.projectConfig(projectKey)
	if project == nil {
		return fmt.Errorf("orchestrator: no configuration for project %s", projectKey)
	}
	record := o.state.Projects[projectKey]
	projectSpaceID, err := ref.ParseRoomID(record.ProjectSpaceID)
	if err != nil {
		return fmt.Errorf("orchestrator: project %s has no usable space: %w", projectKey, err)
	}

	if lobby, ok := roomRef(lobbyRoomID); ok {
		o.chat.SendTyping(ctx, lobby, true, typingTimeoutMS)
		defer o.chat.SendTyping(ctx, lobby, false, 0)
	}

	prompt := strings.TrimSpace(event.MessageBody())
	now := o.clock.Now().UTC()
	ids := BuildTaskIdentifiers(projectKey, prompt, event.EventID, now)

	task := &state.Task{
		ID:            ids.TaskID,
		ProjectKey:    projectKey,
		LobbyRoomID:   lobbyRoomID,
		LobbyEventID:  event.EventID,
		Status:        state.StatusWaiting,
		InitialPrompt: prompt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	o.state.Tasks[ids.TaskID] = task
	o.state.MarkEventProcessed(lobbyRoomID, event.EventID, ids.TaskID)
	if err := o.persist(); err != nil {
		return err
	}

	taskRoomName := project.Matrix.TaskRoomPrefix + "-" + ids.RoomLabel
	taskRoomID, err := o.chat.CreateRoom(ctx, taskRoomName,
		"Task "+ids.TaskID+": "+prompt, o.teamMembers)
	if err != nil {
		return fmt.Errorf("orchestrator: failed to create task room: %w", err)
	}
	task.TaskRoomID = taskRoomID.String()
	task.TaskRoomName = taskRoomName
	if err := o.chat.LinkRoomUnderSpace(ctx, projectSpaceID, taskRoomID); err != nil {
		return fmt.Errorf("orchestrator: failed to link task room: %w", err)
	}

	metadata := "status: waiting\n" +
		"task: " + ids.TaskID + "\n" +
		"project: " + projectKey + "\n" +
		"sandbox: " + project.Spark.Project + ":" + ids.SandboxName
	if _, err := o.chat.SendNotice(ctx, taskRoomID, metadata, messaging.SendOptions{}); err != nil {
		return fmt.Errorf("orchestrator: failed to post task metadata: %w", err)
	}
	if _, err := o.chat.SendNotice(ctx, taskRoomID, prompt, messaging.SendOptions{}); err != nil {
		return fmt.Errorf("orchestrator: failed to post task prompt: %w", err)
	}

	if err := o.sandbox.CreateTaskSandboxFork(ctx, spark.ForkSpec{
		Project:     project.Spark.Project,
		TaskSandbox: ids.SandboxName,
		MainSandbox: project.Spark.MainSpark,
		Tags: map[string]string{
			"matrix_room_id":        task.TaskRoomID,
			"matrix_project":        projectKey,
			"matrix_lobby_room_id":  lobbyRoomID,
			"matrix_lobby_event_id": event.EventID,
		},
	}); err != nil {
		return err
	}
	task.SandboxProject = project.Spark.Project
	task.SandboxName = ids.SandboxName

	launch, err := o.sandbox.LaunchBridgeInSandbox(ctx, spark.LaunchSpec{
		Project:          project.Spark.Project,
		SandboxName:      ids.SandboxName,
		BridgeEntrypoint: o.config.Runtime.BridgeEntrypoint,
		BridgeWorkdir:    o.config.Runtime.BridgeWorkdir,
		Env:              o.buildBridgeEnv(project, task),
	})
	if err != nil {
		return err
	}
	task.Bridge = state.BridgeInfo{
		PID:       launch.PID,
		ProcessID: launch.ProcessID,
		RawOutput: launch.RawOutput,
	}
	task.Status = state.StatusActive
	task.UpdatedAt = o.clock.Now().UTC()

	if lobby, ok := roomRef(lobbyRoomID); ok {
		notice := "Task created: " + ids.TaskID + "\n" +
			"Room: " + task.TaskRoomName + " (" + roomLink(taskRoomID) + ")\n" +
			"Sandbox: " + task.SandboxProject + ":" + task.SandboxName
		if _, err := o.chat.SendNotice(ctx, lobby, notice, messaging.SendOptions{}); err != nil {
			return fmt.Errorf("orchestrator: failed to post task-created notice: %w", err)
		}
	}

	o.logger.Info("task created",
		"task_id", ids.TaskID,
		"project", projectKey,
		"task_room_id", task.TaskRoomID,
		"sandbox", task.SandboxProject+":"+task.SandboxName,
	)
	return o.persist()
}

// markFailedEvent settles a lobby event whose pipeline failed: the task
// (if one was recorded) becomes a terminal error, its room is discarded
// unless configured otherwise, the lobby is notified, and the event is
// left permanently indexed so it is never retried.
func (o *Orchestrator) markFailedEvent(ctx context.Context, projectKey, lobbyRoomID, eventID string, cause error) {
	o.logger.Error("task spawn failed",
		"project", projectKey,
		"room_id", lobbyRoomID,
		"event_id", eventID,
		"error", cause,
	)
	reason := cause.Error()
	if len(reason) > maxStatusReason {
		reason = reason[:maxStatusReason]
	}

	key := state.EventKey(lobbyRoomID, eventID)
	if taskID, ok := o.state.EventIndex[key]; ok {
		if task, ok := o.state.Tasks[taskID]; ok {
			task.Status = state.StatusError
			task.StatusReason = reason
			task.UpdatedAt = o.clock.Now().UTC()
			if !o.config.Runtime.KeepErrorRooms && task.TaskRoomID != "" {
				if roomID, ok := roomRef(task.TaskRoomID); ok {
					o.chat.LeaveAndForget(ctx, roomID)
				}
			}
		}
	} else {
		o.state.MarkEventProcessed(lobbyRoomID, eventID,
			fmt.Sprintf("failed-%d", o.clock.Now().UnixMilli()))
	}

	if lobby, ok := roomRef(lobbyRoomID); ok {
		if _, err := o.chat.SendNotice(ctx, lobby, "Task creation failed. "+reason, messaging.SendOptions{}); err != nil {
			o.logger.Warn("failed to post failure notice", "room_id", lobbyRoomID, "error", err)
		}
	}
}

// bridgePassThroughEnv lists the exact process env keys forwarded to
// the bridge; CODEX_-prefixed keys are forwarded as well.
var bridgePassThroughEnv = map[string]bool{
	"OPENAI_API_KEY": true,
	"LOG_LEVEL":      true,
}

// buildBridgeEnv assembles the bridge process environment: a filtered
// pass-through of the orchestrator's own env overlaid with the fixed
// task coordinates. The overlay wins on conflict.
func (o *Orchestrator) buildBridgeEnv(project *config.ProjectConfig, task *state.Task) map[string]string {
	env := make(map[string]string)
	for _, entry := range o.environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if bridgePassThroughEnv[key] || strings.HasPrefix(key, "CODEX_") {
			env[key] = value
		}
	}

	env["MATRIX_HOMESERVER_URL"] = o.chat.HomeserverURL()
	env["MATRIX_ACCESS_TOKEN"] = o.chat.AccessToken()
	env["MATRIX_BOT_USER"] = o.chat.UserID().String()
	env["MATRIX_ROOM_ID"] = task.TaskRoomID
	env["PROJECT_KEY"] = task.ProjectKey
	env["SPARK_PROJECT"] = project.Spark.Project
	env["SPARK_NAME"] = task.SandboxName
	env["INITIAL_PROMPT"] = task.InitialPrompt
	return env
}

func (o *Orchestrator) projectConfig(key string) *config.ProjectConfig {
	for i := range o.config.Projects {
		if o.config.Projects[i].Key == key {
			return &o.config.Projects[i]
		}
	}
	return nil
}

// roomLink renders a matrix.to link for a room.
func roomLink(roomID ref.RoomID) string {
	return "https://matrix.to/#/" + roomID.String()
}
