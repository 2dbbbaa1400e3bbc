// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"

	"github.com/atelier-works/atelier/lib/config"
	"github.com/atelier-works/atelier/lib/ref"
	"github.com/atelier-works/atelier/spark"
	"github.com/atelier-works/atelier/state"
)

// ReconcileWorkspaceAndProjects converges external reality with the
// configuration: the workspace space, then per project in declared
// order the project space, lobby room, hierarchy links, invites, work
// volume, main sandbox, repository checkout, and bootstrap. Every step
// either confirms an existing resource or creates a missing one, so
// repeated reconciles converge without duplication.
//
// A recorded room that can no longer be joined is treated as lost: the
// field is cleared and the room re-created. Failures creating new
// resources abort reconciliation.
//
// The snapshot is persisted exactly once, at the end.
func (o *Orchestrator) ReconcileWorkspaceAndProjects(ctx context.Context) error {
	if err := o.reconcileWorkspace(ctx); err != nil {
		return err
	}
	for i := range o.config.Projects {
		if err := o.reconcileProject(ctx, &o.config.Projects[i]); err != nil {
			return err
		}
	}
	return o.persist()
}

func (o *Orchestrator) reconcileWorkspace(ctx context.Context) error {
	workspace := &o.state.Workspace

	spaceID, created, err := o.ensureRoom(ctx, workspace.SpaceID, func() (ref.RoomID, error) {
		return o.chat.CreateSpace(ctx, o.config.Workspace.Name, o.config.Workspace.Topic, o.teamMembers)
	})
	if err != nil {
		return fmt.Errorf("orchestrator: failed to reconcile workspace space: %w", err)
	}
	if created || workspace.Name != o.config.Workspace.Name || workspace.Topic != o.config.Workspace.Topic {
		workspace.Name = o.config.Workspace.Name
		workspace.Topic = o.config.Workspace.Topic
		workspace.UpdatedAt = o.clock.Now().UTC()
	}
	workspace.SpaceID = spaceID.String()
	return nil
}

func (o *Orchestrator) reconcileProject(ctx context.Context, project *config.ProjectConfig) error {
	record := o.state.ProjectFor(project.Key)
	workspaceSpaceID, err := ref.ParseRoomID(o.state.Workspace.SpaceID)
	if err != nil {
		return fmt.Errorf("orchestrator: workspace space ID unusable: %w", err)
	}

	projectSpaceID, _, err := o.ensureRoom(ctx, record.ProjectSpaceID, func() (ref.RoomID, error) {
		return o.chat.CreateSpace(ctx, project.DisplayName, "", o.teamMembers)
	})
	if err != nil {
		return fmt.Errorf("orchestrator: failed to reconcile space for project %s: %w", project.Key, err)
	}
	if err := o.chat.LinkRoomUnderSpace(ctx, workspaceSpaceID, projectSpaceID); err != nil {
		return fmt.Errorf("orchestrator: failed to link project %s under workspace: %w", project.Key, err)
	}

	lobbyRoomID, _, err := o.ensureRoom(ctx, record.LobbyRoomID, func() (ref.RoomID, error) {
		return o.chat.CreateRoom(ctx, project.Matrix.LobbyRoomName,
			"Post a message here to start a new task.", o.teamMembers)
	})
	if err != nil {
		return fmt.Errorf("orchestrator: failed to reconcile lobby for project %s: %w", project.Key, err)
	}
	if err := o.chat.LinkRoomUnderSpace(ctx, projectSpaceID, lobbyRoomID); err != nil {
		return fmt.Errorf("orchestrator: failed to link lobby for project %s: %w", project.Key, err)
	}

	if err := o.reconcileSandbox(ctx, project); err != nil {
		return err
	}

	record.DisplayName = project.DisplayName
	record.ProjectSpaceID = projectSpaceID.String()
	record.LobbyRoomID = lobbyRoomID.String()
	record.LobbyRoomName = project.Matrix.LobbyRoomName
	record.Spark = state.SparkShape{
		Project:       project.Spark.Project,
		Base:          project.Spark.Base,
		MainSandbox:   project.Spark.MainSpark,
		WorkVolume:    project.Spark.Work.Volume,
		WorkMountPath: project.Spark.Work.MountPath,
	}
	record.UpdatedAt = o.clock.Now().UTC()
	return nil
}

// reconcileSandbox provisions the project's sandbox side: work volume,
// main sandbox, repository checkout, bootstrap. Synchronous and in
// order; each step depends on the previous one.
func (o *Orchestrator) reconcileSandbox(ctx context.Context, project *config.ProjectConfig) error {
	sparkCfg := &project.Spark
	if err := o.sandbox.EnsureWorkVolume(ctx, sparkCfg.Project, sparkCfg.Work.Volume); err != nil {
		return fmt.Errorf("orchestrator: project %s: %w", project.Key, err)
	}
	if err := o.sandbox.EnsureMainSandbox(ctx, spark.MainSandboxSpec{
		Project:       sparkCfg.Project,
		Base:          sparkCfg.Base,
		MainSandbox:   sparkCfg.MainSpark,
		WorkVolume:    sparkCfg.Work.Volume,
		WorkMountPath: sparkCfg.Work.MountPath,
	}); err != nil {
		return fmt.Errorf("orchestrator: project %s: %w", project.Key, err)
	}
	// The repository lives at the work volume mount path, so task
	// sandboxes forked from main see the same checkout.
	if err := o.sandbox.EnsureRepoInMainSandbox(ctx, spark.RepoSpec{
		Project:     sparkCfg.Project,
		SandboxName: sparkCfg.MainSpark,
		Repo:        project.Repo,
		Branch:      project.DefaultBranch,
		Workdir:     sparkCfg.Work.MountPath,
	}); err != nil {
		return fmt.Errorf("orchestrator: project %s: %w", project.Key, err)
	}
	if err := o.sandbox.RunBootstrap(ctx, spark.BootstrapSpec{
		Project:     sparkCfg.Project,
		SandboxName: sparkCfg.MainSpark,
		Workdir:     sparkCfg.Work.MountPath,
		ScriptPath:  sparkCfg.Bootstrap.ScriptIfExists,
		TimeoutSec:  sparkCfg.Bootstrap.TimeoutSec,
		Retries:     sparkCfg.Bootstrap.RetryCount(),
	}); err != nil {
		return fmt.Errorf("orchestrator: project %s: %w", project.Key, err)
	}
	return nil
}

// ensureRoom resolves a recorded room ID by confirming the bot can
// still join it and its invites can be maintained, or creates a fresh
// room when the record is absent or unusable. Returns the resolved ID
// and whether it was newly created.
func (o *Orchestrator) ensureRoom(ctx context.Context, recorded string, create func() (ref.RoomID, error)) (ref.RoomID, bool, error) {
	if recorded != "" {
		roomID, err := ref.ParseRoomID(recorded)
		if err == nil {
			err = o.chat.EnsureJoinedRoom(ctx, roomID)
		}
		if err == nil {
			err = o.chat.EnsureInvites(ctx, roomID, o.teamMembers)
		}
		if err == nil {
			return roomID, false, nil
		}
		o.logger.Warn("recorded room unusable, re-creating",
			"room_id", recorded, "error", err)
	}

	roomID, err := create()
	if err != nil {
		return ref.RoomID{}, false, err
	}
	return roomID, true, nil
}
