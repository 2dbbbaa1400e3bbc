// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"

	"github.com/atelier-works/atelier/lib/ref"
	"github.com/atelier-works/atelier/messaging"
	"github.com/atelier-works/atelier/spark"
)

// ChatAPI is what the orchestrator needs from the Matrix client.
// *messaging.Client satisfies it.
type ChatAPI interface {
	VerifyConnection(ctx context.Context) error
	UserID() ref.UserID
	HomeserverURL() string
	AccessToken() string

	EnsureJoinedRoom(ctx context.Context, roomID ref.RoomID) error
	CreateSpace(ctx context.Context, name, topic string, invite []ref.UserID) (ref.RoomID, error)
	CreateRoom(ctx context.Context, name, topic string, invite []ref.UserID) (ref.RoomID, error)
	LinkRoomUnderSpace(ctx context.Context, parent, child ref.RoomID) error
	EnsureInvites(ctx context.Context, roomID ref.RoomID, users []ref.UserID) error
	LeaveAndForget(ctx context.Context, roomID ref.RoomID)

	Sync(ctx context.Context, since string, timeoutMS int, roomIDs []ref.RoomID) (*messaging.SyncResponse, error)
	SendMessage(ctx context.Context, roomID ref.RoomID, text string, opts messaging.SendOptions) (ref.EventID, error)
	SendNotice(ctx context.Context, roomID ref.RoomID, text string, opts messaging.SendOptions) (ref.EventID, error)
	SendTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeout int)
}

// SparkAPI is what the orchestrator needs from the sandbox CLI driver.
// *spark.Client satisfies it.
type SparkAPI interface {
	VerifyAvailability(ctx context.Context) error
	EnsureWorkVolume(ctx context.Context, project, volume string) error
	EnsureMainSandbox(ctx context.Context, spec spark.MainSandboxSpec) error
	EnsureRepoInMainSandbox(ctx context.Context, spec spark.RepoSpec) error
	RunBootstrap(ctx context.Context, spec spark.BootstrapSpec) error
	CreateTaskSandboxFork(ctx context.Context, spec spark.ForkSpec) error
	LaunchBridgeInSandbox(ctx context.Context, spec spark.LaunchSpec) (*spark.LaunchResult, error)
}
