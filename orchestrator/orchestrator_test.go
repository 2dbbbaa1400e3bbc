// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atelier-works/atelier/lib/clock"
	"github.com/atelier-works/atelier/lib/config"
	"github.com/atelier-works/atelier/lib/ref"
	"github.com/atelier-works/atelier/messaging"
	"github.com/atelier-works/atelier/spark"
	"github.com/atelier-works/atelier/state"
)

// fakeChat is an in-memory ChatAPI. Room IDs are handed out from a
// scripted queue; creations, links, and notices are recorded.
type fakeChat struct {
	userID    ref.UserID
	roomQueue []ref.RoomID

	createdNames []string
	joinedRooms  map[string]bool
	joinErrors   map[string]error
	links        [][2]string
	notices      map[string][]string
	invites      map[string]int
	leftRooms    []string
	syncScript   []*messaging.SyncResponse
}

func newFakeChat(roomIDs ...string) *fakeChat {
	chat := &fakeChat{
		userID:      ref.MustParseUserID("@orchestrator:example.org"),
		joinedRooms: make(map[string]bool),
		joinErrors:  make(map[string]error),
		notices:     make(map[string][]string),
		invites:     make(map[string]int),
	}
	for _, id := range roomIDs {
		chat.roomQueue = append(chat.roomQueue, ref.MustParseRoomID(id))
	}
	return chat
}

func (f *fakeChat) VerifyConnection(context.Context) error { return nil }
func (f *fakeChat) UserID() ref.UserID                     { return f.userID }
func (f *fakeChat) HomeserverURL() string                  { return "https://matrix.example.org" }
func (f *fakeChat) AccessToken() string                    { return "syt_test_token" }

func (f *fakeChat) EnsureJoinedRoom(_ context.Context, roomID ref.RoomID) error {
	if err := f.joinErrors[roomID.String()]; err != nil {
		return err
	}
	f.joinedRooms[roomID.String()] = true
	return nil
}

func (f *fakeChat) nextRoom(name string) (ref.RoomID, error) {
	if len(f.roomQueue) == 0 {
		return ref.RoomID{}, fmt.Errorf("fakeChat: room queue exhausted creating %q", name)
	}
	roomID := f.roomQueue[0]
	f.roomQueue = f.roomQueue[1:]
	f.createdNames = append(f.createdNames, name)
	f.joinedRooms[roomID.String()] = true
	return roomID, nil
}

func (f *fakeChat) CreateSpace(_ context.Context, name, _ string, _ []ref.UserID) (ref.RoomID, error) {
	return f.nextRoom(name)
}

func (f *fakeChat) CreateRoom(_ context.Context, name, _ string, _ []ref.UserID) (ref.RoomID, error) {
	return f.nextRoom(name)
}

func (f *fakeChat) LinkRoomUnderSpace(_ context.Context, parent, child ref.RoomID) error {
	f.links = append(f.links, [2]string{parent.String(), child.String()})
	return nil
}

func (f *fakeChat) EnsureInvites(_ context.Context, roomID ref.RoomID, _ []ref.UserID) error {
	f.invites[roomID.String()]++
	return nil
}

func (f *fakeChat) LeaveAndForget(_ context.Context, roomID ref.RoomID) {
	f.leftRooms = append(f.leftRooms, roomID.String())
}

func (f *fakeChat) Sync(_ context.Context, _ string, _ int, _ []ref.RoomID) (*messaging.SyncResponse, error) {
	if len(f.syncScript) == 0 {
		return &messaging.SyncResponse{NextBatch: "s-end"}, nil
	}
	response := f.syncScript[0]
	f.syncScript = f.syncScript[1:]
	return response, nil
}

func (f *fakeChat) SendMessage(_ context.Context, roomID ref.RoomID, text string, _ messaging.SendOptions) (ref.EventID, error) {
	f.notices[roomID.String()] = append(f.notices[roomID.String()], text)
	return ref.MustParseEventID("$sent"), nil
}

func (f *fakeChat) SendNotice(ctx context.Context, roomID ref.RoomID, text string, opts messaging.SendOptions) (ref.EventID, error) {
	return f.SendMessage(ctx, roomID, text, opts)
}

func (f *fakeChat) SendTyping(context.Context, ref.RoomID, bool, int) {}

// fakeSpark is an in-memory SparkAPI counting every provisioning call.
type fakeSpark struct {
	volumeCalls    int
	sandboxCalls   int
	repoCalls      int
	bootstrapCalls int
	forkCalls      int
	launchCalls    int

	forkErr   error
	launchErr error
	lastFork  spark.ForkSpec
	lastEnv   map[string]string
}

func (f *fakeSpark) VerifyAvailability(context.Context) error { return nil }

func (f *fakeSpark) EnsureWorkVolume(context.Context, string, string) error {
	f.volumeCalls++
	return nil
}

func (f *fakeSpark) EnsureMainSandbox(context.Context, spark.MainSandboxSpec) error {
	f.sandboxCalls++
	return nil
}

func (f *fakeSpark) EnsureRepoInMainSandbox(context.Context, spark.RepoSpec) error {
	f.repoCalls++
	return nil
}

func (f *fakeSpark) RunBootstrap(context.Context, spark.BootstrapSpec) error {
	f.bootstrapCalls++
	return nil
}

func (f *fakeSpark) CreateTaskSandboxFork(_ context.Context, spec spark.ForkSpec) error {
	f.forkCalls++
	f.lastFork = spec
	return f.forkErr
}

func (f *fakeSpark) LaunchBridgeInSandbox(_ context.Context, spec spark.LaunchSpec) (*spark.LaunchResult, error) {
	f.launchCalls++
	f.lastEnv = spec.Env
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	return &spark.LaunchResult{PID: 4242, ProcessID: "px-1", RawOutput: "pid: 4242 process_id: px-1"}, nil
}

func testConfig() *config.Config {
	retries := 1
	return &config.Config{
		HomeserverURL:  "https://matrix.example.org",
		BotUserID:      "@orchestrator:example.org",
		BotAccessToken: "syt_test_token",
		Workspace: config.WorkspaceConfig{
			Name:        "Engineering",
			TeamMembers: []string{"@alice:example.org"},
		},
		Runtime: config.RuntimeConfig{
			StateFile:        "unused",
			BridgeEntrypoint: "/opt/bridge/run",
			BridgeWorkdir:    "/work",
			SyncTimeoutMS:    30000,
		},
		Projects: []config.ProjectConfig{{
			Key:           "rc",
			DisplayName:   "Rate Cards",
			Repo:          "git@github.com:acme/rate-cards.git",
			DefaultBranch: "main",
			Matrix: config.MatrixProjectConfig{
				LobbyRoomName:  "Rate Cards Lobby",
				TaskRoomPrefix: "rc",
			},
			Spark: config.SparkProjectConfig{
				Project:   "rc",
				Base:      "ubuntu-24.04",
				MainSpark: "rc-main",
				ForkMode:  config.ForkModeSparkFork,
				Work:      config.WorkConfig{Volume: "rc-work", MountPath: "/work"},
				Bootstrap: config.BootstrapConfig{TimeoutSec: 1800, Retries: &retries},
			},
		}},
	}
}

func testOrchestrator(t *testing.T, chat *fakeChat, sandbox *fakeSpark) *Orchestrator {
	t.Helper()
	store := state.NewStore(filepath.Join(t.TempDir(), "state.json"), nil)
	o, err := New(Options{
		Config:  testConfig(),
		Store:   store,
		Chat:    chat,
		Spark:   sandbox,
		Clock:   clock.NewFake(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)),
		Environ: func() []string { return nil },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func lobbyMessage(eventID, sender, body string) messaging.Event {
	return messaging.Event{
		EventID: eventID,
		Type:    "m.room.message",
		Sender:  sender,
		Content: map[string]any{"msgtype": "m.text", "body": body},
	}
}

func syncWith(lobbyRoomID string, events ...messaging.Event) *messaging.SyncResponse {
	return &messaging.SyncResponse{
		NextBatch: "s-next",
		Rooms: messaging.RoomsSection{
			Join: map[string]messaging.JoinedRoom{
				lobbyRoomID: {Timeline: messaging.TimelineSection{Events: events}},
			},
		},
	}
}

func TestFirstBootReconcile(t *testing.T) {
	chat := newFakeChat("!space1:example.org", "!space2:example.org", "!lobby1:example.org")
	sandbox := &fakeSpark{}
	o := testOrchestrator(t, chat, sandbox)

	if err := o.ReconcileWorkspaceAndProjects(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if got := o.state.Workspace.SpaceID; got != "!space1:example.org" {
		t.Errorf("workspace.spaceId = %q", got)
	}
	record := o.state.Projects["rc"]
	if record == nil {
		t.Fatal("project record missing")
	}
	if record.ProjectSpaceID != "!space2:example.org" || record.LobbyRoomID != "!lobby1:example.org" {
		t.Errorf("project record = %+v", record)
	}
	if sandbox.volumeCalls != 1 || sandbox.sandboxCalls != 1 || sandbox.repoCalls != 1 || sandbox.bootstrapCalls != 1 {
		t.Errorf("sandbox calls = %+v, want exactly one of each", sandbox)
	}

	// The snapshot must be durable.
	loaded, err := o.store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Workspace.SpaceID != "!space1:example.org" {
		t.Errorf("persisted workspace.spaceId = %q", loaded.Workspace.SpaceID)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	chat := newFakeChat("!space1:example.org", "!space2:example.org", "!lobby1:example.org")
	sandbox := &fakeSpark{}
	o := testOrchestrator(t, chat, sandbox)

	ctx := context.Background()
	if err := o.ReconcileWorkspaceAndProjects(ctx); err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}
	created := len(chat.createdNames)
	if err := o.ReconcileWorkspaceAndProjects(ctx); err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}

	if len(chat.createdNames) != created {
		t.Errorf("second reconcile created rooms: %v", chat.createdNames[created:])
	}
	if o.state.Workspace.SpaceID != "!space1:example.org" {
		t.Errorf("workspace.spaceId changed: %q", o.state.Workspace.SpaceID)
	}
}

func TestReconcileRecreatesUnjoinableRoom(t *testing.T) {
	chat := newFakeChat("!space1:example.org", "!space2:example.org", "!lobby1:example.org",
		"!lobby2:example.org")
	sandbox := &fakeSpark{}
	o := testOrchestrator(t, chat, sandbox)

	ctx := context.Background()
	if err := o.ReconcileWorkspaceAndProjects(ctx); err != nil {
		t.Fatalf("first reconcile failed: %v", err)
	}

	chat.joinErrors["!lobby1:example.org"] = errors.New("M_FORBIDDEN: room gone")
	if err := o.ReconcileWorkspaceAndProjects(ctx); err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if got := o.state.Projects["rc"].LobbyRoomID; got != "!lobby2:example.org" {
		t.Errorf("lobby not re-created: %q", got)
	}
}

// setupReconciled returns an orchestrator that has been through first
// boot, with extra scripted room IDs available for task rooms.
func setupReconciled(t *testing.T, sandbox *fakeSpark, taskRooms ...string) (*Orchestrator, *fakeChat) {
	t.Helper()
	rooms := append([]string{"!space1:example.org", "!space2:example.org", "!lobby1:example.org"}, taskRooms...)
	chat := newFakeChat(rooms...)
	o := testOrchestrator(t, chat, sandbox)
	if err := o.ReconcileWorkspaceAndProjects(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	return o, chat
}

func TestSingleMessageSpawnsOneTask(t *testing.T) {
	sandbox := &fakeSpark{}
	o, chat := setupReconciled(t, sandbox, "!task1:example.org")

	response := syncWith("!lobby1:example.org",
		lobbyMessage("$event1", "@alice:example.org", "implement oauth migration"))
	ctx := context.Background()
	if err := o.handleSync(ctx, response); err != nil {
		t.Fatalf("handleSync failed: %v", err)
	}

	if len(o.state.Tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(o.state.Tasks))
	}
	var task *state.Task
	for _, task = range o.state.Tasks {
	}
	if task.Status != state.StatusActive {
		t.Errorf("status = %s, want active", task.Status)
	}
	if task.TaskRoomID != "!task1:example.org" {
		t.Errorf("task room = %q", task.TaskRoomID)
	}
	if task.Bridge.PID != 4242 || task.Bridge.ProcessID != "px-1" {
		t.Errorf("bridge info = %+v", task.Bridge)
	}
	if sandbox.forkCalls != 1 || sandbox.launchCalls != 1 {
		t.Errorf("fork=%d launch=%d, want 1 each", sandbox.forkCalls, sandbox.launchCalls)
	}
	if got := sandbox.lastEnv["INITIAL_PROMPT"]; got != "implement oauth migration" {
		t.Errorf("INITIAL_PROMPT = %q", got)
	}
	if got := sandbox.lastEnv["MATRIX_ROOM_ID"]; got != "!task1:example.org" {
		t.Errorf("MATRIX_ROOM_ID = %q", got)
	}
	if got := sandbox.lastFork.Tags["matrix_lobby_event_id"]; got != "$event1" {
		t.Errorf("fork tags = %v", sandbox.lastFork.Tags)
	}

	// Task room got metadata + prompt; lobby got the created notice.
	taskNotices := chat.notices["!task1:example.org"]
	if len(taskNotices) != 2 || !strings.HasPrefix(taskNotices[0], "status: waiting") ||
		taskNotices[1] != "implement oauth migration" {
		t.Errorf("task room notices = %q", taskNotices)
	}
	lobbyNotices := chat.notices["!lobby1:example.org"]
	if len(lobbyNotices) != 1 || !strings.HasPrefix(lobbyNotices[0], "Task created: ") {
		t.Errorf("lobby notices = %q", lobbyNotices)
	}

	// Replaying the identical sync batch must be a no-op.
	replay := syncWith("!lobby1:example.org",
		lobbyMessage("$event1", "@alice:example.org", "implement oauth migration"))
	if err := o.handleSync(ctx, replay); err != nil {
		t.Fatalf("replay handleSync failed: %v", err)
	}
	if len(o.state.Tasks) != 1 || sandbox.forkCalls != 1 || sandbox.launchCalls != 1 {
		t.Errorf("replay spawned again: tasks=%d fork=%d launch=%d",
			len(o.state.Tasks), sandbox.forkCalls, sandbox.launchCalls)
	}
}

func TestForkFailureMarksErrorTask(t *testing.T) {
	sandbox := &fakeSpark{forkErr: &spark.CommandError{
		Args: []string{"spark", "fork"}, ExitCode: 1, Output: "no space left",
	}}
	o, chat := setupReconciled(t, sandbox, "!task1:example.org")

	response := syncWith("!lobby1:example.org",
		lobbyMessage("$event1", "@alice:example.org", "trigger failure"))
	if err := o.handleSync(context.Background(), response); err != nil {
		t.Fatalf("handleSync failed: %v", err)
	}

	if len(o.state.Tasks) != 1 {
		t.Fatalf("tasks = %d, want the failed record", len(o.state.Tasks))
	}
	var task *state.Task
	for _, task = range o.state.Tasks {
	}
	if task.Status != state.StatusError {
		t.Errorf("status = %s, want error", task.Status)
	}
	if !strings.Contains(task.StatusReason, "no space left") {
		t.Errorf("statusReason = %q", task.StatusReason)
	}
	if !o.state.HasProcessedEvent("!lobby1:example.org", "$event1") {
		t.Error("failed event not indexed")
	}

	var failureNotice bool
	for _, notice := range chat.notices["!lobby1:example.org"] {
		if strings.Contains(notice, "Task creation failed") {
			failureNotice = true
		}
	}
	if !failureNotice {
		t.Errorf("no failure notice in lobby: %q", chat.notices["!lobby1:example.org"])
	}
	// keep_error_rooms defaults to false: the task room is discarded.
	if len(chat.leftRooms) != 1 || chat.leftRooms[0] != "!task1:example.org" {
		t.Errorf("leftRooms = %v", chat.leftRooms)
	}

	// Re-delivery must not retry.
	replay := syncWith("!lobby1:example.org",
		lobbyMessage("$event1", "@alice:example.org", "trigger failure"))
	if err := o.handleSync(context.Background(), replay); err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if sandbox.forkCalls != 1 {
		t.Errorf("failed event retried: forkCalls = %d", sandbox.forkCalls)
	}
}

func TestLaunchFailureBeforeTaskRoom(t *testing.T) {
	// Room queue has no task room, so CreateRoom fails before any task
	// room exists; the event must still be permanently indexed with a
	// failure sentinel.
	sandbox := &fakeSpark{}
	o, chat := setupReconciled(t, sandbox)

	response := syncWith("!lobby1:example.org",
		lobbyMessage("$event1", "@alice:example.org", "doomed"))
	if err := o.handleSync(context.Background(), response); err != nil {
		t.Fatalf("handleSync failed: %v", err)
	}

	// A waiting record exists (step 2 persisted before the room call),
	// so the error lands on the task rather than the sentinel path.
	key := state.EventKey("!lobby1:example.org", "$event1")
	taskID := o.state.EventIndex[key]
	if taskID == "" {
		t.Fatal("event not indexed")
	}
	if task := o.state.Tasks[taskID]; task == nil || task.Status != state.StatusError {
		t.Errorf("task = %+v, want error status", o.state.Tasks[taskID])
	}
	if len(chat.leftRooms) != 0 {
		t.Errorf("left rooms without a task room: %v", chat.leftRooms)
	}
}

func TestFailureSentinelWithoutTask(t *testing.T) {
	sandbox := &fakeSpark{}
	o, _ := setupReconciled(t, sandbox)

	o.markFailedEvent(context.Background(), "rc", "!lobby1:example.org", "$orphan",
		errors.New("exploded before task insert"))

	value := o.state.EventIndex[state.EventKey("!lobby1:example.org", "$orphan")]
	if !strings.HasPrefix(value, "failed-") {
		t.Errorf("sentinel = %q, want failed-<wallclock>", value)
	}
}

func TestSlashCommandsIgnored(t *testing.T) {
	sandbox := &fakeSpark{}
	o, chat := setupReconciled(t, sandbox)

	response := syncWith("!lobby1:example.org",
		lobbyMessage("$event1", "@alice:example.org", "/help"))
	if err := o.handleSync(context.Background(), response); err != nil {
		t.Fatalf("handleSync failed: %v", err)
	}
	if len(o.state.Tasks) != 0 || len(o.state.EventIndex) != 0 {
		t.Errorf("slash command mutated state: %+v", o.state.Tasks)
	}
	if sandbox.forkCalls != 0 || len(chat.notices["!lobby1:example.org"]) != 0 {
		t.Error("slash command caused side effects")
	}
}

func TestBotAuthoredMessagesIgnored(t *testing.T) {
	sandbox := &fakeSpark{}
	o, _ := setupReconciled(t, sandbox)

	response := syncWith("!lobby1:example.org",
		lobbyMessage("$event1", "@orchestrator:example.org", "sounds good"))
	if err := o.handleSync(context.Background(), response); err != nil {
		t.Fatalf("handleSync failed: %v", err)
	}
	if len(o.state.Tasks) != 0 || len(o.state.EventIndex) != 0 {
		t.Error("bot-authored message mutated state")
	}
}

func TestFilterEdgeCases(t *testing.T) {
	sandbox := &fakeSpark{}
	o, _ := setupReconciled(t, sandbox)

	tests := []struct {
		name  string
		event messaging.Event
		want  bool
	}{
		{"plain message", lobbyMessage("$e", "@a:s.org", "do a thing"), true},
		{"empty body", lobbyMessage("$e", "@a:s.org", ""), false},
		{"whitespace body", lobbyMessage("$e", "@a:s.org", "   \n "), false},
		{"slash after space", lobbyMessage("$e", "@a:s.org", "  /cmd"), false},
		{"missing event ID", lobbyMessage("", "@a:s.org", "x"), false},
		{"missing sender", lobbyMessage("$e", "", "x"), false},
		{"wrong type", messaging.Event{EventID: "$e", Type: "m.room.topic", Sender: "@a:s.org",
			Content: map[string]any{"body": "x"}}, false},
		{"non-string body", messaging.Event{EventID: "$e", Type: "m.room.message", Sender: "@a:s.org",
			Content: map[string]any{"body": 7}}, false},
	}
	for _, test := range tests {
		if got := o.qualifies(test.event); got != test.want {
			t.Errorf("%s: qualifies = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestInitializeCapturesSinceToken(t *testing.T) {
	chat := newFakeChat("!space1:example.org", "!space2:example.org", "!lobby1:example.org")
	chat.syncScript = []*messaging.SyncResponse{{NextBatch: "s-initial"}}
	sandbox := &fakeSpark{}
	o := testOrchestrator(t, chat, sandbox)

	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if o.sinceToken != "s-initial" {
		t.Errorf("sinceToken = %q", o.sinceToken)
	}
}

func TestInitialSyncEventsDiscarded(t *testing.T) {
	chat := newFakeChat("!space1:example.org", "!space2:example.org", "!lobby1:example.org")
	chat.syncScript = []*messaging.SyncResponse{{
		NextBatch: "s-initial",
		Rooms: messaging.RoomsSection{
			Join: map[string]messaging.JoinedRoom{
				"!lobby1:example.org": {Timeline: messaging.TimelineSection{Events: []messaging.Event{
					lobbyMessage("$offline", "@alice:example.org", "posted while down"),
				}}},
			},
		},
	}}
	sandbox := &fakeSpark{}
	o := testOrchestrator(t, chat, sandbox)

	if err := o.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if len(o.state.Tasks) != 0 {
		t.Error("offline backlog spawned tasks")
	}
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	chat := newFakeChat("!space1:example.org", "!space2:example.org", "!lobby1:example.org")
	sandbox := &fakeSpark{}
	o := testOrchestrator(t, chat, sandbox)
	if err := o.ReconcileWorkspaceAndProjects(context.Background()); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.RunLoop(ctx); err != nil {
		t.Errorf("RunLoop on cancelled context = %v, want nil", err)
	}
}

func TestBridgeEnvPassThrough(t *testing.T) {
	chat := newFakeChat()
	store := state.NewStore(filepath.Join(t.TempDir(), "state.json"), nil)
	o, err := New(Options{
		Config: testConfig(),
		Store:  store,
		Chat:   chat,
		Spark:  &fakeSpark{},
		Clock:  clock.NewFake(time.Now()),
		Environ: func() []string {
			return []string{
				"OPENAI_API_KEY=sk-test",
				"LOG_LEVEL=debug",
				"CODEX_MODEL=gpt-5",
				"CODEX_SANDBOX=off",
				"HOME=/root",
				"PATH=/usr/bin",
				"SECRET_TOKEN=nope",
			}
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	task := &state.Task{
		ID:            "rc-20260201120000-abc123",
		ProjectKey:    "rc",
		TaskRoomID:    "!task1:example.org",
		SandboxName:   "task-20260201120000-x-abc123",
		InitialPrompt: "do the thing",
	}
	env := o.buildBridgeEnv(&o.config.Projects[0], task)

	for key, want := range map[string]string{
		"OPENAI_API_KEY":        "sk-test",
		"LOG_LEVEL":             "debug",
		"CODEX_MODEL":           "gpt-5",
		"CODEX_SANDBOX":         "off",
		"MATRIX_HOMESERVER_URL": "https://matrix.example.org",
		"MATRIX_ACCESS_TOKEN":   "syt_test_token",
		"MATRIX_BOT_USER":       "@orchestrator:example.org",
		"MATRIX_ROOM_ID":        "!task1:example.org",
		"PROJECT_KEY":           "rc",
		"SPARK_PROJECT":         "rc",
		"SPARK_NAME":            "task-20260201120000-x-abc123",
		"INITIAL_PROMPT":        "do the thing",
	} {
		if env[key] != want {
			t.Errorf("env[%s] = %q, want %q", key, env[key], want)
		}
	}
	for _, forbidden := range []string{"HOME", "PATH", "SECRET_TOKEN"} {
		if _, ok := env[forbidden]; ok {
			t.Errorf("env leaked %s", forbidden)
		}
	}
}
