// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `
homeserver_url: https://matrix.example.org
bot_user_id: "@orchestrator:example.org"
bot_access_token: syt_secret
workspace:
  name: Engineering
  topic: Coding agents
  team_members:
    - "@alice:example.org"
    - "@bob:example.org"
runtime:
  bridge_entrypoint: /opt/atelier/bridge
  bridge_workdir: /work/repo
projects:
  - key: rc
    display_name: Rate Cards
    repo: git@github.com:example/rate-cards.git
    spark:
      project: rc
      base: ubuntu-24.04
      main_spark: rc-main
      work:
        volume: rc-work
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFileValid(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.HomeserverURL != "https://matrix.example.org" {
		t.Errorf("HomeserverURL = %q", cfg.HomeserverURL)
	}
	if len(cfg.Workspace.TeamMembers) != 2 {
		t.Errorf("TeamMembers = %v", cfg.Workspace.TeamMembers)
	}

	// Defaults.
	if cfg.Runtime.StateFile != "data/orchestrator-state.json" {
		t.Errorf("StateFile default = %q", cfg.Runtime.StateFile)
	}
	if cfg.Runtime.SyncTimeoutMS != 30000 {
		t.Errorf("SyncTimeoutMS default = %d", cfg.Runtime.SyncTimeoutMS)
	}

	project := cfg.Projects[0]
	if project.DefaultBranch != "main" {
		t.Errorf("DefaultBranch default = %q", project.DefaultBranch)
	}
	if project.Matrix.LobbyRoomName != "Rate Cards Lobby" {
		t.Errorf("LobbyRoomName default = %q", project.Matrix.LobbyRoomName)
	}
	if project.Matrix.TaskRoomPrefix != "rc" {
		t.Errorf("TaskRoomPrefix default = %q", project.Matrix.TaskRoomPrefix)
	}
	if project.Spark.ForkMode != ForkModeSparkFork {
		t.Errorf("ForkMode default = %q", project.Spark.ForkMode)
	}
	if project.Spark.Work.MountPath != "/work" {
		t.Errorf("MountPath default = %q", project.Spark.Work.MountPath)
	}
	if project.Spark.Bootstrap.TimeoutSec != 1800 {
		t.Errorf("Bootstrap.TimeoutSec default = %d", project.Spark.Bootstrap.TimeoutSec)
	}
	if project.Spark.Bootstrap.RetryCount() != 1 {
		t.Errorf("RetryCount default = %d", project.Spark.Bootstrap.RetryCount())
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantSub string
	}{
		{
			name:    "no auth",
			mutate:  func(s string) string { return strings.Replace(s, "bot_access_token: syt_secret\n", "", 1) },
			wantSub: "bot_access_token or bot_password",
		},
		{
			name: "both auth modes",
			mutate: func(s string) string {
				return strings.Replace(s, "bot_access_token: syt_secret\n",
					"bot_access_token: syt_secret\nbot_password: hunter2\n", 1)
			},
			wantSub: "mutually exclusive",
		},
		{
			name:    "bad bot user ID",
			mutate:  func(s string) string { return strings.Replace(s, `"@orchestrator:example.org"`, `"orchestrator"`, 1) },
			wantSub: "bot_user_id",
		},
		{
			name:    "unsupported fork mode",
			mutate:  func(s string) string { return strings.Replace(s, "main_spark: rc-main", "main_spark: rc-main\n      fork_mode: clone", 1) },
			wantSub: "fork_mode",
		},
		{
			name: "enabled service",
			mutate: func(s string) string {
				return s + "      services:\n        - name: postgres\n          enabled: true\n"
			},
			wantSub: "not supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.mutate(validConfig)))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestDuplicateProjectKeys(t *testing.T) {
	duplicated := validConfig + `
  - key: rc
    repo: git@github.com:example/other.git
    spark:
      project: rc2
      base: ubuntu-24.04
      main_spark: rc2-main
      work:
        volume: rc2-work
`
	_, err := LoadFile(writeConfig(t, duplicated))
	if err == nil {
		t.Fatal("expected duplicate key error")
	}
	if !strings.Contains(err.Error(), "duplicate project key") {
		t.Errorf("error %q does not mention duplicate key", err)
	}
}

func TestExplicitZeroRetries(t *testing.T) {
	withRetries := strings.Replace(validConfig, "      work:",
		"      bootstrap:\n        script_if_exists: setup.sh\n        retries: 0\n      work:", 1)
	cfg, err := LoadFile(writeConfig(t, withRetries))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if got := cfg.Projects[0].Spark.Bootstrap.RetryCount(); got != 0 {
		t.Errorf("RetryCount = %d, want explicit 0", got)
	}
}
