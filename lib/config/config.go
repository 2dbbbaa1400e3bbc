// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atelier-works/atelier/lib/ref"
)

// ConfigEnvVar names the environment variable holding the config file
// path for [Load].
const ConfigEnvVar = "MATRIX_ORCHESTRATOR_CONFIG"

// ForkModeSparkFork is the only supported sandbox fork mode.
const ForkModeSparkFork = "spark_fork"

// Config is the orchestrator configuration, loaded from a single YAML
// file.
type Config struct {
	// HomeserverURL is the Matrix homeserver base URL. Normalization
	// (trailing slash, well-known suffixes) happens in the messaging
	// client, not here — the config carries the operator's value.
	HomeserverURL string `yaml:"homeserver_url"`

	// BotUserID is the orchestrator's own Matrix user ID. Used for
	// sender filtering and for inferring the `via` server on space
	// hierarchy links.
	BotUserID string `yaml:"bot_user_id"`

	// BotAccessToken authenticates with a static token. Mutually
	// exclusive with BotPassword; exactly one must be set.
	BotAccessToken string `yaml:"bot_access_token"`

	// BotPassword authenticates via the password login endpoint,
	// exchanged once at startup for an access token.
	BotPassword string `yaml:"bot_password"`

	// Workspace configures the top-level space and the default invite
	// list.
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Runtime configures orchestrator-local behavior.
	Runtime RuntimeConfig `yaml:"runtime"`

	// Projects declares the project hierarchy, in order. Order matters:
	// reconciliation and lobby-room iteration follow declaration order.
	Projects []ProjectConfig `yaml:"projects"`
}

// WorkspaceConfig configures the workspace space.
type WorkspaceConfig struct {
	Name        string   `yaml:"name"`
	Topic       string   `yaml:"topic"`
	TeamMembers []string `yaml:"team_members"`
}

// RuntimeConfig configures orchestrator-local behavior.
type RuntimeConfig struct {
	// StateFile is the path of the durable JSON snapshot.
	// Default: data/orchestrator-state.json.
	StateFile string `yaml:"state_file"`

	// BridgeEntrypoint is the path, inside a task sandbox, of the
	// data-plane executable launched per task.
	BridgeEntrypoint string `yaml:"bridge_entrypoint"`

	// BridgeWorkdir is the working directory for the bridge process
	// inside the sandbox.
	BridgeWorkdir string `yaml:"bridge_workdir"`

	// SyncTimeoutMS is the long-poll timeout in milliseconds.
	// Default: 30000.
	SyncTimeoutMS int `yaml:"sync_timeout_ms"`

	// KeepErrorRooms retains task rooms when a spawn fails instead of
	// leaving and forgetting them.
	KeepErrorRooms bool `yaml:"keep_error_rooms"`
}

// ProjectConfig declares one project.
type ProjectConfig struct {
	Key           string              `yaml:"key"`
	DisplayName   string              `yaml:"display_name"`
	Repo          string              `yaml:"repo"`
	DefaultBranch string              `yaml:"default_branch"`
	Matrix        MatrixProjectConfig `yaml:"matrix"`
	Spark         SparkProjectConfig  `yaml:"spark"`
}

// MatrixProjectConfig configures the project's chat rooms.
type MatrixProjectConfig struct {
	// LobbyRoomName is the display name of the project lobby room.
	// Default: "<display_name> Lobby".
	LobbyRoomName string `yaml:"lobby_room_name"`

	// TaskRoomPrefix prefixes the display name of every task room.
	// Default: the project key.
	TaskRoomPrefix string `yaml:"task_room_prefix"`
}

// SparkProjectConfig configures the project's sandbox fleet.
type SparkProjectConfig struct {
	// Project is the spark project namespace.
	Project string `yaml:"project"`

	// Base is the base image the main sandbox is created from.
	Base string `yaml:"base"`

	// MainSpark is the name of the long-lived main sandbox that task
	// sandboxes fork from.
	MainSpark string `yaml:"main_spark"`

	// ForkMode selects how task sandboxes are derived. Only
	// "spark_fork" is supported; any other value is a hard error.
	ForkMode string `yaml:"fork_mode"`

	// Work configures the shared work volume.
	Work WorkConfig `yaml:"work"`

	// Bootstrap configures the optional per-project bootstrap script.
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// Services are reserved for a future version. Any enabled entry is
	// a hard error in this version.
	Services []ServiceConfig `yaml:"services"`
}

// WorkConfig configures the work volume mounted into sandboxes.
type WorkConfig struct {
	Volume string `yaml:"volume"`

	// MountPath is where the volume appears inside the sandbox.
	// Default: /work.
	MountPath string `yaml:"mount_path"`
}

// BootstrapConfig configures the optional bootstrap script run inside
// the main sandbox during reconcile.
type BootstrapConfig struct {
	// ScriptIfExists is a path relative to the repo workdir. The script
	// runs only if present and executable.
	ScriptIfExists string `yaml:"script_if_exists"`

	// TimeoutSec bounds each bootstrap attempt. Default: 1800.
	TimeoutSec int `yaml:"timeout_sec"`

	// Retries is the number of extra attempts after a failure.
	// Default: 1. A pointer so that an explicit 0 is distinguishable
	// from absent.
	Retries *int `yaml:"retries"`
}

// ServiceConfig is a reserved per-project service declaration.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// RetryCount returns the configured retry count, or the default of 1.
func (b BootstrapConfig) RetryCount() int {
	if b.Retries == nil {
		return 1
	}
	return *b.Retries
}

// Load loads configuration from the path in MATRIX_ORCHESTRATOR_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(ConfigEnvVar)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your orchestrator config file, or use --config", ConfigEnvVar)
	}
	return LoadFile(path)
}

// LoadFile loads and validates configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills in defaulted fields after parsing, before
// validation.
func (c *Config) applyDefaults() {
	if c.Runtime.StateFile == "" {
		c.Runtime.StateFile = "data/orchestrator-state.json"
	}
	if c.Runtime.SyncTimeoutMS == 0 {
		c.Runtime.SyncTimeoutMS = 30000
	}

	for i := range c.Projects {
		project := &c.Projects[i]
		if project.DisplayName == "" {
			project.DisplayName = project.Key
		}
		if project.DefaultBranch == "" {
			project.DefaultBranch = "main"
		}
		if project.Matrix.LobbyRoomName == "" {
			project.Matrix.LobbyRoomName = project.DisplayName + " Lobby"
		}
		if project.Matrix.TaskRoomPrefix == "" {
			project.Matrix.TaskRoomPrefix = project.Key
		}
		if project.Spark.ForkMode == "" {
			project.Spark.ForkMode = ForkModeSparkFork
		}
		if project.Spark.Work.MountPath == "" {
			project.Spark.Work.MountPath = "/work"
		}
		if project.Spark.Bootstrap.TimeoutSec == 0 {
			project.Spark.Bootstrap.TimeoutSec = 1800
		}
	}
}

// Validate checks the configuration. All errors found are returned,
// joined.
func (c *Config) Validate() error {
	var errs []error

	if c.HomeserverURL == "" {
		errs = append(errs, fmt.Errorf("homeserver_url is required"))
	}
	if c.BotUserID == "" {
		errs = append(errs, fmt.Errorf("bot_user_id is required"))
	} else if _, err := ref.ParseUserID(c.BotUserID); err != nil {
		errs = append(errs, fmt.Errorf("bot_user_id: %w", err))
	}

	hasToken := c.BotAccessToken != ""
	hasPassword := c.BotPassword != ""
	switch {
	case !hasToken && !hasPassword:
		errs = append(errs, fmt.Errorf("one of bot_access_token or bot_password is required"))
	case hasToken && hasPassword:
		errs = append(errs, fmt.Errorf("bot_access_token and bot_password are mutually exclusive"))
	}

	if c.Workspace.Name == "" {
		errs = append(errs, fmt.Errorf("workspace.name is required"))
	}
	for _, member := range c.Workspace.TeamMembers {
		if _, err := ref.ParseUserID(member); err != nil {
			errs = append(errs, fmt.Errorf("workspace.team_members: %w", err))
		}
	}

	if c.Runtime.BridgeEntrypoint == "" {
		errs = append(errs, fmt.Errorf("runtime.bridge_entrypoint is required"))
	}

	seen := make(map[string]bool, len(c.Projects))
	for i := range c.Projects {
		project := &c.Projects[i]
		prefix := fmt.Sprintf("projects[%d]", i)
		if project.Key == "" {
			errs = append(errs, fmt.Errorf("%s: key is required", prefix))
			continue
		}
		prefix = fmt.Sprintf("projects[%s]", project.Key)

		if seen[project.Key] {
			errs = append(errs, fmt.Errorf("%s: duplicate project key", prefix))
		}
		seen[project.Key] = true

		if project.Repo == "" {
			errs = append(errs, fmt.Errorf("%s: repo is required", prefix))
		}
		if project.Spark.Project == "" {
			errs = append(errs, fmt.Errorf("%s: spark.project is required", prefix))
		}
		if project.Spark.Base == "" {
			errs = append(errs, fmt.Errorf("%s: spark.base is required", prefix))
		}
		if project.Spark.MainSpark == "" {
			errs = append(errs, fmt.Errorf("%s: spark.main_spark is required", prefix))
		}
		if project.Spark.ForkMode != ForkModeSparkFork {
			errs = append(errs, fmt.Errorf("%s: unsupported spark.fork_mode %q (only %q)",
				prefix, project.Spark.ForkMode, ForkModeSparkFork))
		}
		if project.Spark.Work.Volume == "" {
			errs = append(errs, fmt.Errorf("%s: spark.work.volume is required", prefix))
		}
		for _, service := range project.Spark.Services {
			if service.Enabled {
				errs = append(errs, fmt.Errorf("%s: service %q is enabled, but services are not supported in this version",
					prefix, service.Name))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
