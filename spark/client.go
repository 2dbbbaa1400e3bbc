// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package spark

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// repoSyncTimeout bounds the in-sandbox clone-or-sync script. Clones of
// large repositories dominate this path.
const repoSyncTimeout = 5 * time.Minute

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Binary is the spark CLI binary name or path. Defaults to "spark".
	Binary string

	// Runner executes CLI invocations. If nil, a runner backed by
	// os/exec is used.
	Runner Runner

	// Logger is used for structured logging. If nil, slog.Default() is
	// used.
	Logger *slog.Logger
}

// Client drives the spark CLI.
type Client struct {
	binary string
	runner Runner
	logger *slog.Logger
}

// NewClient creates a spark CLI client.
func NewClient(config ClientConfig) *Client {
	binary := config.Binary
	if binary == "" {
		binary = "spark"
	}
	runner := config.Runner
	if runner == nil {
		runner = execRunner{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{binary: binary, runner: runner, logger: logger}
}

// VerifyAvailability probes the spark binary with --version.
func (c *Client) VerifyAvailability(ctx context.Context) error {
	output, err := c.run(ctx, false, "--version")
	if err != nil {
		return fmt.Errorf("spark: binary %q unavailable: %w", c.binary, err)
	}
	c.logger.Info("spark available", "version", strings.TrimSpace(string(output)))
	return nil
}

// EnsureWorkVolume creates the project's persistent work volume. An
// existing volume is success.
func (c *Client) EnsureWorkVolume(ctx context.Context, project, volume string) error {
	if _, err := c.run(ctx, true, "volume", "create", project+":"+volume); err != nil {
		return fmt.Errorf("spark: failed to ensure work volume %s:%s: %w", project, volume, err)
	}
	return nil
}

// MainSandboxSpec describes a project's long-lived main sandbox.
type MainSandboxSpec struct {
	Project       string
	Base          string
	MainSandbox   string
	WorkVolume    string
	WorkMountPath string
}

// EnsureMainSandbox creates the main sandbox from its base image with
// the work volume mounted. An existing sandbox is success.
func (c *Client) EnsureMainSandbox(ctx context.Context, spec MainSandboxSpec) error {
	args := []string{
		"create", spec.Project + ":" + spec.MainSandbox,
		"--base", spec.Base,
		"--volume", spec.WorkVolume + ":" + spec.WorkMountPath,
	}
	if _, err := c.run(ctx, true, args...); err != nil {
		return fmt.Errorf("spark: failed to ensure main sandbox %s:%s: %w", spec.Project, spec.MainSandbox, err)
	}
	return nil
}

// RepoSpec describes the repository checkout inside the main sandbox.
type RepoSpec struct {
	Project     string
	SandboxName string
	Repo        string
	Branch      string
	Workdir     string
}

// EnsureRepoInMainSandbox clones the repository into the sandbox on
// first use, or force-syncs an existing clone to the head of the
// configured branch. Local edits in the main sandbox are discarded.
func (c *Client) EnsureRepoInMainSandbox(ctx context.Context, spec RepoSpec) error {
	ctx, cancel := context.WithTimeout(ctx, repoSyncTimeout)
	defer cancel()

	workdir := ShellQuote(spec.Workdir)
	branch := ShellQuote(spec.Branch)
	origin := ShellQuote("origin/" + spec.Branch)
	script := "set -e; " +
		"if [ -d " + workdir + "/.git ]; then " +
		"cd " + workdir + " && git fetch origin && git checkout " + branch +
		" && git reset --hard " + origin + "; " +
		"else git clone --branch " + branch + " " + ShellQuote(spec.Repo) + " " + workdir + "; fi"

	if _, err := c.execShell(ctx, spec.Project, spec.SandboxName, script, false); err != nil {
		return fmt.Errorf("spark: failed to sync repo in %s:%s: %w", spec.Project, spec.SandboxName, err)
	}
	return nil
}

// BootstrapSpec describes the optional project bootstrap script.
type BootstrapSpec struct {
	Project     string
	SandboxName string
	Workdir     string
	ScriptPath  string
	TimeoutSec  int
	Retries     int
}

// RunBootstrap executes the bootstrap script inside the sandbox when it
// exists, retrying failed attempts up to Retries extra times. A missing
// script is not an error.
func (c *Client) RunBootstrap(ctx context.Context, spec BootstrapSpec) error {
	if spec.ScriptPath == "" {
		return nil
	}
	script := "cd " + ShellQuote(spec.Workdir) + " && " +
		"if [ -f " + ShellQuote(spec.ScriptPath) + " ]; then sh " + ShellQuote(spec.ScriptPath) + "; fi"

	var lastErr error
	for attempt := 0; attempt <= spec.Retries; attempt++ {
		lastErr = c.runBootstrapOnce(ctx, spec, script)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("bootstrap attempt failed",
			"project", spec.Project,
			"sandbox", spec.SandboxName,
			"attempt", attempt+1,
			"error", lastErr,
		)
	}
	return fmt.Errorf("spark: bootstrap failed in %s:%s: %w", spec.Project, spec.SandboxName, lastErr)
}

func (c *Client) runBootstrapOnce(ctx context.Context, spec BootstrapSpec, script string) error {
	if spec.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(spec.TimeoutSec)*time.Second)
		defer cancel()
	}
	_, err := c.execShell(ctx, spec.Project, spec.SandboxName, script, false)
	return err
}

// ForkSpec describes a task sandbox fork.
type ForkSpec struct {
	Project     string
	TaskSandbox string
	MainSandbox string
	Tags        map[string]string
}

// CreateTaskSandboxFork forks a fresh task sandbox from the project's
// main sandbox, attaching each tag as -t key=value.
func (c *Client) CreateTaskSandboxFork(ctx context.Context, spec ForkSpec) error {
	args := []string{"fork", spec.Project + ":" + spec.MainSandbox, spec.TaskSandbox}
	for _, key := range sortedKeys(spec.Tags) {
		args = append(args, "-t", key+"="+spec.Tags[key])
	}
	if _, err := c.run(ctx, false, args...); err != nil {
		return fmt.Errorf("spark: failed to fork %s from %s:%s: %w",
			spec.TaskSandbox, spec.Project, spec.MainSandbox, err)
	}
	c.logger.Info("forked task sandbox",
		"project", spec.Project,
		"sandbox", spec.TaskSandbox,
		"from", spec.MainSandbox,
	)
	return nil
}

// LaunchSpec describes a background bridge launch inside a sandbox.
type LaunchSpec struct {
	Project          string
	SandboxName      string
	BridgeEntrypoint string
	BridgeWorkdir    string
	Env              map[string]string
}

// LaunchResult reports a background bridge launch. PID and ProcessID
// are zero-valued when the CLI output did not include them.
type LaunchResult struct {
	PID       int
	ProcessID string
	RawOutput string
}

var (
	pidPattern       = regexp.MustCompile(`(?i)\bpid[:=]\s*(\d+)`)
	processIDPattern = regexp.MustCompile(`(?i)\bprocess(?:_id)?[:=]\s*(\S+)`)
)

// LaunchBridgeInSandbox starts the bridge process in the background
// inside the task sandbox, exporting the given environment first. The
// CLI's output is parsed leniently for a pid and process identifier;
// their absence is tolerated.
func (c *Client) LaunchBridgeInSandbox(ctx context.Context, spec LaunchSpec) (*LaunchResult, error) {
	script := envPrelude(spec.Env) +
		"cd " + ShellQuote(spec.BridgeWorkdir) + " && exec " + ShellQuote(spec.BridgeEntrypoint)

	output, err := c.execShell(ctx, spec.Project, spec.SandboxName, script, true)
	if err != nil {
		return nil, fmt.Errorf("spark: failed to launch bridge in %s:%s: %w", spec.Project, spec.SandboxName, err)
	}

	result := &LaunchResult{RawOutput: string(output)}
	if match := pidPattern.FindStringSubmatch(result.RawOutput); match != nil {
		if pid, err := strconv.Atoi(match[1]); err == nil {
			result.PID = pid
		}
	}
	if match := processIDPattern.FindStringSubmatch(result.RawOutput); match != nil {
		result.ProcessID = match[1]
	}
	c.logger.Info("launched bridge",
		"project", spec.Project,
		"sandbox", spec.SandboxName,
		"pid", result.PID,
		"process_id", result.ProcessID,
	)
	return result, nil
}

// execShell runs a shell script inside a sandbox via spark exec.
func (c *Client) execShell(ctx context.Context, project, sandbox, script string, background bool) ([]byte, error) {
	args := []string{"exec"}
	if background {
		args = append(args, "--bg")
	}
	args = append(args, project+":"+sandbox, "--", "sh", "-c", script)
	return c.run(ctx, false, args...)
}

// run invokes the spark binary once. With allowAlreadyExists, a
// non-zero exit whose combined output mentions "already exists" is
// treated as success.
func (c *Client) run(ctx context.Context, allowAlreadyExists bool, args ...string) ([]byte, error) {
	c.logger.Debug("running spark", "args", args)
	output, exitCode, err := c.runner.Run(ctx, c.binary, args...)
	if err != nil {
		return output, fmt.Errorf("failed to run %s: %w", c.binary, err)
	}
	if exitCode == 0 {
		return output, nil
	}
	if allowAlreadyExists && strings.Contains(strings.ToLower(string(output)), "already exists") {
		c.logger.Debug("resource already exists", "args", args)
		return output, nil
	}
	return output, newCommandError(append([]string{c.binary}, args...), exitCode, output)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
