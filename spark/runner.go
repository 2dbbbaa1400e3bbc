// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package spark

import (
	"context"
	"errors"
	"os/exec"
)

// Runner executes one CLI invocation and returns its combined
// stdout/stderr and exit code. A non-zero exit is not an error at this
// layer; err reports only failures to run the process at all.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (output []byte, exitCode int, err error)
}

// execRunner is the production Runner backed by os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return output, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, exitErr.ExitCode(), nil
	}
	// Context expiry surfaces as the context error so callers can
	// distinguish a timeout from a missing binary.
	if ctx.Err() != nil {
		return output, -1, ctx.Err()
	}
	return output, -1, err
}
