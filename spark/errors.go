// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package spark

import (
	"fmt"
	"strings"
)

// maxErrorOutput bounds the combined output captured in a CommandError
// so a chatty failing command cannot bloat logs and chat notices.
const maxErrorOutput = 4000

// CommandError reports a spark invocation that exited non-zero.
type CommandError struct {
	// Args is the full argv, binary included.
	Args []string
	// ExitCode is the process exit code.
	ExitCode int
	// Output is the combined stdout/stderr, truncated to maxErrorOutput.
	Output string
}

func newCommandError(args []string, exitCode int, output []byte) *CommandError {
	text := string(output)
	if len(text) > maxErrorOutput {
		text = text[:maxErrorOutput] + "… (truncated)"
	}
	return &CommandError{Args: args, ExitCode: exitCode, Output: text}
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("spark: %s exited %d: %s",
		strings.Join(e.Args, " "), e.ExitCode, strings.TrimSpace(e.Output))
}
