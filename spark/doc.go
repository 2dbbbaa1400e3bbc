// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package spark drives the spark sandbox CLI as a subprocess.
//
// [Client] wraps a single binary and exposes the operations the
// orchestrator needs: availability probing, work volume and main
// sandbox provisioning, repository sync inside the main sandbox,
// bootstrap execution, task sandbox forking, and background bridge
// launch. All invocations go through a [Runner] seam so tests can
// substitute a fake for os/exec.
//
// Provisioning operations treat an "already exists" failure (matched
// case-insensitively against the combined output) as success, which
// makes reconciliation idempotent: re-running provisioning against
// existing resources converges instead of failing.
//
// Strings interpolated into in-sandbox shell scripts are single-quoted
// with the '"'"' escape convention. Any other non-zero exit surfaces as
// a [*CommandError] carrying the argv, exit code, and truncated
// combined output.
package spark
