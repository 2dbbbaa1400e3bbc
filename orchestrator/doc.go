// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator is the control plane: it reconciles the Matrix
// space hierarchy and sandbox fleet against configuration, watches
// project lobby rooms, and turns qualifying lobby messages into task
// workloads.
//
// The [Orchestrator] runs a single-writer cooperative loop. One long
// poll against the homeserver is the only blocking wait; everything
// else — room provisioning, sandbox subprocess calls, state saves —
// runs sequentially on the loop, which keeps the state snapshot's
// single-writer invariant trivial. Cancellation is via the run context,
// checked at the top of each iteration; in-flight calls are not
// interrupted.
//
// Commitments are durable before side effects: a lobby event is
// recorded in the event index and the snapshot saved to disk before the
// first external call the event triggers, so a crash mid-pipeline never
// double-creates a task on restart. Failed events are indexed
// permanently, reported to the lobby, and never retried.
//
// The chat and sandbox dependencies are consumed through the [ChatAPI]
// and [SparkAPI] interfaces so tests can drive the full pipeline with
// in-memory fakes.
package orchestrator
