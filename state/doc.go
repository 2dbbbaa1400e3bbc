// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package state holds the orchestrator's durable snapshot: the
// workspace record, per-project resource IDs, task records, and the
// processed-event index that backs cross-restart deduplication.
//
// The snapshot is a single pretty-printed JSON document owned
// exclusively by the orchestrator process. [Store.Save] is crash-safe:
// the document is written to a sibling temp file with a unique suffix,
// fsynced, and atomically renamed over the canonical path, so a reader
// (or a restart) always observes either the prior snapshot or the new
// one, never a partial write.
//
// [Store.Load] is aggressively tolerant: an absent or corrupt file
// yields an empty default state, and individual records that fail to
// decode or lack required fields are dropped rather than poisoning
// startup. Identifiers are kept as plain strings here for exactly that
// reason — a malformed room ID in one task record must not take down
// the whole snapshot. Validation into typed identifiers happens at the
// orchestrator boundary.
package state
