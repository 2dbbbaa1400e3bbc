// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API for the
// orchestrator's communication needs.
//
// [Client] is a single authenticated Matrix client: the orchestrator
// runs exactly one bot identity, so there is no client/session split.
// A Client is constructed with either a static access token or a
// password; in password mode [Client.Authenticate] exchanges the
// password for a token once at startup. [Client.VerifyConnection]
// probes the unauthenticated versions endpoint and then whoami,
// failing unless the homeserver reports the configured bot identity.
//
// Operations cover what the orchestrator needs: room and space
// creation, space hierarchy links (m.space.child / m.space.parent with
// an inferred via server), idempotent join and invite reconciliation,
// long-polling sync restricted to the lobby rooms, message and notice
// sending with idempotent transaction IDs, typing notifications, and
// best-effort leave-and-forget.
//
// Every HTTP call runs under a retry loop of up to five attempts. On
// HTTP 429 the client sleeps max(250ms, retry_after_ms) when the
// response carries retry_after_ms, otherwise min(8s, 500ms × attempt),
// then retries. Sleeps go through a clock.Clock so tests control time.
// Any other non-2xx response is fatal for the call and is returned as
// a [*MatrixError] carrying the standard Matrix error code and the
// HTTP status.
//
// Homeserver URLs are normalized on construction: trailing slashes,
// query, and fragment are stripped, as are trailing well-known path
// suffixes (/_matrix/static, /_matrix/client, /_matrix/client/vN).
// Request URLs are then built by string concatenation, preserving any
// residual base path.
package messaging
