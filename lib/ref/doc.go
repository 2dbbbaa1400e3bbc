// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated Matrix identifier types.
//
// Matrix identifiers are opaque server-assigned strings with a sigil
// prefix: '!' for room IDs, '@' for user IDs, '$' for event IDs. The
// orchestrator never constructs them — they arrive from configuration
// or from homeserver responses and are parsed into these types at the
// boundary. Code that holds a ref value can rely on the sigil and the
// ':server' structure having been checked once.
//
// All types are immutable value types implementing TextMarshaler and
// TextUnmarshaler, so they round-trip through the JSON state file and
// through homeserver response decoding. The zero value of each type is
// not valid; use IsZero to check.
package ref
