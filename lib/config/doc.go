// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the
// orchestrator.
//
// Configuration is loaded from a single file specified by either the
// MATRIX_ORCHESTRATOR_CONFIG environment variable (via [Load]) or a
// --config flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search. Environment variables do
// not override config values.
//
// Validation is strict: a missing homeserver URL, a malformed bot user
// ID, an ambiguous authentication mode (both or neither of
// bot_access_token and bot_password), duplicate project keys, an
// unsupported fork mode, or an enabled service entry all fail the
// load. Every error found is reported, joined, rather than just the
// first.
//
// This package depends on no other Atelier packages except lib/ref.
package config
