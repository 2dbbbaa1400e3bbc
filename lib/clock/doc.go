// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability.
//
// Production code injects [Real]; tests inject [NewFake] for
// deterministic control over the current time and for observing
// sleeps without waiting for them. Every production function that
// calls time.Now or time.Sleep should accept a Clock (or be a method
// on a struct with a Clock field) instead of calling the time package
// directly. The orchestrator uses this for rate-limit backoff sleeps,
// scheduler error backoff, and record timestamps.
package clock
