// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations the orchestrator performs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the current goroutine for at least duration d.
	// A non-positive d returns immediately.
	Sleep(d time.Duration)
}
