// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

const (
	slugMaxLen     = 24
	slugFallback   = "task"
	sandboxMaxLen  = 63
	identifierHash = 6
)

// TaskIdentifiers are the derived names for one task. Identical inputs
// always derive identical identifiers.
type TaskIdentifiers struct {
	// TaskID is the durable task key: <projectKey>-<timestamp>-<hash>.
	TaskID string
	// SandboxName is the task sandbox name, at most 63 characters.
	SandboxName string
	// RoomLabel is the short human-readable label for the task room.
	RoomLabel string
}

// BuildTaskIdentifiers derives the task ID, sandbox name, and room
// label for a lobby message. The hash covers the project key and lobby
// event ID, so the same message always maps to the same identifiers
// while distinct messages get distinct ones.
func BuildTaskIdentifiers(projectKey, prompt, lobbyEventID string, now time.Time) TaskIdentifiers {
	timestamp := now.UTC().Format("20060102150405")

	sum := sha1.Sum([]byte(projectKey + ":" + lobbyEventID))
	hash := hex.EncodeToString(sum[:])[:identifierHash]

	slug := Slugify(prompt, slugFallback, slugMaxLen)

	sandboxName := "task-" + timestamp + "-" + slug + "-" + hash
	if len(sandboxName) > sandboxMaxLen {
		sandboxName = sandboxName[:sandboxMaxLen]
	}

	return TaskIdentifiers{
		TaskID:      projectKey + "-" + timestamp + "-" + hash,
		SandboxName: sandboxName,
		RoomLabel:   slug + "-" + hash,
	}
}

// Slugify reduces free text to a short lowercase hyphenated label:
// non-alphanumerics become hyphens, runs collapse, leading and trailing
// hyphens are trimmed, and the result is truncated to maxLen and
// re-trimmed. An empty result yields fallback.
func Slugify(text, fallback string, maxLen int) string {
	var b strings.Builder
	lastHyphen := false
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxLen {
		slug = strings.TrimRight(slug[:maxLen], "-")
	}
	if slug == "" {
		return fallback
	}
	return slug
}
