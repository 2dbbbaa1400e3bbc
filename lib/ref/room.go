// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// RoomID is a validated Matrix room ID (e.g., "!abc123:example.org").
//
// Room IDs are server-assigned and always start with '!' followed by
// an opaque local part, a ':', and the server name. They identify
// workspace spaces, project spaces, lobby rooms, and task rooms alike —
// the orchestrator does not distinguish the kinds at the type level.
//
// RoomID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string.
func ParseRoomID(raw string) (RoomID, error) {
	if raw == "" {
		return RoomID{}, fmt.Errorf("empty room ID")
	}
	if raw[0] != '!' {
		return RoomID{}, fmt.Errorf("room ID must start with '!': %q", raw)
	}

	colonIndex := strings.IndexByte(raw[1:], ':')
	if colonIndex < 0 {
		return RoomID{}, fmt.Errorf("room ID missing ':server' suffix: %q", raw)
	}
	if colonIndex == 0 {
		return RoomID{}, fmt.Errorf("room ID has empty local part: %q", raw)
	}
	if raw[1+colonIndex+1:] == "" {
		return RoomID{}, fmt.Errorf("room ID has empty server name: %q", raw)
	}

	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error. Use in tests
// and static initialization where the input is known-valid.
func MustParseRoomID(raw string) RoomID {
	r, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return r
}

// String returns the full room ID string (e.g., "!abc123:example.org").
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value (uninitialized).
func (r RoomID) IsZero() bool { return r.id == "" }

// Server returns the server portion of the room ID (after the ':').
// Panics if called on a zero-value RoomID.
func (r RoomID) Server() string {
	if r.id == "" {
		panic("RoomID.Server called on zero value")
	}
	colonIndex := strings.IndexByte(r.id, ':')
	return r.id[colonIndex+1:]
}

// MarshalText implements encoding.TextMarshaler.
func (r RoomID) MarshalText() ([]byte, error) {
	if r.id == "" {
		return []byte{}, nil
	}
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler with validation.
// An empty input produces the zero value rather than an error, so that
// optional fields in JSON documents round-trip.
func (r *RoomID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
