// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// UserID is a validated Matrix user ID (e.g., "@bot:example.org").
//
// A Matrix user ID always starts with '@' and contains a ':' separating
// the localpart from the server name. The orchestrator uses UserID for
// the bot's own identity (sender filtering), for team members invited
// to spaces and rooms, and for senders of lobby messages.
//
// UserID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type UserID struct {
	id string
}

// ParseUserID validates and wraps a raw Matrix user ID string.
func ParseUserID(raw string) (UserID, error) {
	if raw == "" {
		return UserID{}, fmt.Errorf("empty user ID")
	}
	if raw[0] != '@' {
		return UserID{}, fmt.Errorf("user ID must start with '@': %q", raw)
	}

	colonIndex := strings.IndexByte(raw[1:], ':')
	if colonIndex < 0 {
		return UserID{}, fmt.Errorf("user ID missing ':server' suffix: %q", raw)
	}
	if colonIndex == 0 {
		return UserID{}, fmt.Errorf("user ID has empty localpart: %q", raw)
	}
	if raw[1+colonIndex+1:] == "" {
		return UserID{}, fmt.Errorf("user ID has empty server name: %q", raw)
	}

	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error. Use in tests
// and static initialization where the input is known-valid.
func MustParseUserID(raw string) UserID {
	u, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return u
}

// String returns the full user ID string (e.g., "@bot:example.org").
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// Localpart returns the localpart portion of the user ID (without the
// '@' prefix or ':server' suffix). Panics on a zero-value UserID.
func (u UserID) Localpart() string {
	if u.id == "" {
		panic("UserID.Localpart called on zero value")
	}
	colonIndex := strings.IndexByte(u.id, ':')
	return u.id[1:colonIndex]
}

// Server returns the server portion of the user ID (after the ':').
// Panics on a zero-value UserID.
func (u UserID) Server() string {
	if u.id == "" {
		panic("UserID.Server called on zero value")
	}
	colonIndex := strings.IndexByte(u.id, ':')
	return u.id[colonIndex+1:]
}

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	if u.id == "" {
		return []byte{}, nil
	}
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler with validation.
// An empty input produces the zero value rather than an error.
func (u *UserID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
