// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"testing"
)

func TestParseRoomID(t *testing.T) {
	valid := []string{
		"!abc:example.org",
		"!x:y",
		"!room-with-dashes:server.local",
	}
	for _, raw := range valid {
		t.Run(raw, func(t *testing.T) {
			roomID, err := ParseRoomID(raw)
			if err != nil {
				t.Fatalf("ParseRoomID(%q) failed: %v", raw, err)
			}
			if roomID.String() != raw {
				t.Errorf("String() = %q, want %q", roomID.String(), raw)
			}
			if roomID.IsZero() {
				t.Error("IsZero() = true for valid room ID")
			}
		})
	}

	invalid := []string{
		"",
		"abc:example.org",
		"!abc",
		"!:example.org",
		"!abc:",
		"@abc:example.org",
	}
	for _, raw := range invalid {
		t.Run("invalid/"+raw, func(t *testing.T) {
			if _, err := ParseRoomID(raw); err == nil {
				t.Errorf("ParseRoomID(%q) succeeded, want error", raw)
			}
		})
	}
}

func TestRoomIDServer(t *testing.T) {
	roomID := MustParseRoomID("!abc:example.org")
	if got := roomID.Server(); got != "example.org" {
		t.Errorf("Server() = %q, want %q", got, "example.org")
	}
}

func TestParseUserID(t *testing.T) {
	userID, err := ParseUserID("@bot:example.org")
	if err != nil {
		t.Fatalf("ParseUserID failed: %v", err)
	}
	if got := userID.Localpart(); got != "bot" {
		t.Errorf("Localpart() = %q, want %q", got, "bot")
	}
	if got := userID.Server(); got != "example.org" {
		t.Errorf("Server() = %q, want %q", got, "example.org")
	}

	invalid := []string{"", "bot:example.org", "@bot", "@:example.org", "@bot:"}
	for _, raw := range invalid {
		if _, err := ParseUserID(raw); err == nil {
			t.Errorf("ParseUserID(%q) succeeded, want error", raw)
		}
	}
}

func TestParseEventID(t *testing.T) {
	eventID, err := ParseEventID("$abc123")
	if err != nil {
		t.Fatalf("ParseEventID failed: %v", err)
	}
	if eventID.String() != "$abc123" {
		t.Errorf("String() = %q", eventID.String())
	}

	for _, raw := range []string{"", "$", "abc"} {
		if _, err := ParseEventID(raw); err == nil {
			t.Errorf("ParseEventID(%q) succeeded, want error", raw)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	type doc struct {
		Room  RoomID  `json:"room,omitempty"`
		User  UserID  `json:"user,omitempty"`
		Event EventID `json:"event,omitempty"`
	}

	original := doc{
		Room:  MustParseRoomID("!r:s"),
		User:  MustParseUserID("@u:s"),
		Event: MustParseEventID("$e"),
	}
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded doc
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestJSONZeroValues(t *testing.T) {
	// Zero-value identifiers serialize as empty strings and decode back
	// to zero values. The state file relies on this for optional fields.
	type doc struct {
		Room RoomID `json:"room"`
	}
	data, err := json.Marshal(doc{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded doc
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Room.IsZero() {
		t.Errorf("zero value did not round trip: %+v", decoded)
	}
}
