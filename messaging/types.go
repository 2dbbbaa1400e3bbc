// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import "github.com/atelier-works/atelier/lib/ref"

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string `json:"type"`
	User                     string `json:"user"`
	Password                 string `json:"password"`
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse is returned by the login endpoint.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// WhoAmIResponse is returned by the whoami endpoint.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// ServerVersionsResponse is returned by the unauthenticated versions
// endpoint.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

// CreateRoomRequest holds parameters for creating a Matrix room or
// space. Spaces set CreationContent to {"type": "m.space"}.
type CreateRoomRequest struct {
	Name            string         `json:"name,omitempty"`
	Topic           string         `json:"topic,omitempty"`
	Visibility      string         `json:"visibility,omitempty"`
	Preset          string         `json:"preset,omitempty"`
	Invite          []string       `json:"invite,omitempty"`
	CreationContent map[string]any `json:"creation_content,omitempty"`
}

// CreateRoomResponse is returned by createRoom.
type CreateRoomResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// JoinedRoomsResponse is returned by the joined_rooms endpoint.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// InviteRequest holds the user ID to invite to a room.
type InviteRequest struct {
	UserID ref.UserID `json:"user_id"`
}

// RoomMembersResponse is returned by the members endpoint.
type RoomMembersResponse struct {
	Chunk []RoomMemberEvent `json:"chunk"`
}

// RoomMemberEvent is a member state event from the members endpoint.
type RoomMemberEvent struct {
	Type     string            `json:"type"`
	StateKey string            `json:"state_key"`
	Content  RoomMemberContent `json:"content"`
}

// RoomMemberContent is the content of an m.room.member state event.
type RoomMemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
}

// SpaceChildContent is the content of an m.space.child state event.
type SpaceChildContent struct {
	Via []string `json:"via"`
}

// SpaceParentContent is the content of an m.space.parent state event.
type SpaceParentContent struct {
	Via       []string `json:"via"`
	Canonical bool     `json:"canonical,omitempty"`
}

// MessageContent is the content body of an m.room.message event. When
// RelatesTo is set the message is a thread reply.
type MessageContent struct {
	MsgType   string     `json:"msgtype"`
	Body      string     `json:"body"`
	RelatesTo *RelatesTo `json:"m.relates_to,omitempty"`
}

// RelatesTo expresses the m.thread relationship with the reply
// fallback pointer required by the Matrix threading spec.
type RelatesTo struct {
	RelType       string      `json:"rel_type"`
	EventID       ref.EventID `json:"event_id"`
	IsFallingBack bool        `json:"is_falling_back,omitempty"`
	InReplyTo     *InReplyTo  `json:"m.in_reply_to,omitempty"`
}

// InReplyTo references the event being replied to within a thread.
type InReplyTo struct {
	EventID ref.EventID `json:"event_id"`
}

// SendEventResponse is returned by message sends.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// TypingRequest is the request body for the typing endpoint.
type TypingRequest struct {
	Typing  bool `json:"typing"`
	Timeout int  `json:"timeout,omitempty"`
}

// Event represents a Matrix timeline event from a sync response.
//
// EventID and Sender stay raw strings here: the lobby filter drops
// events lacking them rather than failing the whole sync decode, so
// validation belongs to the consumer.
type Event struct {
	EventID        string         `json:"event_id"`
	Type           string         `json:"type"`
	Sender         string         `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
}

// MessageBody extracts the trimmed-preserving body of an
// m.room.message event, or "" when absent.
func (e Event) MessageBody() string {
	if body, ok := e.Content["body"].(string); ok {
		return body
	}
	return ""
}

// SyncResponse is the top-level response from the sync endpoint,
// reduced to what the scheduler consumes.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection groups per-room sync data by membership state. Only
// joined rooms matter to the orchestrator.
type RoomsSection struct {
	Join map[string]JoinedRoom `json:"join,omitempty"`
}

// JoinedRoom contains sync data for one joined room.
type JoinedRoom struct {
	Timeline TimelineSection `json:"timeline"`
}

// TimelineSection contains timeline events from a sync response, in
// server delivery order.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}
