// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/atelier-works/atelier/lib/ref"
)

// EnsureJoinedRoom makes the bot a member of roomID. It checks the
// joined room list first and joins only when absent, so repeated calls
// are idempotent.
func (c *Client) EnsureJoinedRoom(ctx context.Context, roomID ref.RoomID) error {
	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/joined_rooms", nil, nil)
	if err != nil {
		return fmt.Errorf("messaging: failed to list joined rooms: %w", err)
	}
	var joined JoinedRoomsResponse
	if err := json.Unmarshal(body, &joined); err != nil {
		return fmt.Errorf("messaging: failed to parse joined rooms response: %w", err)
	}
	for _, id := range joined.JoinedRooms {
		if id == roomID {
			return nil
		}
	}

	path := "/_matrix/client/v3/join/" + url.PathEscape(roomID.String())
	if _, err := c.doRequest(ctx, http.MethodPost, path, nil, struct{}{}); err != nil {
		return fmt.Errorf("messaging: failed to join room %s: %w", roomID, err)
	}
	c.logger.Info("joined room", "room_id", roomID)
	return nil
}

// CreateSpace creates a private Matrix space with the given name and
// topic, inviting the listed users.
func (c *Client) CreateSpace(ctx context.Context, name, topic string, invite []ref.UserID) (ref.RoomID, error) {
	return c.createRoom(ctx, CreateRoomRequest{
		Name:            name,
		Topic:           topic,
		Visibility:      "private",
		Preset:          "private_chat",
		Invite:          userIDStrings(invite),
		CreationContent: map[string]any{"type": "m.space"},
	})
}

// CreateRoom creates a private Matrix room with the given name and
// topic, inviting the listed users.
func (c *Client) CreateRoom(ctx context.Context, name, topic string, invite []ref.UserID) (ref.RoomID, error) {
	return c.createRoom(ctx, CreateRoomRequest{
		Name:       name,
		Topic:      topic,
		Visibility: "private",
		Preset:     "private_chat",
		Invite:     userIDStrings(invite),
	})
}

func (c *Client) createRoom(ctx context.Context, request CreateRoomRequest) (ref.RoomID, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/_matrix/client/v3/createRoom", nil, request)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to create room %q: %w", request.Name, err)
	}
	var created CreateRoomResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return ref.RoomID{}, fmt.Errorf("messaging: failed to parse createRoom response: %w", err)
	}
	if created.RoomID.IsZero() {
		return ref.RoomID{}, fmt.Errorf("messaging: createRoom response missing room_id")
	}
	c.logger.Info("created room", "room_id", created.RoomID, "name", request.Name)
	return created.RoomID, nil
}

// LinkRoomUnderSpace establishes the bidirectional space hierarchy
// between parent and child: an m.space.child event on the parent and an
// m.space.parent event on the child, both carrying the via server.
// State events with identical content are idempotent on the homeserver,
// so re-linking an already linked pair is safe.
func (c *Client) LinkRoomUnderSpace(ctx context.Context, parent, child ref.RoomID) error {
	via := []string{c.ViaServer()}

	childPath := "/_matrix/client/v3/rooms/" + url.PathEscape(parent.String()) +
		"/state/m.space.child/" + url.PathEscape(child.String())
	if _, err := c.doRequest(ctx, http.MethodPut, childPath, nil, SpaceChildContent{Via: via}); err != nil {
		return fmt.Errorf("messaging: failed to set space child %s under %s: %w", child, parent, err)
	}

	parentPath := "/_matrix/client/v3/rooms/" + url.PathEscape(child.String()) +
		"/state/m.space.parent/" + url.PathEscape(parent.String())
	if _, err := c.doRequest(ctx, http.MethodPut, parentPath, nil, SpaceParentContent{Via: via, Canonical: true}); err != nil {
		return fmt.Errorf("messaging: failed to set space parent %s on %s: %w", parent, child, err)
	}
	return nil
}

// EnsureInvites invites every listed user who is not already joined or
// invited. The bot itself is skipped. An invite failure for one user is
// returned after attempting the rest.
func (c *Client) EnsureInvites(ctx context.Context, roomID ref.RoomID, users []ref.UserID) error {
	membersPath := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/members"
	body, err := c.doRequest(ctx, http.MethodGet, membersPath, nil, nil)
	if err != nil {
		return fmt.Errorf("messaging: failed to list members of %s: %w", roomID, err)
	}
	var members RoomMembersResponse
	if err := json.Unmarshal(body, &members); err != nil {
		return fmt.Errorf("messaging: failed to parse members response: %w", err)
	}

	present := make(map[string]bool, len(members.Chunk))
	for _, member := range members.Chunk {
		if member.Content.Membership == "join" || member.Content.Membership == "invite" {
			present[member.StateKey] = true
		}
	}

	invitePath := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/invite"
	var firstErr error
	for _, user := range users {
		if user == c.userID || present[user.String()] {
			continue
		}
		if _, err := c.doRequest(ctx, http.MethodPost, invitePath, nil, InviteRequest{UserID: user}); err != nil {
			c.logger.Warn("failed to invite user",
				"room_id", roomID,
				"user_id", user,
				"error", err,
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("messaging: failed to invite %s to %s: %w", user, roomID, err)
			}
			continue
		}
		c.logger.Info("invited user", "room_id", roomID, "user_id", user)
	}
	return firstErr
}

// LeaveAndForget removes the bot from a room and forgets it. Both steps
// are best-effort: failures are logged, not returned, because this is
// only used to discard rooms from abandoned task setups.
func (c *Client) LeaveAndForget(ctx context.Context, roomID ref.RoomID) {
	leavePath := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/leave"
	if _, err := c.doRequest(ctx, http.MethodPost, leavePath, nil, struct{}{}); err != nil {
		c.logger.Warn("failed to leave room", "room_id", roomID, "error", err)
		return
	}
	forgetPath := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) + "/forget"
	if _, err := c.doRequest(ctx, http.MethodPost, forgetPath, nil, struct{}{}); err != nil {
		c.logger.Warn("failed to forget room", "room_id", roomID, "error", err)
	}
}

// SendTyping sets or clears the bot's typing indicator in a room.
// Typing state is cosmetic, so failures are logged and swallowed.
func (c *Client) SendTyping(ctx context.Context, roomID ref.RoomID, typing bool, timeout int) {
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/typing/" + url.PathEscape(c.userID.String())
	request := TypingRequest{Typing: typing}
	if typing {
		request.Timeout = timeout
	}
	if _, err := c.doRequest(ctx, http.MethodPut, path, nil, request); err != nil {
		c.logger.Debug("failed to update typing state", "room_id", roomID, "error", err)
	}
}

func userIDStrings(users []ref.UserID) []string {
	if len(users) == 0 {
		return nil
	}
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.String()
	}
	return out
}
