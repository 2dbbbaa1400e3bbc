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

// maxMessageBody bounds the body of an outgoing message; homeservers
// reject events past their own event-size limit, so we truncate first.
const maxMessageBody = 30000

// SendOptions carries optional parameters for message sends.
type SendOptions struct {
	// ThreadRootEventID, when set, sends the message as a reply in the
	// thread rooted at this event.
	ThreadRootEventID ref.EventID
}

// SendMessage sends an m.text message into a room and returns the event
// ID assigned by the homeserver.
func (c *Client) SendMessage(ctx context.Context, roomID ref.RoomID, text string, opts SendOptions) (ref.EventID, error) {
	return c.sendRoomMessage(ctx, roomID, "m.text", text, opts)
}

// SendNotice sends an m.notice message into a room. Notices render the
// same as text but are conventionally ignored by other bots, which
// keeps orchestrator output from triggering loops.
func (c *Client) SendNotice(ctx context.Context, roomID ref.RoomID, text string, opts SendOptions) (ref.EventID, error) {
	return c.sendRoomMessage(ctx, roomID, "m.notice", text, opts)
}

func (c *Client) sendRoomMessage(ctx context.Context, roomID ref.RoomID, msgType, text string, opts SendOptions) (ref.EventID, error) {
	if len(text) > maxMessageBody {
		text = text[:maxMessageBody]
	}

	content := MessageContent{
		MsgType: msgType,
		Body:    text,
	}
	if !opts.ThreadRootEventID.IsZero() {
		content.RelatesTo = &RelatesTo{
			RelType:       "m.thread",
			EventID:       opts.ThreadRootEventID,
			IsFallingBack: true,
			InReplyTo:     &InReplyTo{EventID: opts.ThreadRootEventID},
		}
	}

	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID.String()) +
		"/send/m.room.message/" + url.PathEscape(c.nextTransactionID())
	body, err := c.doRequest(ctx, http.MethodPut, path, nil, content)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to send %s to %s: %w", msgType, roomID, err)
	}

	var sent SendEventResponse
	if err := json.Unmarshal(body, &sent); err != nil {
		return ref.EventID{}, fmt.Errorf("messaging: failed to parse send response: %w", err)
	}
	return sent.EventID, nil
}
