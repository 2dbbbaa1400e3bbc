// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/atelier-works/atelier/lib/ref"
)

// syncFilter is the inline filter document for the sync endpoint. It
// restricts the response to message events in the watched rooms and
// drops presence and account data, which the orchestrator never reads.
type syncFilter struct {
	Room        syncRoomFilter  `json:"room"`
	Presence    syncEventFilter `json:"presence"`
	AccountData syncEventFilter `json:"account_data"`
}

type syncRoomFilter struct {
	Rooms    []string        `json:"rooms"`
	Timeline syncEventFilter `json:"timeline"`
}

type syncEventFilter struct {
	Types []string `json:"types"`
}

// Sync performs one long poll against the homeserver, restricted to the
// given rooms. An empty since token requests the initial snapshot; pass
// timeoutMS of zero for an immediate return, which is how the scheduler
// acquires its first token without replaying history.
func (c *Client) Sync(ctx context.Context, since string, timeoutMS int, roomIDs []ref.RoomID) (*SyncResponse, error) {
	filter := syncFilter{
		Room: syncRoomFilter{
			Rooms:    roomIDStrings(roomIDs),
			Timeline: syncEventFilter{Types: []string{"m.room.message"}},
		},
		Presence:    syncEventFilter{Types: []string{}},
		AccountData: syncEventFilter{Types: []string{}},
	}
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("messaging: failed to encode sync filter: %w", err)
	}

	query := url.Values{}
	query.Set("filter", string(filterJSON))
	query.Set("timeout", strconv.Itoa(timeoutMS))
	if since != "" {
		query.Set("since", since)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", query, nil)
	if err != nil {
		return nil, fmt.Errorf("messaging: sync failed: %w", err)
	}

	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("messaging: failed to parse sync response: %w", err)
	}
	return &response, nil
}

func roomIDStrings(rooms []ref.RoomID) []string {
	out := make([]string, len(rooms))
	for i, r := range rooms {
		out[i] = r.String()
	}
	return out
}
