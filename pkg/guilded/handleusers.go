// Copyright 2024-2026 Aiku AI

package guilded

import (
	"context"
	"encoding/json"
)

func (c *Client) handleUserPinged(_ context.Context, shardID string, payload json.RawMessage) error {
	var p struct {
		ClientID string `json:"guildedClientId"`
	}
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	c.Bus.Publish(UserPingedEvent{ShardID: shardID, ClientID: p.ClientID})
	return nil
}
