// Copyright 2024-2026 Aiku AI

package guilded

import (
	"context"
	"encoding/json"
	"fmt"
)

type eventHandler func(c *Client, ctx context.Context, shardID string, payload json.RawMessage) error

// eventHandlers maps gateway event names to their handlers. Names not
// listed here are published as UnknownEvent.
var eventHandlers = map[string]eventHandler{
	"ChatMessageCreated":     (*Client).handleMessageCreated,
	"ChatMessageUpdated":     (*Client).handleMessageUpdated,
	"ChatMessageDeleted":     (*Client).handleMessageDeleted,
	"ChatChannelTyping":      (*Client).handleTyping,
	"CHANNEL_SEEN":           (*Client).handleChannelSeen,
	"USER_TEAM_SECTION_SEEN": (*Client).handleTeamSectionSeen,
	"USER_PINGED":            (*Client).handleUserPinged,
}

// dispatch routes one gateway event. Handler failures are reported as
// ErrorEvent and never reach the shard.
func (c *Client) dispatch(shardID, name string, payload json.RawMessage) {
	if c.closed.Load() {
		return
	}
	handler, ok := eventHandlers[name]
	if !ok {
		c.log.Trace().Str("shard_id", shardID).Str("event", name).Msg("Unhandled gateway event")
		c.Bus.Publish(UnknownEvent{ShardID: shardID, Name: name, Payload: payload})
		return
	}
	if err := handler(c, c.ctx, shardID, payload); err != nil {
		c.reportError(shardID, fmt.Errorf("failed to handle %s: %w", name, err))
	}
}

func decodePayload(payload json.RawMessage, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return nil
}
