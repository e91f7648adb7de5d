// Copyright 2024-2026 Aiku AI

package guilded

import (
	"context"
	"encoding/json"
)

func (c *Client) onChannelCreated(ctx context.Context, shardID, channelID string, info systemMessageInfo) {
	evt := ChannelCreateEvent{ShardID: shardID, ChannelID: channelID}
	if ch, ok := c.Cache.Channels.Get(channelID); ok {
		evt.Channel = &ch
	}
	evt.CreatedBy = c.lookupActor(ctx, shardID, info.CreatedBy)
	c.Bus.Publish(evt)
}

func (c *Client) onChannelRenamed(ctx context.Context, shardID, teamID, channelID string, info systemMessageInfo) {
	evt := ChannelRenameEvent{
		ShardID:   shardID,
		ChannelID: channelID,
		OldName:   info.OldName,
		NewName:   info.NewName,
	}
	if c.cfg.Cache.Channels {
		var (
			ch Channel
			ok bool
		)
		if teamID != "" {
			var err error
			ch, err = c.Channels.Get(ctx, teamID, channelID)
			if err != nil {
				c.reportError(shardID, err)
			}
			ok = err == nil
		} else {
			ch, ok = c.Cache.Channels.Get(channelID)
		}
		if ok {
			ch.Name = info.NewName
			c.Cache.Channels.Update(channelID, func(stored *Channel) { stored.Name = info.NewName })
			evt.Channel = &ch
		}
	}
	evt.RenamedBy = c.lookupActor(ctx, shardID, info.CreatedBy)
	c.Bus.Publish(evt)
}

// lookupActor resolves the user behind a system message when user
// caching is on.
func (c *Client) lookupActor(ctx context.Context, shardID, userID string) *User {
	if !c.cfg.Cache.Users || userID == "" {
		return nil
	}
	u, err := c.Users.Get(ctx, userID, false)
	if err != nil {
		c.reportError(shardID, err)
		return nil
	}
	return &u
}

type channelSeenPayload struct {
	ChannelID      string `json:"channelId"`
	ContentType    string `json:"contentType"`
	TeamID         string `json:"teamId"`
	ClearAllBadges bool   `json:"clearAllBadges"`
	ClientID       string `json:"guildedClientId"`
}

func (c *Client) handleChannelSeen(_ context.Context, shardID string, payload json.RawMessage) error {
	var p channelSeenPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	c.Bus.Publish(ChannelSeenEvent{
		ShardID:        shardID,
		ChannelID:      p.ChannelID,
		ContentType:    p.ContentType,
		TeamID:         p.TeamID,
		ClearAllBadges: p.ClearAllBadges,
		ClientID:       p.ClientID,
	})
	return nil
}

type teamSectionSeenPayload struct {
	ItemID   string `json:"itemId"`
	TeamID   string `json:"teamId"`
	ClientID string `json:"guildedClientId"`
}

func (c *Client) handleTeamSectionSeen(_ context.Context, shardID string, payload json.RawMessage) error {
	var p teamSectionSeenPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	c.Bus.Publish(TeamSectionSeenEvent{ShardID: shardID, ItemID: p.ItemID, TeamID: p.TeamID, ClientID: p.ClientID})
	return nil
}

type typingPayload struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
}

func (c *Client) handleTyping(_ context.Context, shardID string, payload json.RawMessage) error {
	var p typingPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	c.Bus.Publish(TypingEvent{ShardID: shardID, UserID: p.UserID, ChannelID: p.ChannelID})
	return nil
}
