// Copyright 2024-2026 Aiku AI

package guilded

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

type messageCreatedPayload struct {
	ChannelID string          `json:"channelId"`
	TeamID    string          `json:"teamId"`
	CreatedBy string          `json:"createdBy"`
	ClientID  string          `json:"guildedClientId"`
	Message   json.RawMessage `json:"message"`
}

func (c *Client) handleMessageCreated(ctx context.Context, shardID string, payload json.RawMessage) error {
	var p messageCreatedPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	msg, err := parseMessage(p.Message, p.ChannelID, p.TeamID)
	if err != nil {
		return err
	}
	c.warmUp(ctx, shardID, p.CreatedBy, p.TeamID)

	if msg.Type == MessageTypeSystem {
		c.handleSystemMessage(ctx, shardID, &p, payload)
	}
	if c.cfg.Cache.Messages {
		c.Cache.putMessage(msg)
	}
	c.Bus.Publish(MessageCreateEvent{ShardID: shardID, Message: msg, ClientID: p.ClientID})
	return nil
}

// warmUp makes sure the author and team of an event are cached before
// subscribers look them up. Failures are reported but do not stop the
// event.
func (c *Client) warmUp(ctx context.Context, shardID, userID, teamID string) {
	if c.cfg.Cache.Users && userID != "" {
		if _, err := c.Users.Get(ctx, userID, false); err != nil {
			c.reportError(shardID, err)
		}
	}
	if c.cfg.Cache.Teams && teamID != "" {
		if _, err := c.Teams.Get(ctx, teamID, false); err != nil {
			c.reportError(shardID, err)
		}
	}
}

type messageUpdatedPayload struct {
	ChannelID string          `json:"channelId"`
	TeamID    string          `json:"teamId"`
	ContentID string          `json:"contentId"`
	UpdatedBy string          `json:"updatedBy"`
	EditedBy  string          `json:"editedBy"`
	ClientID  string          `json:"guildedClientId"`
	Message   json.RawMessage `json:"message"`
}

type messageEdit struct {
	ID       string     `json:"id"`
	Content  Content    `json:"content"`
	EditedAt *time.Time `json:"editedAt"`
}

func (c *Client) handleMessageUpdated(ctx context.Context, shardID string, payload json.RawMessage) error {
	var p messageUpdatedPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	var edit messageEdit
	if err := decodePayload(p.Message, &edit); err != nil {
		return err
	}
	id := p.ContentID
	if id == "" {
		id = edit.ID
	}
	if id == "" {
		return fmt.Errorf("%w: edit without message id", ErrMalformedPayload)
	}
	editor := p.UpdatedBy
	if editor == "" {
		editor = p.EditedBy
	}
	c.warmUp(ctx, shardID, editor, p.TeamID)

	if c.cfg.Cache.Messages {
		updated, old, ok := c.Cache.updateMessage(p.ChannelID, id, func(m *Message) {
			m.Content = edit.Content
			m.EditedAt = edit.EditedAt
			m.applyContent()
		})
		if ok {
			c.Bus.Publish(MessageUpdateEvent{ShardID: shardID, Message: updated, Old: &old, ClientID: p.ClientID})
			return nil
		}
	}

	var msg Message
	if err := decodePayload(p.Message, &msg); err != nil {
		return err
	}
	msg.ID = id
	msg.ChannelID = p.ChannelID
	if p.TeamID != "" {
		msg.TeamID = p.TeamID
	}
	msg.CreatedBy = editor
	msg.applyContent()
	c.Bus.Publish(MessageUpdateEvent{ShardID: shardID, Message: msg, ClientID: p.ClientID})
	return nil
}

type messageDeletedPayload struct {
	ChannelID   string `json:"channelId"`
	TeamID      string `json:"teamId"`
	ChannelType string `json:"channelType"`
	ContentType string `json:"contentType"`
	CategoryID  FlexID `json:"channelCategoryId"`
	ClientID    string `json:"guildedClientId"`
	Message     struct {
		ID string `json:"id"`
	} `json:"message"`
	NewLastMessage json.RawMessage `json:"newLastMessage"`
}

func (c *Client) handleMessageDeleted(ctx context.Context, shardID string, payload json.RawMessage) error {
	var p messageDeletedPayload
	if err := decodePayload(payload, &p); err != nil {
		return err
	}
	if p.Message.ID == "" {
		return fmt.Errorf("%w: delete without message id", ErrMalformedPayload)
	}
	if p.ChannelType != ChannelTypeDM {
		c.warmUp(ctx, shardID, "", p.TeamID)
	}

	evt := MessageDeleteEvent{
		ShardID: shardID,
		Deleted: DeletedMessage{
			ID:          p.Message.ID,
			ChannelID:   p.ChannelID,
			TeamID:      p.TeamID,
			ChannelType: p.ChannelType,
			ContentType: p.ContentType,
			CategoryID:  p.CategoryID,
			cache:       c.Cache,
		},
		ClientID: p.ClientID,
	}
	if c.cfg.Cache.Messages {
		if msg, ok := c.Cache.takeMessage(p.ChannelID, p.Message.ID); ok {
			evt.Message = &msg
		}
	}
	if raw := bytes.TrimSpace(p.NewLastMessage); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		last, err := parseMessage(raw, p.ChannelID, p.TeamID)
		if err != nil {
			c.reportError(shardID, fmt.Errorf("failed to parse new last message: %w", err))
		} else {
			evt.NewLastMessage = &last
		}
	}
	c.Bus.Publish(evt)
	return nil
}

type systemMessageInfo struct {
	Type      string `json:"type"`
	CreatedBy string `json:"createdBy"`
	NewName   string `json:"newName"`
	OldName   string `json:"oldName"`
}

// handleSystemMessage publishes the channel events carried by system
// messages. Unknown system message types are ignored.
func (c *Client) handleSystemMessage(ctx context.Context, shardID string, p *messageCreatedPayload, payload json.RawMessage) {
	raw := gjson.GetBytes(payload, "systemMessageInfo")
	if !raw.IsObject() {
		return
	}
	var info systemMessageInfo
	if err := json.Unmarshal([]byte(raw.Raw), &info); err != nil {
		c.reportError(shardID, fmt.Errorf("%w: system message info: %w", ErrMalformedPayload, err))
		return
	}
	switch info.Type {
	case "team-channel-created":
		c.onChannelCreated(ctx, shardID, p.ChannelID, info)
	case "channel-renamed":
		c.onChannelRenamed(ctx, shardID, p.TeamID, p.ChannelID, info)
	default:
		c.log.Trace().Str("type", info.Type).Msg("Ignoring system message")
	}
}
