// Copyright 2024-2026 Aiku AI

package guilded

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ChannelManager fetches channels and sends messages.
type ChannelManager struct {
	c *Client
}

// Get fetches the channels of teamID and returns channelID among them.
func (m *ChannelManager) Get(ctx context.Context, teamID, channelID string) (Channel, error) {
	channels, err := m.c.Teams.Channels(ctx, teamID)
	if err != nil {
		return Channel{}, err
	}
	for _, ch := range channels {
		if ch.ID == channelID {
			return ch, nil
		}
	}
	return Channel{}, fmt.Errorf("channel %s in team %s: %w", channelID, teamID, ErrNotFound)
}

// Cached returns a channel from the cache only.
func (m *ChannelManager) Cached(id string) (Channel, bool) {
	return m.c.Cache.Channels.Get(id)
}

// DMChannels fetches the direct message channels of the logged in user.
func (m *ChannelManager) DMChannels(ctx context.Context) ([]Channel, error) {
	me := m.c.userID()
	if me == "" {
		return nil, ErrNotReady
	}
	var resp struct {
		Channels []Channel `json:"channels"`
	}
	if err := m.c.api.Get(ctx, "/users/"+url.PathEscape(me)+"/channels", &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch dm channels: %w", err)
	}
	if m.c.cfg.Cache.Channels {
		for _, ch := range resp.Channels {
			m.c.Cache.Channels.Set(ch.ID, ch)
		}
	}
	return resp.Channels, nil
}

// Messages fetches up to limit recent messages of a channel. A limit of
// zero leaves the page size to the server.
func (m *ChannelManager) Messages(ctx context.Context, channelID string, limit int) ([]Message, error) {
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := m.c.api.Get(ctx, path, &resp); err != nil {
		return nil, notFoundOr(err, "channel messages", channelID)
	}
	for i := range resp.Messages {
		msg := &resp.Messages[i]
		if msg.ChannelID == "" {
			msg.ChannelID = channelID
		}
		msg.applyContent()
		if m.c.cfg.Cache.Messages {
			m.c.Cache.putMessage(*msg)
		}
	}
	return resp.Messages, nil
}

type sendMessageRequest struct {
	Confirmed bool    `json:"confirmed"`
	MessageID string  `json:"messageId"`
	Content   Content `json:"content"`
}

// SendMessage posts content to a channel under a freshly generated id and
// returns the message as the server accepted it.
func (m *ChannelManager) SendMessage(ctx context.Context, channelID string, content Content) (Message, error) {
	me := m.c.userID()
	if me == "" {
		return Message{}, ErrNotReady
	}
	req := sendMessageRequest{MessageID: uuid.NewString(), Content: content}
	var resp struct {
		Message struct {
			CreatedAt *time.Time `json:"createdAt"`
		} `json:"message"`
	}
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := m.c.api.Do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return Message{}, fmt.Errorf("failed to send message to %s: %w", channelID, err)
	}
	msg := Message{
		ID:        req.MessageID,
		Type:      MessageTypeDefault,
		ChannelID: channelID,
		CreatedBy: me,
		Content:   content,
		CreatedAt: resp.Message.CreatedAt,
	}
	if ch, ok := m.c.Cache.Channels.Get(channelID); ok {
		msg.TeamID = ch.TeamID
	}
	msg.applyContent()
	if m.c.cfg.Cache.Messages {
		m.c.Cache.putMessage(msg)
	}
	return msg, nil
}

// Send is SendMessage with plain text and optional embeds.
func (m *ChannelManager) Send(ctx context.Context, channelID, text string, embeds ...Embed) (Message, error) {
	return m.SendMessage(ctx, channelID, TextContent(text, embeds...))
}

// EditMessage replaces the content of a message.
func (m *ChannelManager) EditMessage(ctx context.Context, channelID, messageID string, content Content) error {
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	body := map[string]Content{"content": content}
	if err := m.c.api.Do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("failed to edit message %s: %w", messageID, err)
	}
	return nil
}

// DeleteMessage deletes a message.
func (m *ChannelManager) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	if err := m.c.api.Do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	return nil
}
