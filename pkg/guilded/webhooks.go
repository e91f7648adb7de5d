// Copyright 2024-2026 Aiku AI

package guilded

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// WebhookManager creates and executes channel webhooks.
type WebhookManager struct {
	c *Client
}

// WebhookEdit lists the webhook fields to change. Empty fields are left
// untouched.
type WebhookEdit struct {
	Name      string `json:"name,omitempty"`
	IconURL   string `json:"iconUrl,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
}

// WebhookMessage is the body posted when executing a webhook.
type WebhookMessage struct {
	Content string  `json:"content"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Create adds a webhook named name to a channel.
func (m *WebhookManager) Create(ctx context.Context, channelID, name string) (Webhook, error) {
	body := map[string]string{"channelId": channelID, "name": name}
	var hook Webhook
	if err := m.c.api.Do(ctx, http.MethodPost, "/webhooks", body, &hook); err != nil {
		return Webhook{}, fmt.Errorf("failed to create webhook in %s: %w", channelID, err)
	}
	if hook.ID == "" {
		return Webhook{}, fmt.Errorf("%w: webhook without id", ErrMalformedPayload)
	}
	return hook, nil
}

// Edit changes a webhook and returns it as stored by the server.
func (m *WebhookManager) Edit(ctx context.Context, id string, edit WebhookEdit) (Webhook, error) {
	var hook Webhook
	if err := m.c.api.Do(ctx, http.MethodPut, "/webhooks/"+url.PathEscape(id), edit, &hook); err != nil {
		return Webhook{}, notFoundOr(err, "webhook", id)
	}
	return hook, nil
}

// Delete removes a webhook.
func (m *WebhookManager) Delete(ctx context.Context, id string) error {
	if err := m.c.api.Do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(id), nil, nil); err != nil {
		return notFoundOr(err, "webhook", id)
	}
	return nil
}

// Execute posts msg through the webhook identified by id and token. It
// needs no logged in session.
func (m *WebhookManager) Execute(ctx context.Context, id, token string, msg WebhookMessage) error {
	if len(msg.Embeds) > 0 {
		msg.Embeds = normalizeEmbeds(msg.Embeds)
	}
	path := "/webhooks/" + url.PathEscape(id) + "/" + url.PathEscape(token)
	if err := m.c.media.Do(ctx, http.MethodPost, path, msg, nil); err != nil {
		return fmt.Errorf("failed to execute webhook %s: %w", id, err)
	}
	return nil
}
