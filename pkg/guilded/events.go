// Copyright 2024-2026 Aiku AI

package guilded

import (
	"encoding/json"
	"net/http"
	"time"
)

// EventType names a client notification.
type EventType string

const (
	EventReady           EventType = "ready"
	EventDebug           EventType = "debug"
	EventConnect         EventType = "connect"
	EventDisconnect      EventType = "disconnect"
	EventReconnect       EventType = "reconnect"
	EventError           EventType = "error"
	EventRateLimit       EventType = "rate_limit"
	EventUnknown         EventType = "unknown"
	EventMessageCreate   EventType = "message_create"
	EventMessageUpdate   EventType = "message_update"
	EventMessageDelete   EventType = "message_delete"
	EventChannelCreate   EventType = "channel_create"
	EventChannelRename   EventType = "channel_rename"
	EventChannelSeen     EventType = "channel_seen"
	EventTeamSectionSeen EventType = "team_section_seen"
	EventTyping          EventType = "typing"
	EventUserPinged      EventType = "user_pinged"
)

// Event is anything published on the client bus.
type Event interface {
	Type() EventType
}

// ReadyEvent is published once Start has logged in and opened its shards.
type ReadyEvent struct {
	User ClientUser
}

// DebugEvent carries a diagnostic line from a shard.
type DebugEvent struct {
	ShardID string
	Message string
}

// ConnectEvent is published when a shard completes its handshake.
type ConnectEvent struct {
	ShardID string
}

// DisconnectEvent is published when a shard's connection ends.
type DisconnectEvent struct {
	ShardID string
	Err     error
}

// ReconnectEvent is published when a shard re-established its connection.
type ReconnectEvent struct {
	ShardID string
}

// ErrorEvent reports a failure that did not stop the client. ShardID is
// empty for errors outside the gateway.
type ErrorEvent struct {
	ShardID string
	Err     error
}

// RateLimitEvent is published for every 429 before the request is retried.
type RateLimitEvent struct {
	Method     string
	Path       string
	RetryAfter time.Duration
	Response   *http.Response
}

// UnknownEvent carries a gateway event with no handler.
type UnknownEvent struct {
	ShardID string
	Name    string
	Payload json.RawMessage
}

// MessageCreateEvent is published for every new chat message.
type MessageCreateEvent struct {
	ShardID  string
	Message  Message
	ClientID string
}

// MessageUpdateEvent is published when a message is edited. Old is nil
// when the message was not cached.
type MessageUpdateEvent struct {
	ShardID  string
	Message  Message
	Old      *Message
	ClientID string
}

// DeletedMessage identifies a message that was deleted.
type DeletedMessage struct {
	ID          string
	ChannelID   string
	TeamID      string
	ChannelType string
	ContentType string
	CategoryID  FlexID

	cache *Cache
}

// Channel resolves the channel at call time. It falls back to a stand-in
// built from the delete payload when the channel is not cached.
func (d DeletedMessage) Channel() (Channel, bool) {
	if d.cache != nil {
		if ch, ok := d.cache.Channels.Get(d.ChannelID); ok {
			return ch, true
		}
	}
	return Channel{
		ID:          d.ChannelID,
		Type:        d.ChannelType,
		ContentType: d.ContentType,
		TeamID:      d.TeamID,
		CategoryID:  d.CategoryID,
	}, false
}

// Team resolves the team at call time.
func (d DeletedMessage) Team() (Team, bool) {
	if d.cache == nil || d.TeamID == "" {
		return Team{}, false
	}
	return d.cache.Teams.Get(d.TeamID)
}

// MessageDeleteEvent is published when a message is deleted. Message is
// set when the deleted message was cached.
type MessageDeleteEvent struct {
	ShardID        string
	Deleted        DeletedMessage
	Message        *Message
	NewLastMessage *Message
	ClientID       string
}

// ChannelCreateEvent is published when a team channel is created.
type ChannelCreateEvent struct {
	ShardID   string
	ChannelID string
	Channel   *Channel
	CreatedBy *User
}

// ChannelRenameEvent is published when a channel is renamed.
type ChannelRenameEvent struct {
	ShardID   string
	ChannelID string
	Channel   *Channel
	OldName   string
	NewName   string
	RenamedBy *User
}

// ChannelSeenEvent is published when a channel is marked read.
type ChannelSeenEvent struct {
	ShardID        string
	ChannelID      string
	ContentType    string
	TeamID         string
	ClearAllBadges bool
	ClientID       string
}

// TeamSectionSeenEvent is published when a team section is marked read.
type TeamSectionSeenEvent struct {
	ShardID  string
	ItemID   string
	TeamID   string
	ClientID string
}

// TypingEvent is published when a user starts typing.
type TypingEvent struct {
	ShardID   string
	UserID    string
	ChannelID string
}

// UserPingedEvent is published when the logged in user is pinged.
type UserPingedEvent struct {
	ShardID  string
	ClientID string
}

func (ReadyEvent) Type() EventType           { return EventReady }
func (DebugEvent) Type() EventType           { return EventDebug }
func (ConnectEvent) Type() EventType         { return EventConnect }
func (DisconnectEvent) Type() EventType      { return EventDisconnect }
func (ReconnectEvent) Type() EventType       { return EventReconnect }
func (ErrorEvent) Type() EventType           { return EventError }
func (RateLimitEvent) Type() EventType       { return EventRateLimit }
func (UnknownEvent) Type() EventType         { return EventUnknown }
func (MessageCreateEvent) Type() EventType   { return EventMessageCreate }
func (MessageUpdateEvent) Type() EventType   { return EventMessageUpdate }
func (MessageDeleteEvent) Type() EventType   { return EventMessageDelete }
func (ChannelCreateEvent) Type() EventType   { return EventChannelCreate }
func (ChannelRenameEvent) Type() EventType   { return EventChannelRename }
func (ChannelSeenEvent) Type() EventType     { return EventChannelSeen }
func (TeamSectionSeenEvent) Type() EventType { return EventTeamSectionSeen }
func (TypingEvent) Type() EventType          { return EventTyping }
func (UserPingedEvent) Type() EventType      { return EventUserPinged }
