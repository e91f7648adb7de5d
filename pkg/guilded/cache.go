// Copyright 2024-2026 Aiku AI

package guilded

import (
	"sync"

	"github.com/aiku/go-guilded/pkg/cache"
)

// Cache holds one bounded collection per entity kind. Channel message
// history is kept per channel next to the global Messages collection.
type Cache struct {
	Users    *cache.Collection[string, User]
	Teams    *cache.Collection[string, Team]
	Channels *cache.Collection[string, Channel]
	Messages *cache.Collection[string, Message]
	Roles    *cache.Collection[string, Role]
	Friends  *cache.Collection[string, Friend]
	Groups   *cache.Collection[string, Group]
	Emojis   *cache.Collection[string, Emoji]

	maxSize int

	mu       sync.Mutex
	channels map[string]*cache.Collection[string, Message]
}

// NewCache returns empty collections bounded by maxSize. Zero means
// unbounded.
func NewCache(maxSize int) *Cache {
	return &Cache{
		Users:    cache.New[string, User](maxSize),
		Teams:    cache.New[string, Team](maxSize),
		Channels: cache.New[string, Channel](maxSize),
		Messages: cache.New[string, Message](maxSize),
		Roles:    cache.New[string, Role](maxSize),
		Friends:  cache.New[string, Friend](maxSize),
		Groups:   cache.New[string, Group](maxSize),
		Emojis:   cache.New[string, Emoji](maxSize),
		maxSize:  maxSize,
		channels: make(map[string]*cache.Collection[string, Message]),
	}
}

// ChannelMessages returns the message history of a cached channel. It
// returns nil when the channel itself is not cached.
func (c *Cache) ChannelMessages(channelID string) *cache.Collection[string, Message] {
	if !c.Channels.Has(channelID) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.channels[channelID]
	if !ok {
		msgs = cache.New[string, Message](c.maxSize)
		c.channels[channelID] = msgs
	}
	return msgs
}

// RemoveChannel drops a channel together with its message history.
func (c *Cache) RemoveChannel(channelID string) {
	c.Channels.Delete(channelID)
	c.mu.Lock()
	delete(c.channels, channelID)
	c.mu.Unlock()
}

// putMessage stores msg globally and in its channel history when the
// channel is cached.
func (c *Cache) putMessage(msg Message) {
	c.Messages.Set(msg.ID, msg)
	if msgs := c.ChannelMessages(msg.ChannelID); msgs != nil {
		msgs.Set(msg.ID, msg)
	}
}

// takeMessage removes a message from both places and returns it.
func (c *Cache) takeMessage(channelID, id string) (Message, bool) {
	msg, found := c.Messages.Take(id)
	if msgs := c.ChannelMessages(channelID); msgs != nil {
		if m, ok := msgs.Take(id); ok {
			msg, found = m, true
		}
	}
	return msg, found
}

// updateMessage applies fn to a cached message in its channel history or,
// when the channel is not cached, in the global collection. It returns the
// updated and previous snapshots.
func (c *Cache) updateMessage(channelID, id string, fn func(*Message)) (updated, old Message, found bool) {
	capture := func(m *Message) {
		old = *m
		fn(m)
	}
	if msgs := c.ChannelMessages(channelID); msgs != nil {
		if updated, found = msgs.Update(id, capture); found {
			c.Messages.Set(id, updated)
			return updated, old, true
		}
	}
	updated, found = c.Messages.Update(id, capture)
	return updated, old, found
}

// putTeam stores a team and, when withRoles is set, each of its roles.
func (c *Cache) putTeam(team Team, withRoles bool) {
	c.Teams.Set(team.ID, team)
	if !withRoles {
		return
	}
	for _, role := range team.RolesByID {
		if role.TeamID == "" {
			role.TeamID = team.ID
		}
		c.Roles.Set(role.Key(), role)
	}
}

// Clear empties every collection.
func (c *Cache) Clear() {
	c.Users.Clear()
	c.Teams.Clear()
	c.Channels.Clear()
	c.Messages.Clear()
	c.Roles.Clear()
	c.Friends.Clear()
	c.Groups.Clear()
	c.Emojis.Clear()
	c.mu.Lock()
	clear(c.channels)
	c.mu.Unlock()
}
