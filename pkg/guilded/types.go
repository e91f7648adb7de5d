// Copyright 2024-2026 Aiku AI

package guilded

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FlexID is an id the API sends as either a string or a number.
type FlexID string

func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*id = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("id is neither string nor number: %w", err)
		}
		*id = FlexID(n.String())
	}
	return nil
}

// AboutInfo is the profile blurb of a user.
type AboutInfo struct {
	Bio     string `json:"bio"`
	Tagline string `json:"tagline"`
}

// User is a Guilded account.
type User struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Subdomain         string     `json:"subdomain,omitempty"`
	Email             string     `json:"email,omitempty"`
	ProfilePicture    string     `json:"profilePicture,omitempty"`
	ProfileBannerBlur string     `json:"profileBannerBlur,omitempty"`
	AboutInfo         *AboutInfo `json:"aboutInfo,omitempty"`
	ModerationStatus  string     `json:"moderationStatus,omitempty"`
	JoinDate          *time.Time `json:"joinDate,omitempty"`
	LastOnline        *time.Time `json:"lastOnline,omitempty"`
}

// Friend is an entry of the logged in user's friend list.
type Friend struct {
	UserID    string     `json:"friendUserId"`
	Status    string     `json:"friendStatus"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Role is a team role. Roles arrive keyed by id inside a team.
type Role struct {
	ID            int            `json:"id"`
	Name          string         `json:"name"`
	Color         string         `json:"color,omitempty"`
	Priority      int            `json:"priority"`
	TeamID        string         `json:"teamId"`
	IsBase        bool           `json:"isBase"`
	IsMentionable bool           `json:"isMentionable"`
	Permissions   map[string]int `json:"permissions,omitempty"`
	CreatedAt     *time.Time     `json:"createdAt,omitempty"`
	UpdatedAt     *time.Time     `json:"updatedAt,omitempty"`
}

// Key is the cache key of the role.
func (r Role) Key() string {
	return strconv.Itoa(r.ID)
}

// Team is a Guilded server.
type Team struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Subdomain      string          `json:"subdomain,omitempty"`
	OwnerID        string          `json:"ownerId"`
	ProfilePicture string          `json:"profilePicture,omitempty"`
	TeamDashImage  string          `json:"teamDashImage,omitempty"`
	Timezone       string          `json:"timezone,omitempty"`
	Description    string          `json:"description,omitempty"`
	IsPublic       bool            `json:"isPublic"`
	IsVerified     bool            `json:"isVerified"`
	MembershipRole string          `json:"membershipRole,omitempty"`
	RolesByID      map[string]Role `json:"rolesById,omitempty"`
	CreatedAt      *time.Time      `json:"createdAt,omitempty"`
}

// Channel is a team or DM channel.
type Channel struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	ContentType string     `json:"contentType"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	TeamID      string     `json:"teamId,omitempty"`
	GroupID     string     `json:"groupId,omitempty"`
	CategoryID  FlexID     `json:"channelCategoryId,omitempty"`
	ParentID    string     `json:"parentChannelId,omitempty"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	Priority    int        `json:"priority"`
	IsPublic    bool       `json:"isPublic"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	ArchivedAt  *time.Time `json:"archivedAt,omitempty"`
}

// Channel types.
const (
	ChannelTypeTeam = "Team"
	ChannelTypeDM   = "DM"
)

// Group is a group inside a team.
type Group struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Priority    int        `json:"priority"`
	Type        string     `json:"type,omitempty"`
	TeamID      string     `json:"teamId"`
	IsBase      bool       `json:"isBase"`
	IsPublic    bool       `json:"isPublic"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// Emoji is a team custom reaction.
type Emoji struct {
	ID        int        `json:"id"`
	Name      string     `json:"name"`
	PNG       string     `json:"png,omitempty"`
	WebP      string     `json:"webp,omitempty"`
	APNG      string     `json:"apng,omitempty"`
	TeamID    string     `json:"teamId"`
	CreatedBy string     `json:"createdBy,omitempty"`
	IsDeleted bool       `json:"isDeleted"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Key is the cache key of the emoji.
func (e Emoji) Key() string {
	return strconv.Itoa(e.ID)
}

// CustomReaction is the emoji referenced from message content and
// reactions.
type CustomReaction struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	PNG  string `json:"png,omitempty"`
	WebP string `json:"webp,omitempty"`
	APNG string `json:"apng,omitempty"`
}

// ReactionUser is one reactor of a Reaction.
type ReactionUser struct {
	ID        string `json:"id,omitempty"`
	WebhookID string `json:"webhookId,omitempty"`
	BotID     string `json:"botId,omitempty"`
}

// Reaction is the aggregate of one emoji on a message.
type Reaction struct {
	CustomReactionID int             `json:"customReactionId"`
	CreatedAt        *time.Time      `json:"createdAt,omitempty"`
	Users            []ReactionUser  `json:"users,omitempty"`
	CustomReaction   *CustomReaction `json:"customReaction,omitempty"`
}

// Mention is an inline mention inside message content.
type Mention struct {
	ID          FlexID `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Color       string `json:"color,omitempty"`
	Matcher     string `json:"matcher,omitempty"`
	Description string `json:"description,omitempty"`
	Nickname    bool   `json:"nickname,omitempty"`
}

// Message types.
const (
	MessageTypeDefault = "default"
	MessageTypeSystem  = "system"
)

// Message is a chat message. Text, Mentions, Emojis and Embeds are
// derived from Content when the message is built.
type Message struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	ChannelID string     `json:"channelId"`
	TeamID    string     `json:"teamId,omitempty"`
	CreatedBy string     `json:"createdBy"`
	WebhookID string     `json:"webhookId,omitempty"`
	BotID     string     `json:"botId,omitempty"`
	RepliesTo []string   `json:"repliesToIds,omitempty"`
	IsPinned  bool       `json:"isPinned"`
	PinnedBy  string     `json:"pinnedBy,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
	Content   Content    `json:"content"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	Text     string            `json:"-"`
	Mentions []Mention         `json:"-"`
	Emojis   []CustomReaction  `json:"-"`
	Embeds   []json.RawMessage `json:"-"`
}

// parseMessage decodes raw and fills the content derived fields. Non-empty
// channelID and teamID override what the payload carries.
func parseMessage(raw json.RawMessage, channelID, teamID string) (Message, error) {
	var msg Message
	if len(raw) == 0 {
		return msg, fmt.Errorf("%w: missing message", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return msg, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if msg.ID == "" {
		return msg, fmt.Errorf("%w: message without id", ErrMalformedPayload)
	}
	if channelID != "" {
		msg.ChannelID = channelID
	}
	if teamID != "" {
		msg.TeamID = teamID
	}
	msg.applyContent()
	return msg, nil
}

func (m *Message) applyContent() {
	parsed := ParseContent(m.Content)
	m.Text = parsed.Text
	m.Mentions = parsed.Mentions
	m.Emojis = parsed.Emojis
	m.Embeds = parsed.Embeds
}

// Webhook is a channel webhook. Token is only present when the webhook was
// just created.
type Webhook struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	ChannelID string     `json:"channelId"`
	TeamID    string     `json:"teamId"`
	IconURL   string     `json:"iconUrl,omitempty"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	Token     string     `json:"token,omitempty"`
}

// ClientUser is the logged in account with its friend list.
type ClientUser struct {
	User
	Friends []Friend
	Teams   []Team
}
