// Copyright 2024-2026 Aiku AI

package guilded

import (
	"context"
	"fmt"
	"net/url"
	"sort"
)

// TeamManager fetches teams and their channels, groups, roles and emojis.
type TeamManager struct {
	c *Client
}

// Get returns a team. Unless force is set a cached copy is returned when
// present.
func (m *TeamManager) Get(ctx context.Context, id string, force bool) (Team, error) {
	if !force {
		if t, ok := m.c.Cache.Teams.Get(id); ok {
			return t, nil
		}
	}
	var resp struct {
		Team Team `json:"team"`
	}
	if err := m.c.api.Get(ctx, "/teams/"+url.PathEscape(id), &resp); err != nil {
		return Team{}, notFoundOr(err, "team", id)
	}
	if resp.Team.ID == "" {
		return Team{}, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	if m.c.cfg.Cache.Teams {
		m.c.Cache.putTeam(resp.Team, m.c.cfg.Cache.Roles)
	}
	return resp.Team, nil
}

// Cached returns a team from the cache only.
func (m *TeamManager) Cached(id string) (Team, bool) {
	return m.c.Cache.Teams.Get(id)
}

// Channels fetches every channel of a team.
func (m *TeamManager) Channels(ctx context.Context, teamID string) ([]Channel, error) {
	var resp struct {
		Channels []Channel `json:"channels"`
	}
	if err := m.c.api.Get(ctx, "/teams/"+url.PathEscape(teamID)+"/channels", &resp); err != nil {
		return nil, notFoundOr(err, "team channels", teamID)
	}
	for i := range resp.Channels {
		if resp.Channels[i].TeamID == "" {
			resp.Channels[i].TeamID = teamID
		}
		if m.c.cfg.Cache.Channels {
			m.c.Cache.Channels.Set(resp.Channels[i].ID, resp.Channels[i])
		}
	}
	return resp.Channels, nil
}

// Groups fetches the groups of a team.
func (m *TeamManager) Groups(ctx context.Context, teamID string) ([]Group, error) {
	var resp struct {
		Groups []Group `json:"groups"`
	}
	if err := m.c.api.Get(ctx, "/teams/"+url.PathEscape(teamID)+"/groups", &resp); err != nil {
		return nil, notFoundOr(err, "team groups", teamID)
	}
	if m.c.cfg.Cache.Groups {
		for _, g := range resp.Groups {
			m.c.Cache.Groups.Set(g.ID, g)
		}
	}
	return resp.Groups, nil
}

// Emojis fetches the custom reactions of a team.
func (m *TeamManager) Emojis(ctx context.Context, teamID string) ([]Emoji, error) {
	var emojis []Emoji
	if err := m.c.api.Get(ctx, "/teams/"+url.PathEscape(teamID)+"/customReactions", &emojis); err != nil {
		return nil, notFoundOr(err, "team emojis", teamID)
	}
	if m.c.cfg.Cache.Emojis {
		for _, e := range emojis {
			m.c.Cache.Emojis.Set(e.Key(), e)
		}
	}
	return emojis, nil
}

// Roles returns the cached roles of a team ordered by priority, highest
// first.
func (m *TeamManager) Roles(teamID string) []Role {
	roles := m.c.Cache.Roles.Filter(func(_ string, r Role) bool { return r.TeamID == teamID })
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Priority != roles[j].Priority {
			return roles[i].Priority > roles[j].Priority
		}
		return roles[i].ID < roles[j].ID
	})
	return roles
}
