// Copyright 2024-2026 Aiku AI

package guilded

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aiku/go-guilded/pkg/rest"
)

// UserManager fetches users and reads the user cache.
type UserManager struct {
	c *Client
}

// Get returns a user. Unless force is set a cached copy is returned when
// present. Fetched users are cached when user caching is on.
func (m *UserManager) Get(ctx context.Context, id string, force bool) (User, error) {
	if !force {
		if u, ok := m.c.Cache.Users.Get(id); ok {
			return u, nil
		}
	}
	var resp struct {
		User User `json:"user"`
	}
	if err := m.c.api.Get(ctx, "/users/"+url.PathEscape(id), &resp); err != nil {
		return User{}, notFoundOr(err, "user", id)
	}
	if resp.User.ID == "" {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if m.c.cfg.Cache.Users {
		m.c.Cache.Users.Set(resp.User.ID, resp.User)
	}
	return resp.User, nil
}

// Cached returns a user from the cache only.
func (m *UserManager) Cached(id string) (User, bool) {
	return m.c.Cache.Users.Get(id)
}

// Friends returns the cached friend list of the logged in user.
func (m *UserManager) Friends() []Friend {
	return m.c.Cache.Friends.Values()
}

// notFoundOr maps a 404 onto ErrNotFound and wraps anything else.
func notFoundOr(err error, kind, id string) error {
	if rest.IsNotFound(err) {
		return fmt.Errorf("%s %s: %w: %w", kind, id, ErrNotFound, err)
	}
	return fmt.Errorf("failed to fetch %s %s: %w", kind, id, err)
}
