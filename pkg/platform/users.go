package platform

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/squares/pkg/log"
	"github.com/rs/zerolog"
)

// UserCache memoises user lookups. A NotFound result is cached as nil so a
// deleted account is only looked up once.
type UserCache struct {
	client Client
	mu     sync.RWMutex
	users  map[string]*User
	logger zerolog.Logger
}

// NewUserCache creates a cache over client
func NewUserCache(client Client) *UserCache {
	return &UserCache{
		client: client,
		users:  make(map[string]*User),
		logger: log.WithComponent("users"),
	}
}

// Get returns the user, nil if it does not exist, or an error for any
// failure other than NotFound. Errors are not cached.
func (c *UserCache) Get(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, nil
	}

	c.mu.RLock()
	user, ok := c.users[userID]
	c.mu.RUnlock()
	if ok {
		return user, nil
	}

	user, err := c.client.FetchUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		c.logger.Debug().Str("user_id", userID).Msg("User not found")
		user = nil
	}

	c.mu.Lock()
	c.users[userID] = user
	c.mu.Unlock()
	return user, nil
}

// Name returns the display name of a user, falling back to the id
func (c *UserCache) Name(ctx context.Context, userID string) string {
	user, err := c.Get(ctx, userID)
	if err != nil || user == nil {
		return userID
	}
	return user.Name
}

// Len returns the number of cached lookups, including misses
func (c *UserCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}
