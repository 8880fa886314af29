package platform

import (
	"context"
	"errors"
	"sync"
)

// ErrNoConnector indicates no live connection can answer for the bot, or
// the platform lacks the requested lookup.
var ErrNoConnector = errors.New("no connector for bot")

// User is a platform user profile.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Connector is the embedding process's handle to one live bot connection.
// Implementations expose extra lookups through the optional interfaces
// below; the pipeline type-asserts and degrades gracefully when a platform
// cannot answer.
type Connector interface {
	Platform() string
}

// ChannelNamer resolves a channel's display name.
type ChannelNamer interface {
	ChannelName(ctx context.Context, channelID string) (string, error)
}

// GuildNamer resolves a guild's display name.
type GuildNamer interface {
	GuildName(ctx context.Context, guildID string) (string, error)
}

// UserLookup resolves a user profile.
type UserLookup interface {
	User(ctx context.Context, userID string) (User, error)
}

// Registry tracks the live connector per bot self id.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{conns: map[string]Connector{}}
}

func (r *Registry) Register(selfID string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[selfID] = c
}

func (r *Registry) Unregister(selfID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, selfID)
}

func (r *Registry) Get(selfID string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[selfID]
	return c, ok
}
