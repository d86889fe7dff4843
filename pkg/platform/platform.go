// Package platform abstracts the chat service squares runs against. The
// discord subpackage talks to Discord; fake is an in-memory stand-in for
// tests.
package platform

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a message, user or channel is deleted or
// not accessible
var ErrNotFound = errors.New("not found")

// User is a chat platform identity
type User struct {
	ID        string
	Name      string
	AvatarURL string
	Bot       bool
}

// MessageReaction is one emoji present on a message
type MessageReaction struct {
	Emoji string
	Count int
}

// Message is a fetched chat message
type Message struct {
	ID          string
	ChannelID   string
	Author      User
	Content     string
	Reactions   []MessageReaction
	Attachments []string // URLs
	URL         string   // Jump link
}

// HasReaction reports whether the emoji is present on the message
func (m *Message) HasReaction(emoji string) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.Count > 0 {
			return true
		}
	}
	return false
}

// EmbedField is a titled section of an embed
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a rich message body
type Embed struct {
	Title       string
	Description string
	Color       int
	AuthorName  string
	AuthorIcon  string
	Thumbnail   string
	Fields      []EmbedField
}

// ReactionEvent is a reaction added or removed notification
type ReactionEvent struct {
	MessageID string
	ChannelID string
	Emoji     string
	UserID    string
	Added     bool
}

// Client is the subset of the chat platform the service depends on.
// Lookups of missing objects return an error wrapping ErrNotFound.
type Client interface {
	// SelfID is the identity the service runs as
	SelfID() string

	FetchMessage(ctx context.Context, channelID, messageID string) (*Message, error)
	// FetchReactors returns every user currently reacting with emoji
	FetchReactors(ctx context.Context, channelID, messageID, emoji string) ([]User, error)
	FetchUser(ctx context.Context, userID string) (*User, error)

	// FindChannel resolves a text channel by name
	FindChannel(ctx context.Context, name string) (string, error)
	SendEmbed(ctx context.Context, channelID string, embed *Embed) (string, error)
	EditEmbed(ctx context.Context, channelID, messageID string, embed *Embed) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}
