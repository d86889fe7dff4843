// Package fake provides an in-memory platform.Client for tests.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/squares/pkg/platform"
)

// Sent is a message posted through the client
type Sent struct {
	ChannelID string
	Embed     *platform.Embed
	Edits     int
}

// Client is an in-memory chat platform
type Client struct {
	mu       sync.Mutex
	self     string
	users    map[string]*platform.User
	messages map[string]*platform.Message
	reactors map[string]map[string][]string // message -> emoji -> user ids
	channels map[string]string              // name -> id
	sent     map[string]*Sent
	nextID   int

	// FetchErr, when set, is returned by FetchMessage and FetchReactors
	FetchErr error
	// Calls counts invocations per method name
	Calls map[string]int
}

// NewClient creates an empty platform running as selfID
func NewClient(selfID string) *Client {
	c := &Client{
		self:     selfID,
		users:    make(map[string]*platform.User),
		messages: make(map[string]*platform.Message),
		reactors: make(map[string]map[string][]string),
		channels: make(map[string]string),
		sent:     make(map[string]*Sent),
		Calls:    make(map[string]int),
	}
	c.users[selfID] = &platform.User{ID: selfID, Name: "squares", Bot: true}
	return c
}

// AddUser registers a user
func (c *Client) AddUser(u platform.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := u
	c.users[u.ID] = &cp
}

// RemoveUser deletes a user account
func (c *Client) RemoveUser(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, id)
}

// AddChannel registers a named channel
func (c *Client) AddChannel(name, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[name] = id
}

// AddMessage registers a message authored by authorID
func (c *Client) AddMessage(channelID, messageID, authorID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	author := platform.User{ID: authorID}
	if u, ok := c.users[authorID]; ok {
		author = *u
	}
	c.messages[messageID] = &platform.Message{
		ID:        messageID,
		ChannelID: channelID,
		Author:    author,
		Content:   content,
		URL:       fmt.Sprintf("https://chat.example/%s/%s", channelID, messageID),
	}
	c.reactors[messageID] = make(map[string][]string)
}

// RemoveMessage deletes a message
func (c *Client) RemoveMessage(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.messages, messageID)
	delete(c.reactors, messageID)
}

// React applies emoji by userID and returns the matching event
func (c *Client) React(messageID, emoji, userID string) platform.ReactionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	byEmoji := c.reactors[messageID]
	for _, id := range byEmoji[emoji] {
		if id == userID {
			return c.event(messageID, emoji, userID, true)
		}
	}
	byEmoji[emoji] = append(byEmoji[emoji], userID)
	return c.event(messageID, emoji, userID, true)
}

// Unreact removes emoji by userID and returns the matching event
func (c *Client) Unreact(messageID, emoji, userID string) platform.ReactionEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	byEmoji := c.reactors[messageID]
	ids := byEmoji[emoji]
	for i, id := range ids {
		if id == userID {
			byEmoji[emoji] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(byEmoji[emoji]) == 0 {
		delete(byEmoji, emoji)
	}
	return c.event(messageID, emoji, userID, false)
}

func (c *Client) event(messageID, emoji, userID string, added bool) platform.ReactionEvent {
	channelID := ""
	if m, ok := c.messages[messageID]; ok {
		channelID = m.ChannelID
	}
	return platform.ReactionEvent{MessageID: messageID, ChannelID: channelID, Emoji: emoji, UserID: userID, Added: added}
}

// Sent returns the live posts in a channel keyed by message id
func (c *Client) Sent(channelID string) map[string]*Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*Sent)
	for id, s := range c.sent {
		if s.ChannelID == channelID {
			cp := *s
			out[id] = &cp
		}
	}
	return out
}

// DropSent deletes a post out-of-band
func (c *Client) DropSent(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sent, messageID)
}

func (c *Client) SelfID() string {
	return c.self
}

func (c *Client) FetchMessage(_ context.Context, channelID, messageID string) (*platform.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["FetchMessage"]++
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}
	m, ok := c.messages[messageID]
	if !ok || m.ChannelID != channelID {
		return nil, fmt.Errorf("message %s: %w", messageID, platform.ErrNotFound)
	}
	cp := *m
	cp.Reactions = nil
	emojis := make([]string, 0, len(c.reactors[messageID]))
	for emoji := range c.reactors[messageID] {
		emojis = append(emojis, emoji)
	}
	sort.Strings(emojis)
	for _, emoji := range emojis {
		cp.Reactions = append(cp.Reactions, platform.MessageReaction{Emoji: emoji, Count: len(c.reactors[messageID][emoji])})
	}
	return &cp, nil
}

func (c *Client) FetchReactors(_ context.Context, _, messageID, emoji string) ([]platform.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["FetchReactors"]++
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}
	var out []platform.User
	for _, id := range c.reactors[messageID][emoji] {
		if u, ok := c.users[id]; ok {
			out = append(out, *u)
		} else {
			out = append(out, platform.User{ID: id})
		}
	}
	return out, nil
}

func (c *Client) FetchUser(_ context.Context, userID string) (*platform.User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["FetchUser"]++
	u, ok := c.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, platform.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (c *Client) FindChannel(_ context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["FindChannel"]++
	id, ok := c.channels[name]
	if !ok {
		return "", fmt.Errorf("channel %q: %w", name, platform.ErrNotFound)
	}
	return id, nil
}

func (c *Client) SendEmbed(_ context.Context, channelID string, embed *platform.Embed) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["SendEmbed"]++
	c.nextID++
	id := fmt.Sprintf("post-%d", c.nextID)
	c.sent[id] = &Sent{ChannelID: channelID, Embed: embed}
	return id, nil
}

func (c *Client) EditEmbed(_ context.Context, channelID, messageID string, embed *platform.Embed) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["EditEmbed"]++
	s, ok := c.sent[messageID]
	if !ok || s.ChannelID != channelID {
		return fmt.Errorf("message %s: %w", messageID, platform.ErrNotFound)
	}
	s.Embed = embed
	s.Edits++
	return nil
}

func (c *Client) DeleteMessage(_ context.Context, channelID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls["DeleteMessage"]++
	s, ok := c.sent[messageID]
	if !ok || s.ChannelID != channelID {
		return fmt.Errorf("message %s: %w", messageID, platform.ErrNotFound)
	}
	delete(c.sent, messageID)
	return nil
}

// CallCount returns how many times a method was invoked
func (c *Client) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls[method]
}
