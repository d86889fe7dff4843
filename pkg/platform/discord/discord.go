// Package discord implements platform.Client on top of discordgo.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/cuemby/squares/pkg/log"
	"github.com/cuemby/squares/pkg/platform"
	"github.com/rs/zerolog"
)

// reactorPageSize is the maximum page size of the reactions endpoint
const reactorPageSize = 100

// Client is a Discord bot session
type Client struct {
	session *discordgo.Session
	logger  zerolog.Logger
}

// New creates a session for a bot token. Call Open to connect.
func New(token string) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildMessageReactions |
		discordgo.IntentMessageContent

	return &Client{
		session: s,
		logger:  log.WithComponent("discord"),
	}, nil
}

// Open connects the gateway
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord gateway: %w", err)
	}
	c.logger.Info().Str("self_id", c.SelfID()).Msg("Connected to discord")
	return nil
}

// Close disconnects the gateway
func (c *Client) Close() error {
	return c.session.Close()
}

// OnReaction registers handler for reaction add and remove events. Each
// event is delivered on its own goroutine.
func (c *Client) OnReaction(handler func(platform.ReactionEvent)) {
	c.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		handler(toEvent(r.MessageReaction, true))
	})
	c.session.AddHandler(func(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
		handler(toEvent(r.MessageReaction, false))
	})
}

// Ping reports whether the gateway has completed its handshake
func (c *Client) Ping(_ context.Context) error {
	if !c.session.DataReady {
		return errors.New("discord gateway not ready")
	}
	return nil
}

func toEvent(r *discordgo.MessageReaction, added bool) platform.ReactionEvent {
	return platform.ReactionEvent{
		MessageID: r.MessageID,
		ChannelID: r.ChannelID,
		Emoji:     r.Emoji.Name,
		UserID:    r.UserID,
		Added:     added,
	}
}

func (c *Client) SelfID() string {
	if c.session.State == nil || c.session.State.User == nil {
		return ""
	}
	return c.session.State.User.ID
}

func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (*platform.Message, error) {
	m, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err, "fetch message %s", messageID)
	}

	guildID := m.GuildID
	if guildID == "" {
		if ch, err := c.session.State.Channel(channelID); err == nil {
			guildID = ch.GuildID
		}
	}
	return toMessage(m, guildID), nil
}

func toMessage(m *discordgo.Message, guildID string) *platform.Message {
	msg := &platform.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		URL:       fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, m.ChannelID, m.ID),
	}
	if m.Author != nil {
		msg.Author = toUser(m.Author)
	}
	for _, r := range m.Reactions {
		if r.Emoji == nil || r.Emoji.ID != "" {
			// Custom emoji never map to a color
			continue
		}
		msg.Reactions = append(msg.Reactions, platform.MessageReaction{Emoji: r.Emoji.Name, Count: r.Count})
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, a.URL)
	}
	return msg
}

func toUser(u *discordgo.User) platform.User {
	return platform.User{
		ID:        u.ID,
		Name:      u.Username,
		AvatarURL: u.AvatarURL(""),
		Bot:       u.Bot,
	}
}

// FetchReactors pages through the reactions endpoint until it is exhausted
func (c *Client) FetchReactors(ctx context.Context, channelID, messageID, emoji string) ([]platform.User, error) {
	var out []platform.User
	after := ""
	for {
		page, err := c.session.MessageReactions(channelID, messageID, emoji, reactorPageSize, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, wrap(err, "fetch %s reactors on %s", emoji, messageID)
		}
		for _, u := range page {
			out = append(out, toUser(u))
		}
		if len(page) < reactorPageSize {
			return out, nil
		}
		after = page[len(page)-1].ID
	}
}

func (c *Client) FetchUser(ctx context.Context, userID string) (*platform.User, error) {
	u, err := c.session.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, wrap(err, "fetch user %s", userID)
	}
	user := toUser(u)
	return &user, nil
}

// FindChannel returns the first guild text channel called name
func (c *Client) FindChannel(ctx context.Context, name string) (string, error) {
	for _, g := range c.session.State.Guilds {
		channels, err := c.session.GuildChannels(g.ID, discordgo.WithContext(ctx))
		if err != nil {
			return "", wrap(err, "list channels of guild %s", g.ID)
		}
		for _, ch := range channels {
			if ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
				return ch.ID, nil
			}
		}
	}
	return "", fmt.Errorf("channel %q: %w", name, platform.ErrNotFound)
}

func (c *Client) SendEmbed(ctx context.Context, channelID string, embed *platform.Embed) (string, error) {
	m, err := c.session.ChannelMessageSendEmbed(channelID, toMessageEmbed(embed), discordgo.WithContext(ctx))
	if err != nil {
		return "", wrap(err, "send to channel %s", channelID)
	}
	return m.ID, nil
}

func (c *Client) EditEmbed(ctx context.Context, channelID, messageID string, embed *platform.Embed) error {
	if _, err := c.session.ChannelMessageEditEmbed(channelID, messageID, toMessageEmbed(embed), discordgo.WithContext(ctx)); err != nil {
		return wrap(err, "edit message %s", messageID)
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return wrap(err, "delete message %s", messageID)
	}
	return nil
}

func toMessageEmbed(e *platform.Embed) *discordgo.MessageEmbed {
	me := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.AuthorName != "" {
		me.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, IconURL: e.AuthorIcon}
	}
	if e.Thumbnail != "" {
		me.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	for _, f := range e.Fields {
		me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return me
}

// wrap maps HTTP 404 responses onto platform.ErrNotFound
func wrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", msg, platform.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
