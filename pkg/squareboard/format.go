package squareboard

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/squares/pkg/platform"
	"github.com/cuemby/squares/pkg/types"
	"github.com/rs/zerolog"
)

// Embed colors per dominant color
const (
	embedGreen  = 0x2ecc71
	embedYellow = 0xf1c40f
	embedRed    = 0xe74c3c
)

// UserLookup resolves identities; nil with no error means the user is gone
type UserLookup interface {
	Get(ctx context.Context, userID string) (*platform.User, error)
}

// Formatter renders the mirror of a message
type Formatter struct {
	client platform.Client
	users  UserLookup
	logger zerolog.Logger
}

// NewFormatter creates a formatter
func NewFormatter(client platform.Client, users UserLookup, logger zerolog.Logger) *Formatter {
	return &Formatter{client: client, users: users, logger: logger}
}

// Format builds the embed for msg with its current tally
func (f *Formatter) Format(ctx context.Context, msg *types.CachedMessage, tally types.Tally) *platform.Embed {
	embed := &platform.Embed{
		Description: msg.OriginalContent,
		Color:       EmbedColor(tally.Dominant()),
		AuthorName:  msg.AuthorID,
	}

	author, err := f.users.Get(ctx, msg.AuthorID)
	if err != nil {
		f.logger.Warn().Err(err).Str("user_id", msg.AuthorID).Msg("Failed to resolve author")
	}
	if author != nil {
		embed.AuthorName = author.Name
		embed.AuthorIcon = author.AvatarURL
	}

	embed.Fields = append(embed.Fields, platform.EmbedField{Name: "Squares", Value: tally.String()})

	original, err := f.client.FetchMessage(ctx, msg.ChannelID, msg.ID)
	switch {
	case errors.Is(err, platform.ErrNotFound):
		embed.Fields = append(embed.Fields, platform.EmbedField{Name: "Original", Value: "[Deleted]"})
	case err != nil:
		f.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to fetch original message")
	default:
		if len(original.Attachments) > 0 {
			embed.Thumbnail = original.Attachments[0]
		}
		embed.Fields = append(embed.Fields, platform.EmbedField{
			Name:  "Original",
			Value: fmt.Sprintf("[Jump!](%s)", original.URL),
		})
	}

	return embed
}

// EmbedColor maps a color to its embed color
func EmbedColor(c types.Color) int {
	switch c {
	case types.ColorYellow:
		return embedYellow
	case types.ColorRed:
		return embedRed
	}
	return embedGreen
}
