package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordChannel posts to one Discord channel over the REST API. No gateway
// connection is opened.
type DiscordChannel struct {
	session *discordgo.Session
	channel string
	logger  *zap.Logger
}

// NewDiscordChannel creates a Discord poster for a bot token.
func NewDiscordChannel(botToken, channel string, logger *zap.Logger) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordChannel{session: session, channel: channel, logger: logger}, nil
}

func (d *DiscordChannel) Platform() string { return "discord" }

func (d *DiscordChannel) Post(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := d.session.ChannelMessageSend(d.channel, text)
	if err != nil {
		return fmt.Errorf("discord post to %s: %w", d.channel, err)
	}
	d.logger.Debug("discord message posted", zap.String("channel", d.channel), zap.String("id", msg.ID))
	return nil
}
