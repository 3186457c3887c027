package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackChannel posts to one Slack channel with a bot token.
type SlackChannel struct {
	client  *slack.Client
	channel string
	logger  *zap.Logger
}

// NewSlackChannel creates a Slack poster. apiURL overrides the Slack Web
// API base URL and may be empty.
func NewSlackChannel(botToken, channel, apiURL string, logger *zap.Logger) *SlackChannel {
	var opts []slack.Option
	if apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(apiURL))
	}
	return &SlackChannel{
		client:  slack.New(botToken, opts...),
		channel: channel,
		logger:  logger,
	}
}

func (s *SlackChannel) Platform() string { return "slack" }

func (s *SlackChannel) Post(ctx context.Context, text string) error {
	_, ts, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post to %s: %w", s.channel, err)
	}
	s.logger.Debug("slack message posted", zap.String("channel", s.channel), zap.String("ts", ts))
	return nil
}
