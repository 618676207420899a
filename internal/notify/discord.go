package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo methods we use, enabling test
// mocks.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts notifications to one Discord channel via the REST API; no
// gateway connection is opened.
type Discord struct {
	sess      discordSession
	channelID string
}

// DiscordOpts holds parameters for creating a Discord adapter.
type DiscordOpts struct {
	BotToken  string // bot token without the "Bot " prefix
	ChannelID string // channel to post to
	// For testing: inject a mock session instead of the real API.
	Session discordSession
}

// NewDiscord creates a Discord adapter.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("notify: discord channel id is required")
	}
	sess := opts.Session
	if sess == nil {
		if opts.BotToken == "" {
			return nil, fmt.Errorf("notify: discord bot token is required")
		}
		real, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("notify: discord session: %w", err)
		}
		sess = real
	}
	return &Discord{sess: sess, channelID: opts.ChannelID}, nil
}

// Name implements Adapter.
func (d *Discord) Name() string { return "discord" }

// Send implements Adapter.
func (d *Discord) Send(ctx context.Context, text string) error {
	_, err := d.sess.ChannelMessageSend(d.channelID, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("notify: discord post: %w", err)
	}
	return nil
}
