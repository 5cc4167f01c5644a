package channel

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/bowerhall/nudge/internal/logger"
)

const DiscordName = "discord"

type discordAPI interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts to the channel id stored on the user's profile. It uses the
// REST API only, so no gateway session is opened.
type Discord struct {
	api        discordAPI
	recipients Recipients
}

func NewDiscord(token string, recipients Recipients) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &Discord{api: session, recipients: recipients}, nil
}

func (d *Discord) Name() string { return DiscordName }

func (d *Discord) channelID(ctx context.Context, userID string) (string, error) {
	p, err := d.recipients.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if p.DiscordChannelID == "" {
		return "", fmt.Errorf("%w: discord channel for %s", ErrNoRecipient, userID)
	}
	return p.DiscordChannelID, nil
}

func (d *Discord) CheckAvailable(ctx context.Context, userID string) bool {
	_, err := d.channelID(ctx, userID)
	return err == nil
}

func (d *Discord) Send(ctx context.Context, userID string, msg Message) (string, error) {
	channelID, err := d.channelID(ctx, userID)
	if err != nil {
		return "", err
	}

	sent, err := d.api.ChannelMessageSend(channelID, msg.Content, discordgo.WithContext(ctx))
	if err != nil {
		logger.Error("discord send failed", "error", err, "channelID", channelID)
		return "", err
	}
	logger.Debug("discord message sent", "channelID", channelID, "chars", len(msg.Content))
	return sent.ID, nil
}
