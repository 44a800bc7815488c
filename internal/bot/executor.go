package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
)

// sessionExecutor applies moderation actions through the live session.
type sessionExecutor struct {
	session *discordgo.Session
}

func (e *sessionExecutor) DeleteMessage(_ context.Context, channelID, messageID string) error {
	return e.session.ChannelMessageDelete(channelID, messageID)
}

func (e *sessionExecutor) RemoveReaction(_ context.Context, channelID, messageID, userID, emoji string) error {
	return e.session.MessageReactionRemove(channelID, messageID, emoji, userID)
}

func (e *sessionExecutor) SendDM(_ context.Context, userID, message string) error {
	channel, err := e.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = e.session.ChannelMessageSend(channel.ID, message)
	return err
}

func (e *sessionExecutor) Timeout(_ context.Context, guildID, userID string, duration time.Duration, _ string) error {
	until := time.Now().Add(duration)
	return e.session.GuildMemberTimeout(guildID, userID, &until)
}

func (e *sessionExecutor) Kick(_ context.Context, guildID, userID, reason string) error {
	return e.session.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (e *sessionExecutor) Ban(_ context.Context, guildID, userID, reason string) error {
	return e.session.GuildBanCreateWithReason(guildID, userID, reason, 0)
}
