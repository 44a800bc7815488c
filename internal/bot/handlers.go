package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"heimdall/internal/rules"
)

// onMessageCreate runs every text-bearing target against one message.
// Evaluation stops at the first target that produces an outcome: once a
// rule deleted the message there is nothing left to inspect.
func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}
	ctx := context.Background()

	var roles []string
	if msg.Member != nil {
		roles = msg.Member.Roles
	}
	base := rules.ContentEvent{
		GuildID:     msg.GuildID,
		ChannelID:   msg.ChannelID,
		MessageID:   msg.ID,
		AuthorID:    msg.Author.ID,
		AuthorRoles: roles,
		Text:        msg.Content,
	}

	var stickers []string
	for _, sticker := range msg.StickerItems {
		if sticker != nil {
			stickers = append(stickers, sticker.Name)
		}
	}

	events := []rules.ContentEvent{
		withType(base, rules.TargetMessageContent),
		withType(base, rules.TargetLink),
		withType(base, rules.TargetMessageEmoji),
	}
	if len(stickers) > 0 {
		sticker := withType(base, rules.TargetSticker)
		sticker.StickerNames = stickers
		events = append(events, sticker)
	}

	for _, event := range events {
		if b.process(ctx, event) {
			return
		}
	}
}

func (b *Bot) onMessageReactionAdd(session *discordgo.Session, reaction *discordgo.MessageReactionAdd) {
	if reaction.GuildID == "" || reaction.UserID == "" {
		return
	}
	if reaction.Member != nil && reaction.Member.User != nil && reaction.Member.User.Bot {
		return
	}

	tokens := []string{reaction.Emoji.Name}
	if reaction.Emoji.ID != "" {
		tokens = append(tokens, reaction.Emoji.MessageFormat())
	}
	var roles []string
	if reaction.Member != nil {
		roles = reaction.Member.Roles
	}

	b.process(context.Background(), rules.ContentEvent{
		Type:        rules.TargetReactionEmoji,
		GuildID:     reaction.GuildID,
		ChannelID:   reaction.ChannelID,
		MessageID:   reaction.MessageID,
		AuthorID:    reaction.UserID,
		AuthorRoles: roles,
		EmojiTokens: tokens,
		Emoji:       reaction.Emoji.APIName(),
	})
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.GuildID == "" || event.User == nil || event.User.Bot {
		return
	}
	b.process(context.Background(), rules.ContentEvent{
		Type:        rules.TargetUsername,
		GuildID:     event.GuildID,
		AuthorID:    event.User.ID,
		AuthorRoles: event.Roles,
		Text:        event.User.Username,
	})
}

func (b *Bot) onGuildMemberUpdate(session *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event.GuildID == "" || event.User == nil || event.User.Bot {
		return
	}
	ctx := context.Background()

	if event.Nick != "" {
		nick := rules.ContentEvent{
			Type:        rules.TargetNickname,
			GuildID:     event.GuildID,
			AuthorID:    event.User.ID,
			AuthorRoles: event.Roles,
			Text:        event.Nick,
		}
		if b.process(ctx, nick) {
			return
		}
	}

	b.process(ctx, rules.ContentEvent{
		Type:        rules.TargetUsername,
		GuildID:     event.GuildID,
		AuthorID:    event.User.ID,
		AuthorRoles: event.Roles,
		Text:        event.User.Username,
	})
}

func (b *Bot) process(ctx context.Context, event rules.ContentEvent) bool {
	outcome, err := b.automod.Process(ctx, event)
	if err != nil {
		b.logger.Error("automod pipeline error",
			zap.String("guild_id", event.GuildID),
			zap.String("target", string(event.Type)),
			zap.Error(err))
	}
	return outcome != nil
}

func withType(event rules.ContentEvent, target rules.Target) rules.ContentEvent {
	event.Type = target
	return event
}
