// Package bot is the Discord surface: it turns gateway events into
// content events for the automod pipeline and exposes the staff slash
// commands. Everything moderation-related lives below it; this layer
// only translates.
package bot

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"heimdall/internal/audit"
	"heimdall/internal/automod"
	"heimdall/internal/config"
	"heimdall/internal/infractions"
	"heimdall/internal/rulestore"
	"heimdall/internal/storage"
)

type Bot struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *storage.Store
	rules   *rulestore.Store
	ledger  *infractions.Ledger
	automod *automod.Service
	audit   *audit.Logger
	session *discordgo.Session
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, ruleStore *rulestore.Store, ledger *infractions.Ledger, service *automod.Service, auditLogger *audit.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		rules:   ruleStore,
		ledger:  ledger,
		automod: service,
		audit:   auditLogger,
		session: session,
	}

	service.SetExecutor(&sessionExecutor{session: session})
	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageReactionAdd)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberUpdate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

// notifyAudit mirrors audit entries into the guild's log channel.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	channelID := b.logChannel(ctx, entry.GuildID)
	if channelID == "" {
		return
	}
	_, _ = b.session.ChannelMessageSend(channelID,
		"["+entry.Level+"] "+entry.Event+": "+entry.Details)
}

func (b *Bot) logChannel(ctx context.Context, guildID string) string {
	settings, err := b.store.GetGuildSettings(ctx, guildID, b.defaultSettings(guildID))
	if err != nil {
		return b.cfg.DefaultLogChannel
	}
	if settings.LogChannel != "" {
		return settings.LogChannel
	}
	return b.cfg.DefaultLogChannel
}

func (b *Bot) defaultSettings(guildID string) storage.GuildSettings {
	return DefaultSettings(b.cfg, guildID)
}

// DefaultSettings maps process configuration onto the per-guild settings
// used when a guild never saved its own.
func DefaultSettings(cfg config.Config, guildID string) storage.GuildSettings {
	tiers := make([]storage.TierRow, 0, len(cfg.Automod.Tiers))
	for _, tier := range cfg.Automod.Tiers {
		tiers = append(tiers, storage.TierRow{
			Threshold:      tier.Threshold,
			Actions:        tier.Actions,
			TimeoutSeconds: tier.TimeoutMinutes * 60,
		})
	}
	return storage.GuildSettings{
		GuildID:           guildID,
		LogChannel:        cfg.DefaultLogChannel,
		Mode:              cfg.Mode,
		PointDecayEnabled: cfg.Automod.PointDecayEnabled,
		PointDecayDays:    cfg.Automod.PointDecayDays,
		EscalationRearm:   cfg.Automod.EscalationRearm,
		EscalationTiers:   tiers,
	}
}
