package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"heimdall/internal/audit"
	"heimdall/internal/infractions"
	"heimdall/internal/storage"
	"heimdall/internal/wildcard"
)

func (b *Bot) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "warn",
			Description: "Warn a user and assign infraction points",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "user to warn", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "reason for the warning", Required: true},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "points", Description: "points to assign (default 1)", Required: false},
			},
		},
		{
			Name:        "infractions",
			Description: "Show a user's infraction history",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "user to inspect", Required: true},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "page", Description: "page number", Required: false},
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "source", Description: "filter by source", Required: false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "automod", Value: "automod"},
						{Name: "manual", Value: "manual"},
					},
				},
			},
		},
		{
			Name:        "clearinfractions",
			Description: "Deactivate a user's infractions (history is kept)",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "user to clear", Required: true},
			},
		},
		{
			Name:        "points",
			Description: "Show a user's active infraction points",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "user to inspect", Required: true},
			},
		},
		{
			Name:        "stats",
			Description: "Guild infraction statistics",
		},
		{
			Name:        "mode",
			Description: "Set enforcement mode (audit or normal)",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "value", Description: "audit or normal", Required: true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "audit", Value: "audit"},
						{Name: "normal", Value: "normal"},
					},
				},
			},
		},
		{
			Name:        "automod",
			Description: "Manage automod rules",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "action", Description: "what to do", Required: true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "list", Value: "list"},
						{Name: "add", Value: "add"},
						{Name: "remove", Value: "remove"},
						{Name: "enable", Value: "enable"},
						{Name: "disable", Value: "disable"},
						{Name: "test", Value: "test"},
					},
				},
				{Type: discordgo.ApplicationCommandOptionString, Name: "name", Description: "rule name (add)", Required: false},
				{Type: discordgo.ApplicationCommandOptionString, Name: "patterns", Description: "comma-separated wildcard patterns", Required: false},
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "target", Description: "content the rule inspects", Required: false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "message content", Value: "message_content"},
						{Name: "link", Value: "link"},
						{Name: "message emoji", Value: "message_emoji"},
						{Name: "reaction emoji", Value: "reaction_emoji"},
						{Name: "sticker", Value: "sticker"},
						{Name: "username", Value: "username"},
						{Name: "nickname", Value: "nickname"},
					},
				},
				{Type: discordgo.ApplicationCommandOptionString, Name: "actions", Description: "comma-separated actions (delete,warn,dm,timeout,kick,ban,log)", Required: false},
				{
					Type: discordgo.ApplicationCommandOptionString, Name: "match", Description: "any or all patterns must match", Required: false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "any", Value: "any"},
						{Name: "all", Value: "all"},
					},
				},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "points", Description: "warn points (add)", Required: false},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "timeout_minutes", Description: "timeout length for the timeout action", Required: false},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "priority", Description: "higher runs first", Required: false},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "rule_id", Description: "rule id (remove/enable/disable)", Required: false},
				{Type: discordgo.ApplicationCommandOptionString, Name: "text", Description: "sample text (test)", Required: false},
			},
		},
	}

	for _, command := range commands {
		if _, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", command); err != nil {
			return fmt.Errorf("register %s: %w", command.Name, err)
		}
	}
	return nil
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" {
		b.respond(session, interaction, "This command only works in a server.", true)
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	options := optionMap(data.Options)

	switch data.Name {
	case "warn":
		b.handleWarn(ctx, session, interaction, options)
	case "infractions":
		b.handleInfractions(ctx, session, interaction, options)
	case "clearinfractions":
		b.handleClear(ctx, session, interaction, options)
	case "points":
		b.handlePoints(ctx, session, interaction, options)
	case "stats":
		b.handleStats(ctx, session, interaction)
	case "mode":
		b.handleMode(ctx, session, interaction, options)
	case "automod":
		b.handleAutomod(ctx, session, interaction, options)
	}
}

func (b *Bot) handleWarn(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	user := optionUser(options, "user", session)
	if user == nil {
		b.respond(session, interaction, "User is required.", true)
		return
	}
	points := int(optionInt(options, "points", 1))
	if points < 0 {
		points = 0
	}

	_, total, tier, err := b.automod.RecordManual(ctx, infractions.Record{
		GuildID:     interaction.GuildID,
		UserID:      user.ID,
		ModeratorID: invokerID(interaction),
		Type:        infractions.TypeWarn,
		Reason:      optionString(options, "reason"),
		Points:      points,
	})
	if err != nil {
		b.logger.Warn("warn failed", zap.Error(err))
		b.respond(session, interaction, "Could not record the warning.", true)
		return
	}

	reply := fmt.Sprintf("Warned <@%s> (+%d points, %d active).", user.ID, points, total)
	if tier != nil {
		reply += fmt.Sprintf(" Escalation tier %d fired.", tier.Threshold)
	}
	b.respond(session, interaction, reply, false)
}

func (b *Bot) handleInfractions(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	user := optionUser(options, "user", session)
	if user == nil {
		b.respond(session, interaction, "User is required.", true)
		return
	}

	query := infractions.Query{
		Source: infractions.Source(optionString(options, "source")),
		Page:   int(optionInt(options, "page", 1)),
	}
	items, total := b.ledger.UserInfractions(ctx, interaction.GuildID, user.ID, query)
	if total == 0 {
		b.respond(session, interaction, fmt.Sprintf("<@%s> has no infractions on record.", user.ID), true)
		return
	}

	lines := make([]string, 0, len(items)+1)
	lines = append(lines, fmt.Sprintf("Infractions for <@%s> (%d total):", user.ID, total))
	for _, item := range items {
		state := "active"
		if !item.Active {
			state = "cleared"
		} else if item.ExpiresAt != nil && item.ExpiresAt.Before(time.Now()) {
			state = "expired"
		}
		line := fmt.Sprintf("`#%d` [%s/%s] %s (+%d, %s) %s",
			item.ID, item.Source, item.Type, item.Reason,
			item.PointsAssigned, state, item.CreatedAt.Format("2006-01-02"))
		if item.EscalationTriggered != "" {
			line += " escalated:" + item.EscalationTriggered
		}
		lines = append(lines, line)
	}
	b.respond(session, interaction, strings.Join(lines, "\n"), true)
}

func (b *Bot) handleClear(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	user := optionUser(options, "user", session)
	if user == nil {
		b.respond(session, interaction, "User is required.", true)
		return
	}
	cleared, err := b.automod.ClearUser(ctx, interaction.GuildID, user.ID, invokerID(interaction))
	if err != nil {
		b.logger.Warn("clear failed", zap.Error(err))
		b.respond(session, interaction, "Could not clear infractions.", true)
		return
	}
	b.respond(session, interaction, fmt.Sprintf("Cleared %d infraction(s) for <@%s>. History is preserved.", cleared, user.ID), false)
}

func (b *Bot) handlePoints(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	user := optionUser(options, "user", session)
	if user == nil {
		b.respond(session, interaction, "User is required.", true)
		return
	}
	total := b.ledger.ActivePoints(ctx, interaction.GuildID, user.ID)
	b.respond(session, interaction, fmt.Sprintf("<@%s> has %d active point(s).", user.ID, total), true)
}

func (b *Bot) handleStats(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	stats := b.ledger.GuildStats(ctx, interaction.GuildID)
	lines := []string{
		fmt.Sprintf("Total infractions: %d (%d active)", stats.Total, stats.Active),
	}
	for source, count := range stats.BySource {
		lines = append(lines, fmt.Sprintf("source %s: %d", source, count))
	}
	for kind, count := range stats.ByType {
		lines = append(lines, fmt.Sprintf("type %s: %d", kind, count))
	}
	b.respond(session, interaction, strings.Join(lines, "\n"), true)
}

func (b *Bot) handleMode(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	value := optionString(options, "value")
	settings, err := b.store.GetGuildSettings(ctx, interaction.GuildID, b.defaultSettings(interaction.GuildID))
	if err != nil {
		settings = b.defaultSettings(interaction.GuildID)
	}
	settings.Mode = value
	if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
		b.logger.Warn("mode update failed", zap.Error(err))
		b.respond(session, interaction, "Could not update the mode.", true)
		return
	}
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, invokerID(interaction), "mode_changed", value)
	b.respond(session, interaction, "Mode set to "+value+".", false)
}

func (b *Bot) handleAutomod(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	switch optionString(options, "action") {
	case "list":
		b.automodList(ctx, session, interaction)
	case "add":
		b.automodAdd(ctx, session, interaction, options)
	case "remove":
		b.automodSetState(ctx, session, interaction, options, "remove")
	case "enable":
		b.automodSetState(ctx, session, interaction, options, "enable")
	case "disable":
		b.automodSetState(ctx, session, interaction, options, "disable")
	case "test":
		b.automodTest(session, interaction, options)
	default:
		b.respond(session, interaction, "Unknown action.", true)
	}
}

func (b *Bot) automodList(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	rows, err := b.store.ListRules(ctx, interaction.GuildID)
	if err != nil {
		b.respond(session, interaction, "Could not load rules.", true)
		return
	}
	if len(rows) == 0 {
		b.respond(session, interaction, "No automod rules configured.", true)
		return
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		state := "enabled"
		if !row.Enabled {
			state = "disabled"
		}
		patterns := make([]string, 0, len(row.Patterns))
		for _, pattern := range row.Patterns {
			patterns = append(patterns, pattern.Wildcard)
		}
		lines = append(lines, fmt.Sprintf("`#%d` %s [%s, %s, priority %d] patterns: %s actions: %s",
			row.ID, row.Name, row.Target, state, row.Priority,
			strings.Join(patterns, ", "), strings.Join(row.Actions, ", ")))
	}
	b.respond(session, interaction, strings.Join(lines, "\n"), true)
}

func (b *Bot) automodAdd(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	name := optionString(options, "name")
	rawPatterns := optionString(options, "patterns")
	target := optionString(options, "target")
	rawActions := optionString(options, "actions")
	if name == "" || rawPatterns == "" || target == "" || rawActions == "" {
		b.respond(session, interaction, "add needs name, patterns, target and actions.", true)
		return
	}

	patterns, rejected := wildcard.Compile(rawPatterns)
	if len(rejected) > 0 {
		lines := make([]string, 0, len(rejected))
		for _, invalid := range rejected {
			lines = append(lines, fmt.Sprintf("`%s`: %s", invalid.Segment, invalid.Reason))
		}
		b.respond(session, interaction, "Rejected patterns:\n"+strings.Join(lines, "\n"), true)
		return
	}

	row := storage.RuleRow{
		GuildID:        interaction.GuildID,
		Name:           name,
		Enabled:        true,
		Priority:       int(optionInt(options, "priority", 0)),
		Target:         target,
		MatchMode:      optionString(options, "match"),
		Patterns:       patterns,
		Actions:        splitList(rawActions),
		WarnPoints:     int(optionInt(options, "points", 1)),
		TimeoutSeconds: int(optionInt(options, "timeout_minutes", 0)) * 60,
		CreatedAt:      time.Now(),
	}
	if row.MatchMode == "" {
		row.MatchMode = "any"
	}

	id, err := b.store.CreateRule(ctx, row)
	if err != nil {
		b.logger.Warn("rule create failed", zap.Error(err))
		b.respond(session, interaction, "Could not create the rule: "+err.Error(), true)
		return
	}
	b.rules.Invalidate(interaction.GuildID)
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, invokerID(interaction), "rule_created",
		fmt.Sprintf("rule #%d %q target=%s", id, name, target))
	b.respond(session, interaction, fmt.Sprintf("Rule `#%d` %q created.", id, name), false)
}

func (b *Bot) automodSetState(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption, action string) {
	id := optionInt(options, "rule_id", 0)
	if id <= 0 {
		b.respond(session, interaction, "rule_id is required.", true)
		return
	}

	var err error
	switch action {
	case "remove":
		err = b.store.DeleteRule(ctx, interaction.GuildID, id)
	default:
		var row storage.RuleRow
		row, err = b.store.GetRule(ctx, interaction.GuildID, id)
		if err == nil {
			row.Enabled = action == "enable"
			err = b.store.UpdateRule(ctx, row)
		}
	}
	if err != nil {
		b.respond(session, interaction, "Could not update the rule: "+err.Error(), true)
		return
	}
	b.rules.Invalidate(interaction.GuildID)
	b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, invokerID(interaction), "rule_"+action,
		fmt.Sprintf("rule #%d", id))
	b.respond(session, interaction, fmt.Sprintf("Rule `#%d` %sd.", id, action), false)
}

// automodTest dry-runs a wildcard against sample text without touching
// any stored rule.
func (b *Bot) automodTest(session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	raw := optionString(options, "patterns")
	text := optionString(options, "text")
	if raw == "" || text == "" {
		b.respond(session, interaction, "test needs patterns and text.", true)
		return
	}

	patterns, rejected := wildcard.Compile(raw)
	lines := make([]string, 0, len(patterns)+len(rejected))
	for _, pattern := range patterns {
		verdict := "no match"
		if wildcard.Test(pattern.Wildcard, text) {
			verdict = "MATCH"
		}
		lines = append(lines, fmt.Sprintf("`%s` (%s): %s", pattern.Wildcard, wildcard.Describe(pattern.Wildcard), verdict))
	}
	for _, invalid := range rejected {
		lines = append(lines, fmt.Sprintf("`%s`: rejected (%s)", invalid.Segment, invalid.Reason))
	}
	b.respond(session, interaction, strings.Join(lines, "\n"), true)
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, option := range options {
		out[option.Name] = option
	}
	return out
}

func optionString(options map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	if option, ok := options[name]; ok {
		return option.StringValue()
	}
	return ""
}

func optionInt(options map[string]*discordgo.ApplicationCommandInteractionDataOption, name string, fallback int64) int64 {
	if option, ok := options[name]; ok {
		return option.IntValue()
	}
	return fallback
}

func optionUser(options map[string]*discordgo.ApplicationCommandInteractionDataOption, name string, session *discordgo.Session) *discordgo.User {
	if option, ok := options[name]; ok {
		return option.UserValue(session)
	}
	return nil
}

func invokerID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
