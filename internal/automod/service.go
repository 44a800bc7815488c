// Package automod ties the pipeline together: load the guild's compiled
// rules, evaluate the inbound event, execute the matched rule's actions,
// write the infraction, and fire any escalation tier the new total
// crosses. Enforcement reads fail open so a storage hiccup never blocks
// message processing; the infraction write itself always surfaces.
package automod

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"heimdall/internal/audit"
	"heimdall/internal/escalation"
	"heimdall/internal/infractions"
	"heimdall/internal/metrics"
	"heimdall/internal/rules"
	"heimdall/internal/rulestore"
	"heimdall/internal/storage"
)

// Executor applies moderation effects on the platform. The bot provides
// the Discord-backed implementation; tests substitute a fake.
type Executor interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	RemoveReaction(ctx context.Context, channelID, messageID, userID, emoji string) error
	SendDM(ctx context.Context, userID, message string) error
	Timeout(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
}

type Deps struct {
	Rules    *rulestore.Store
	Ledger   *infractions.Ledger
	Resolver *escalation.Resolver
	Store    *storage.Store
	Audit    *audit.Logger
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Executor Executor

	// Defaults fill in for guilds that never saved settings.
	Defaults storage.GuildSettings
}

type Service struct {
	deps Deps
}

func New(deps Deps) *Service {
	return &Service{deps: deps}
}

// SetExecutor binds the platform executor. The bot calls this once its
// session exists; until then matched rules are ledgered but not acted on.
func (s *Service) SetExecutor(executor Executor) {
	s.deps.Executor = executor
}

// Outcome reports what one event produced.
type Outcome struct {
	Match      *rules.Match
	Infraction storage.InfractionRow
	Total      int
	Tier       *escalation.Tier
	AuditMode  bool
}

// Process evaluates one content event. It returns nil when no rule
// triggers. In audit mode the match is still ledgered and logged but no
// platform action runs. A failed infraction write returns the partial
// outcome together with the error.
func (s *Service) Process(ctx context.Context, event rules.ContentEvent) (*Outcome, error) {
	settings := s.guildSettings(ctx, event.GuildID)

	ruleSet, err := s.deps.Rules.EnabledRules(ctx, event.GuildID)
	if err != nil {
		s.deps.Logger.Warn("rule load failed, skipping enforcement",
			zap.String("guild_id", event.GuildID), zap.Error(err))
		return nil, nil
	}

	s.deps.Metrics.Evaluations.Inc()
	start := time.Now()
	match := rules.Evaluate(ruleSet, event)
	s.deps.Metrics.EvalDuration.Observe(time.Since(start).Seconds())
	if match == nil {
		return nil, nil
	}
	s.deps.Metrics.Matches.WithLabelValues(string(event.Type)).Inc()

	outcome := &Outcome{Match: match, AuditMode: settings.Mode == "audit"}
	reason := fmt.Sprintf("automod rule %q", match.Rule.Name)

	if !outcome.AuditMode {
		s.execute(ctx, event, match.Rule.Actions, reason)
	}

	points := 0
	for _, action := range match.Rule.Actions {
		if warn, ok := action.(rules.Warn); ok {
			points = warn.Points
		}
	}

	row, total, err := s.deps.Ledger.RecordInfraction(ctx, infractions.Record{
		GuildID:        event.GuildID,
		UserID:         event.AuthorID,
		Source:         infractions.SourceAutomod,
		Type:           typeForTarget(event.Type),
		Reason:         reason,
		RuleID:         match.Rule.ID,
		MatchedContent: match.MatchedContent,
		MatchedPattern: match.Pattern.Wildcard,
		Points:         points,
	}, decayPolicy(settings))
	if err != nil {
		return outcome, fmt.Errorf("record infraction: %w", err)
	}
	outcome.Infraction = row
	outcome.Total = total
	s.deps.Metrics.Infractions.WithLabelValues(string(infractions.SourceAutomod), row.Type).Inc()

	s.deps.Audit.Log(ctx, audit.LevelWarn, event.GuildID, event.AuthorID, "automod_match",
		fmt.Sprintf("rule %q pattern %q matched %q (+%d points, total %d)",
			match.Rule.Name, match.Pattern.Wildcard, match.MatchedContent, points, total))

	outcome.Tier = s.escalate(ctx, event.GuildID, event.AuthorID, total-points, total, settings, outcome.AuditMode)
	return outcome, nil
}

// RecordManual ledgers a staff-issued infraction (warn, manual timeout
// note, and so on) and runs it through the same escalation ladder.
func (s *Service) RecordManual(ctx context.Context, rec infractions.Record) (storage.InfractionRow, int, *escalation.Tier, error) {
	settings := s.guildSettings(ctx, rec.GuildID)
	rec.Source = infractions.SourceManual

	row, total, err := s.deps.Ledger.RecordInfraction(ctx, rec, decayPolicy(settings))
	if err != nil {
		return storage.InfractionRow{}, 0, nil, err
	}
	s.deps.Metrics.Infractions.WithLabelValues(string(infractions.SourceManual), row.Type).Inc()

	s.deps.Audit.Log(ctx, audit.LevelInfo, rec.GuildID, rec.UserID, "manual_infraction",
		fmt.Sprintf("%s by %s: %s (+%d points, total %d)",
			rec.Type, rec.ModeratorID, rec.Reason, rec.Points, total))

	tier := s.escalate(ctx, rec.GuildID, rec.UserID, total-rec.Points, total, settings, settings.Mode == "audit")
	return row, total, tier, nil
}

// ClearUser deactivates a user's infractions and re-arms their
// escalation ladder. History rows are preserved.
func (s *Service) ClearUser(ctx context.Context, guildID, userID, moderatorID string) (int, error) {
	cleared, err := s.deps.Ledger.ClearUserInfractions(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}
	s.deps.Resolver.Reset(guildID, userID)
	s.deps.Audit.Log(ctx, audit.LevelInfo, guildID, userID, "infractions_cleared",
		fmt.Sprintf("%d entries deactivated by %s", cleared, moderatorID))
	return cleared, nil
}

// escalate fires at most one tier for the move from prev to next points.
// The tier is ledgered as its own zero-point entry so history shows when
// and why the ladder fired.
func (s *Service) escalate(ctx context.Context, guildID, userID string, prev, next int, settings storage.GuildSettings, auditMode bool) *escalation.Tier {
	tiers := s.tiers(guildID, settings.EscalationTiers)
	tier := s.deps.Resolver.Resolve(guildID, userID, prev, next, tiers, settings.EscalationRearm)
	if tier == nil {
		return nil
	}
	s.deps.Metrics.Escalations.Inc()

	if _, _, err := s.deps.Ledger.RecordInfraction(ctx, infractions.Record{
		GuildID:    guildID,
		UserID:     userID,
		Source:     infractions.SourceAutomod,
		Type:       infractions.TypeEscalation,
		Reason:     fmt.Sprintf("escalation tier %d reached at %d points", tier.Threshold, next),
		Escalation: fmt.Sprintf("tier_%d", tier.Threshold),
	}, decayPolicy(settings)); err != nil {
		s.deps.Logger.Error("escalation marker write failed",
			zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
	}

	if !auditMode {
		reason := fmt.Sprintf("escalation: %d active points", next)
		s.execute(ctx, rules.ContentEvent{GuildID: guildID, AuthorID: userID}, tier.Actions, reason)
	}

	s.deps.Audit.Log(ctx, audit.LevelCrit, guildID, userID, "escalation",
		fmt.Sprintf("tier %d fired at %d active points", tier.Threshold, next))
	return tier
}

// execute applies each action, logging failures individually so one
// broken effect (a closed DM, a missing message) never blocks the rest.
func (s *Service) execute(ctx context.Context, event rules.ContentEvent, actions []rules.Action, reason string) {
	if s.deps.Executor == nil {
		return
	}
	for _, action := range actions {
		var err error
		switch a := action.(type) {
		case rules.DeleteMessage:
			if event.MessageID != "" {
				err = s.deps.Executor.DeleteMessage(ctx, event.ChannelID, event.MessageID)
			}
		case rules.RemoveReaction:
			if event.MessageID != "" && event.Emoji != "" {
				err = s.deps.Executor.RemoveReaction(ctx, event.ChannelID, event.MessageID, event.AuthorID, event.Emoji)
			}
		case rules.SendDM:
			message := a.Message
			if message == "" {
				message = fmt.Sprintf("Your content was flagged: %s", reason)
			}
			err = s.deps.Executor.SendDM(ctx, event.AuthorID, message)
		case rules.Warn:
			err = s.deps.Executor.SendDM(ctx, event.AuthorID,
				fmt.Sprintf("You received a warning (%d points): %s", a.Points, reason))
		case rules.Timeout:
			err = s.deps.Executor.Timeout(ctx, event.GuildID, event.AuthorID, a.Duration, reason)
		case rules.Kick:
			err = s.deps.Executor.Kick(ctx, event.GuildID, event.AuthorID, reason)
		case rules.Ban:
			err = s.deps.Executor.Ban(ctx, event.GuildID, event.AuthorID, reason)
		case rules.LogOnly:
			// ledgered and audited either way
		}
		if err != nil {
			s.deps.Logger.Warn("action failed",
				zap.String("action", action.Name()),
				zap.String("guild_id", event.GuildID),
				zap.String("user_id", event.AuthorID),
				zap.Error(err))
		}
	}
}

func (s *Service) guildSettings(ctx context.Context, guildID string) storage.GuildSettings {
	settings, err := s.deps.Store.GetGuildSettings(ctx, guildID, s.deps.Defaults)
	if err != nil {
		s.deps.Logger.Warn("settings lookup failed, using defaults",
			zap.String("guild_id", guildID), zap.Error(err))
		settings = s.deps.Defaults
		settings.GuildID = guildID
	}
	return settings
}

func (s *Service) tiers(guildID string, rows []storage.TierRow) []escalation.Tier {
	tiers := make([]escalation.Tier, 0, len(rows))
	for _, row := range rows {
		actions, err := rules.ActionsFromNames(row.Actions, 0, time.Duration(row.TimeoutSeconds)*time.Second)
		if err != nil {
			s.deps.Logger.Warn("skipping malformed escalation tier",
				zap.String("guild_id", guildID),
				zap.Int("threshold", row.Threshold),
				zap.Error(err))
			continue
		}
		tiers = append(tiers, escalation.Tier{Threshold: row.Threshold, Actions: actions})
	}
	return tiers
}

func typeForTarget(target rules.Target) infractions.Type {
	switch target {
	case rules.TargetReactionEmoji:
		return infractions.TypeAutomodReaction
	case rules.TargetUsername, rules.TargetNickname:
		return infractions.TypeAutomodUsername
	default:
		return infractions.TypeAutomodDelete
	}
}

func decayPolicy(settings storage.GuildSettings) infractions.DecayPolicy {
	return infractions.DecayPolicy{
		Enabled: settings.PointDecayEnabled,
		Days:    settings.PointDecayDays,
	}
}
