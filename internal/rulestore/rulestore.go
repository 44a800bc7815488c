// Package rulestore loads a guild's enabled automod rules, compiles their
// patterns once, and caches the compiled set. Rule evaluation runs on
// every message, so the store sits behind an in-memory cache with
// singleflight collapsing concurrent misses for the same guild.
package rulestore

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"heimdall/internal/rules"
	"heimdall/internal/storage"
)

const cacheTTL = 5 * time.Minute

type Store struct {
	backend *storage.Store
	logger  *zap.Logger
	cache   *ristretto.Cache
	group   singleflight.Group
}

func New(backend *storage.Store, logger *zap.Logger) (*Store, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("rule cache init: %w", err)
	}
	return &Store{backend: backend, logger: logger, cache: cache}, nil
}

// EnabledRules returns the compiled, enabled rule set for a guild.
// Patterns that fail to compile are dropped with a warning; a rule whose
// patterns all fail is dropped entirely.
func (s *Store) EnabledRules(ctx context.Context, guildID string) ([]rules.CompiledRule, error) {
	if cached, found := s.cache.Get(guildID); found {
		if set, ok := cached.([]rules.CompiledRule); ok {
			return set, nil
		}
	}

	value, err, _ := s.group.Do(guildID, func() (any, error) {
		rows, err := s.backend.ListEnabledRules(ctx, guildID)
		if err != nil {
			return nil, err
		}
		set := s.compile(guildID, rows)
		s.cache.SetWithTTL(guildID, set, int64(len(set)+1), cacheTTL)
		s.cache.Wait()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]rules.CompiledRule), nil
}

// Invalidate drops a guild's cached set. Call after any rule mutation.
func (s *Store) Invalidate(guildID string) {
	s.cache.Del(guildID)
}

func (s *Store) compile(guildID string, rows []storage.RuleRow) []rules.CompiledRule {
	set := make([]rules.CompiledRule, 0, len(rows))
	for _, row := range rows {
		rule, err := FromRow(row)
		if err != nil {
			s.logger.Warn("skipping malformed rule",
				zap.String("guild_id", guildID),
				zap.Int64("rule_id", row.ID),
				zap.Error(err))
			continue
		}
		compiled := rules.CompileRule(rule)
		if len(compiled.Regexps) == 0 {
			s.logger.Warn("skipping rule with no compilable patterns",
				zap.String("guild_id", guildID),
				zap.Int64("rule_id", row.ID))
			continue
		}
		if len(compiled.Regexps) < len(row.Patterns) {
			s.logger.Warn("rule has stale patterns",
				zap.String("guild_id", guildID),
				zap.Int64("rule_id", row.ID),
				zap.Int("dropped", len(row.Patterns)-len(compiled.Regexps)))
		}
		set = append(set, compiled)
	}
	return set
}

// FromRow converts a stored rule into the evaluation model.
func FromRow(row storage.RuleRow) (rules.Rule, error) {
	if !rules.ValidTarget(row.Target) {
		return rules.Rule{}, fmt.Errorf("unknown target %q", row.Target)
	}
	timeout := time.Duration(row.TimeoutSeconds) * time.Second
	actions, err := rules.ActionsFromNames(row.Actions, row.WarnPoints, timeout)
	if err != nil {
		return rules.Rule{}, err
	}
	mode := rules.MatchMode(row.MatchMode)
	if mode != rules.MatchAll {
		mode = rules.MatchAny
	}
	return rules.Rule{
		ID:              row.ID,
		GuildID:         row.GuildID,
		Name:            row.Name,
		Enabled:         row.Enabled,
		Priority:        row.Priority,
		Target:          rules.Target(row.Target),
		Patterns:        row.Patterns,
		MatchMode:       mode,
		Actions:         actions,
		WarnPoints:      row.WarnPoints,
		TimeoutDuration: timeout,
		ChannelInclude:  row.ChannelInclude,
		ChannelExclude:  row.ChannelExclude,
		RoleInclude:     row.RoleInclude,
		RoleExclude:     row.RoleExclude,
	}, nil
}
