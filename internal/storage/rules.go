package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"heimdall/internal/wildcard"
)

// RuleRow is the stored form of an automod rule. Pattern, action and
// scope lists live in JSON columns.
type RuleRow struct {
	ID             int64
	GuildID        string
	Name           string
	Enabled        bool
	Priority       int
	Target         string
	MatchMode      string
	Patterns       []wildcard.Pattern
	Actions        []string
	WarnPoints     int
	TimeoutSeconds int
	ChannelInclude []string
	ChannelExclude []string
	RoleInclude    []string
	RoleExclude    []string
	CreatedAt      time.Time
}

var ErrRuleNotFound = errors.New("rule not found")

func (s *Store) CreateRule(ctx context.Context, rule RuleRow) (int64, error) {
	if len(rule.Patterns) == 0 {
		return 0, errors.New("rule needs at least one pattern")
	}
	if len(rule.Actions) == 0 {
		return 0, errors.New("rule needs at least one action")
	}

	patterns, err := json.Marshal(rule.Patterns)
	if err != nil {
		return 0, fmt.Errorf("encode patterns: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return 0, fmt.Errorf("encode actions: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO automod_rules (
			guild_id, name, enabled, priority, target, match_mode,
			patterns, actions, warn_points, timeout_seconds,
			channel_include, channel_exclude, role_include, role_exclude,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.GuildID,
		rule.Name,
		boolToInt(rule.Enabled),
		rule.Priority,
		rule.Target,
		rule.MatchMode,
		string(patterns),
		string(actions),
		rule.WarnPoints,
		rule.TimeoutSeconds,
		encodeList(rule.ChannelInclude),
		encodeList(rule.ChannelExclude),
		encodeList(rule.RoleInclude),
		encodeList(rule.RoleExclude),
		rule.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Store) UpdateRule(ctx context.Context, rule RuleRow) error {
	patterns, err := json.Marshal(rule.Patterns)
	if err != nil {
		return fmt.Errorf("encode patterns: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return fmt.Errorf("encode actions: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE automod_rules SET
			name = ?, enabled = ?, priority = ?, target = ?, match_mode = ?,
			patterns = ?, actions = ?, warn_points = ?, timeout_seconds = ?,
			channel_include = ?, channel_exclude = ?, role_include = ?, role_exclude = ?
		WHERE id = ? AND guild_id = ?
	`,
		rule.Name,
		boolToInt(rule.Enabled),
		rule.Priority,
		rule.Target,
		rule.MatchMode,
		string(patterns),
		string(actions),
		rule.WarnPoints,
		rule.TimeoutSeconds,
		encodeList(rule.ChannelInclude),
		encodeList(rule.ChannelExclude),
		encodeList(rule.RoleInclude),
		encodeList(rule.RoleExclude),
		rule.ID,
		rule.GuildID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, guildID string, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM automod_rules WHERE id = ? AND guild_id = ?`, id, guildID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, guildID string, id int64) (RuleRow, error) {
	rows, err := s.queryRules(ctx, `WHERE id = ? AND guild_id = ?`, id, guildID)
	if err != nil {
		return RuleRow{}, err
	}
	if len(rows) == 0 {
		return RuleRow{}, ErrRuleNotFound
	}
	return rows[0], nil
}

func (s *Store) ListRules(ctx context.Context, guildID string) ([]RuleRow, error) {
	return s.queryRules(ctx, `WHERE guild_id = ? ORDER BY priority DESC, id`, guildID)
}

func (s *Store) ListEnabledRules(ctx context.Context, guildID string) ([]RuleRow, error) {
	return s.queryRules(ctx, `WHERE guild_id = ? AND enabled = 1 ORDER BY priority DESC, id`, guildID)
}

func (s *Store) queryRules(ctx context.Context, where string, args ...any) ([]RuleRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, name, enabled, priority, target, match_mode,
		patterns, actions, warn_points, timeout_seconds,
		channel_include, channel_exclude, role_include, role_exclude, created_at
		FROM automod_rules `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RuleRow
	for rows.Next() {
		var rule RuleRow
		var enabled int
		var patterns, actions, chInc, chExc, roInc, roExc string
		var created int64
		if err := rows.Scan(
			&rule.ID, &rule.GuildID, &rule.Name, &enabled, &rule.Priority,
			&rule.Target, &rule.MatchMode, &patterns, &actions,
			&rule.WarnPoints, &rule.TimeoutSeconds,
			&chInc, &chExc, &roInc, &roExc, &created,
		); err != nil {
			return nil, err
		}
		rule.Enabled = enabled == 1
		rule.CreatedAt = time.Unix(created, 0)
		if err := json.Unmarshal([]byte(patterns), &rule.Patterns); err != nil {
			return nil, fmt.Errorf("decode patterns for rule %d: %w", rule.ID, err)
		}
		if err := json.Unmarshal([]byte(actions), &rule.Actions); err != nil {
			return nil, fmt.Errorf("decode actions for rule %d: %w", rule.ID, err)
		}
		rule.ChannelInclude = decodeList(chInc)
		rule.ChannelExclude = decodeList(chExc)
		rule.RoleInclude = decodeList(roInc)
		rule.RoleExclude = decodeList(roExc)
		out = append(out, rule)
	}
	return out, rows.Err()
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func decodeList(encoded string) []string {
	var values []string
	if err := json.Unmarshal([]byte(encoded), &values); err != nil {
		return nil
	}
	return values
}
